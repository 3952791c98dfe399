// Package api provides the option-chain source client.
//
// Endpoints (relative to the configured base URL):
//   - Session bootstrap: {home_path}, sets the cookies reused by later calls
//   - Indices: /api/option-chain-indices?symbol=NIFTY
//   - Equities: /api/option-chain-equities?symbol=RELIANCE
//
// Every failure is retried with exponential backoff and jitter. Callers only
// ever see a payload that passed the minimum-fields check, or a *FetchError.
package api
