// Package model defines shared data types used across the OI gatherer.
//
// All types mirror the database schema created by internal/database.
//
// Conventions:
//   - Prices and strikes: shopspring decimal, never float64
//   - Open interest and volume: int64 contract counts
//   - Timestamps: time.Time; TradeDate is midnight of the market-local day
//   - IDs: int64 surrogate keys (bigserial), monotonic in insertion order
package model
