package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrFetchFailed matches every error returned by FetchChain.
	ErrFetchFailed = errors.New("option chain fetch failed")
	// ErrMalformedPayload matches responses missing required fields.
	ErrMalformedPayload = errors.New("malformed option chain payload")
)

// APIError represents a non-success status from the upstream source.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for statuses that usually clear on their own.
// FetchChain retries everything; this only drives logging levels.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// sessionRejected reports whether the upstream refused our cookies.
func (e *APIError) sessionRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// PayloadError is a response that decoded badly or lacks a required field.
type PayloadError struct {
	Field string
	Err   error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload (%s): %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed payload: missing %s", e.Field)
}

func (e *PayloadError) Unwrap() error { return e.Err }

func (e *PayloadError) Is(target error) bool { return target == ErrMalformedPayload }

// FetchError is returned once all attempts for a symbol are exhausted.
type FetchError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Symbol, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// FetchChain returns the validated option chain for symbol.
func (c *Client) FetchChain(ctx context.Context, symbol string) (*OptionChain, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	path := c.chainPath(symbol)

	var lastErr error
	backoff := c.backoff
	attempts := 0

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff + c.jitter()
			c.logger.Debug("retrying option chain fetch",
				"symbol", symbol,
				"attempt", attempt,
				"backoff", delay,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				lastErr = err
				break
			}
			backoff *= 2
		}

		attempts = attempt
		chain, err := c.fetchOnce(ctx, path, symbol)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("option chain fetch recovered", "symbol", symbol, "attempts", attempt)
			}
			return chain, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if shouldResetSession(err) {
			c.resetSession()
		}

		level := c.logger.Warn
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsRetryable() {
			level = c.logger.Info
		}
		level("option chain fetch attempt failed",
			"symbol", symbol,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"err", err,
		)
	}

	return nil, &FetchError{Symbol: symbol, Attempts: attempts, Err: lastErr}
}

// fetchOnce performs a single session-backed request and validation.
func (c *Client) fetchOnce(ctx context.Context, path, symbol string) (*OptionChain, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetHeader("Referer", c.baseURL+c.homePath).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &APIError{
			StatusCode: code,
			Message:    http.StatusText(code),
			Body:       resp.Body(),
		}
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		return nil, &PayloadError{Field: "body"}
	}

	var chain OptionChain
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, &PayloadError{Field: "body", Err: err}
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return &chain, nil
}

// ensureSession primes the cookie jar from the home page once per session.
func (c *Client) ensureSession(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.sessionReady {
		return nil
	}

	c.jar.Reset()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeader("Accept", "text/html").Get(c.homePath)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("establish session: %w", &APIError{
			StatusCode: code,
			Message:    http.StatusText(code),
			Body:       resp.Body(),
		})
	}

	c.sessionReady = true
	c.logger.Debug("upstream session established", "cookies", len(resp.Cookies()))
	return nil
}

// resetSession forces the next request to bootstrap a fresh session.
func (c *Client) resetSession() {
	c.sessionMu.Lock()
	c.sessionReady = false
	c.sessionMu.Unlock()
}

func shouldResetSession(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.sessionRejected()
	}
	return errors.Is(err, ErrMalformedPayload)
}

func (c *Client) jitter() time.Duration {
	if c.maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(c.maxJitter)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
