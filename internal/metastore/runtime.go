package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Meta store keys.
const (
	KeyRotationCursor     = "scheduler.rotation_cursor"
	KeyLastCycleCompleted = "scheduler.last_cycle_completed_at"
	KeyCycleInterval      = "runtime.cycle_interval_seconds"
	KeyBatchSize          = "runtime.batch_size"
)

var (
	// ErrConfigParse matches every *ParseError.
	ErrConfigParse = errors.New("stored config value is invalid")
	// ErrInvalidValue is returned by setters for out-of-range values.
	ErrInvalidValue = errors.New("invalid runtime value")
)

// ParseError reports a stored value that could not be used.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrConfigParse }

// Tunables are the hot-reloadable scheduler parameters.
type Tunables struct {
	CycleInterval time.Duration
	BatchSize     int
}

// RuntimeConfig reads and writes the runtime tunables.
type RuntimeConfig struct {
	store  Store
	logger *slog.Logger
}

// NewRuntimeConfig creates a RuntimeConfig over store.
func NewRuntimeConfig(store Store, logger *slog.Logger) *RuntimeConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeConfig{store: store, logger: logger}
}

// Load returns the stored tunables, substituting the matching default for any
// value that is absent, unreadable or invalid. It never fails.
func (r *RuntimeConfig) Load(ctx context.Context, defaults Tunables) Tunables {
	out := defaults

	if secs, ok := getOrDefault(ctx, r, KeyCycleInterval, parseSeconds); ok {
		out.CycleInterval = secs
	}
	if n, ok := getOrDefault(ctx, r, KeyBatchSize, parsePositiveInt); ok {
		out.BatchSize = n
	}
	return out
}

// SetCycleInterval stores a new cycle interval, applied from the next cycle.
func (r *RuntimeConfig) SetCycleInterval(ctx context.Context, d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("%w: cycle interval must be >= 1s, got %s", ErrInvalidValue, d)
	}
	return r.store.Set(ctx, KeyCycleInterval, strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

// SetBatchSize stores a new batch size, applied from the next cycle.
func (r *RuntimeConfig) SetBatchSize(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidValue, n)
	}
	return r.store.Set(ctx, KeyBatchSize, strconv.Itoa(n))
}

// getOrDefault returns the parsed value of key, or false when the caller
// should keep its default.
func getOrDefault[T any](ctx context.Context, r *RuntimeConfig, key string, parse func(string) (T, error)) (T, bool) {
	var zero T
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("runtime config unavailable, using default", "key", key, "err", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		r.logger.Warn("runtime config invalid, using default",
			"err", &ParseError{Key: key, Value: raw, Err: err})
		return zero, false
	}
	return v, true
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be a positive number of seconds")
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be >= 1")
	}
	return n, nil
}
