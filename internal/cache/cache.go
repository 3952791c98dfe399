// Package cache holds recently fetched option chains in process memory.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/oi-gatherer/internal/api"
)

// Fetcher retrieves an option chain from upstream.
type Fetcher interface {
	FetchChain(ctx context.Context, symbol string) (*api.OptionChain, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, symbol string) (*api.OptionChain, error)

// FetchChain calls f(ctx, symbol).
func (f FetcherFunc) FetchChain(ctx context.Context, symbol string) (*api.OptionChain, error) {
	return f(ctx, symbol)
}

type entry struct {
	chain     *api.OptionChain
	fetchedAt time.Time
}

// Cache maps symbol to the last successfully fetched chain.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache in front of fetcher. Entries younger than ttl are
// served without an upstream call.
func New(fetcher Fetcher, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the cached chain for symbol if it is fresh, otherwise
// fetches it. Concurrent misses for one symbol share a single fetch. A failed
// fetch leaves any stale entry in place and returns the error.
func (c *Cache) GetOrFetch(ctx context.Context, symbol string) (*api.OptionChain, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	if chain, ok := c.fresh(key); ok {
		return chain, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A caller that lost the race may find the entry already refreshed.
		if chain, ok := c.fresh(key); ok {
			return chain, nil
		}

		chain, err := c.fetcher.FetchChain(ctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{chain: chain, fetchedAt: c.now()}
		c.mu.Unlock()
		return chain, nil
	})
	if err != nil {
		c.logger.Debug("cache fetch failed", "symbol", key, "shared", shared, "err", err)
		return nil, err
	}
	return v.(*api.OptionChain), nil
}

func (c *Cache) fresh(key string) (*api.OptionChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.chain, true
}

// Len returns the number of entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops the entry for symbol so the next call fetches.
func (c *Cache) Purge(symbol string) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
