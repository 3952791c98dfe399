package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *GathererConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Source.BaseURL == "" {
		return errors.New("source.base_url is required")
	}
	if c.Source.MaxAttempts < 1 {
		return errors.New("source.max_attempts must be >= 1")
	}
	if c.Source.Backoff < 0 || c.Source.MaxJitter < 0 {
		return errors.New("source.backoff and source.max_jitter must be >= 0")
	}
	if c.Source.RateLimit <= 0 {
		return fmt.Errorf("source.rate_limit must be > 0, got %v", c.Source.RateLimit)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if c.Scheduler.BatchSize < 1 {
		return errors.New("scheduler.batch_size must be >= 1")
	}
	if c.Scheduler.MinItemDelay > c.Scheduler.MaxItemDelay {
		return fmt.Errorf("scheduler.min_item_delay (%s) cannot exceed max_item_delay (%s)",
			c.Scheduler.MinItemDelay, c.Scheduler.MaxItemDelay)
	}

	if c.Cache.TTL < time.Second {
		return errors.New("cache.ttl must be >= 1s")
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone %q: %w", c.Market.Timezone, err)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	if c.Retention.KeepDays < 0 {
		return errors.New("retention.keep_days must be >= 0")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
