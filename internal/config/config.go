package config

import (
	"time"
	_ "time/tzdata" // market timezone must resolve on hosts without zoneinfo
)

// GathererConfig is the root configuration for a gatherer instance.
type GathererConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Source    SourceConfig    `yaml:"source"`
	Database  DBConfig        `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Market    MarketConfig    `yaml:"market"`
	HTTP      HTTPConfig      `yaml:"http"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this gatherer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SourceConfig holds upstream option-chain source settings.
type SourceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	HomePath     string        `yaml:"home_path"`     // Page that issues the session cookies
	IndexSymbols []string      `yaml:"index_symbols"` // Symbols served by the indices endpoint
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`    // First retry delay, doubled per attempt
	MaxJitter    time.Duration `yaml:"max_jitter"` // Upper bound of the random addend per retry
	RateLimit    float64       `yaml:"rate_limit"` // Requests per second
	RateBurst    int           `yaml:"rate_burst"`
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SchedulerConfig holds rotation scheduler settings. Interval and BatchSize
// are process-start defaults; the meta store overrides them per cycle.
type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	MinItemDelay   time.Duration `yaml:"min_item_delay"`
	MaxItemDelay   time.Duration `yaml:"max_item_delay"`
	MaxSleepJitter time.Duration `yaml:"max_sleep_jitter"`
	ItemTimeout    time.Duration `yaml:"item_timeout"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
}

// CacheConfig holds snapshot cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// MarketConfig holds exchange calendar settings.
type MarketConfig struct {
	Timezone string `yaml:"timezone"`
}

// HTTPConfig holds query API server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// RetentionConfig holds pruning settings. KeepDays 0 disables pruning.
type RetentionConfig struct {
	Schedule string `yaml:"schedule"`
	KeepDays int    `yaml:"keep_days"`
}

// LoggingConfig holds log output settings. An empty File logs to stdout.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Location resolves the market timezone, falling back to UTC.
func (c MarketConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
