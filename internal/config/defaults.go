package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL        = "https://www.nseindia.com"
	DefaultHomePath       = "/option-chain"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultSourceTimeout  = 10 * time.Second
	DefaultMaxAttempts    = 4
	DefaultBackoff        = 800 * time.Millisecond
	DefaultMaxJitter      = 500 * time.Millisecond
	DefaultRateLimit      = 2.0
	DefaultRateBurst      = 1
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 10
	DefaultMinConns       = 2
	DefaultCycleInterval  = 15 * time.Second
	DefaultBatchSize      = 25
	DefaultMinItemDelay   = 500 * time.Millisecond
	DefaultMaxItemDelay   = 2 * time.Second
	DefaultMaxSleepJitter = time.Second
	DefaultItemTimeout    = 45 * time.Second
	DefaultInitialDelay   = 5 * time.Second
	DefaultCacheTTL       = 60 * time.Second
	DefaultTimezone       = "Asia/Kolkata"
	DefaultHTTPPort       = 8080
	DefaultRetentionCron  = "0 30 20 * * *"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultLogMaxSizeMB   = 100
	DefaultLogMaxAgeDays  = 14
)

// DefaultIndexSymbols are served by the indices endpoint; everything else is an equity.
var DefaultIndexSymbols = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY"}

func (c *GathererConfig) applyDefaults() {
	// Source defaults
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = DefaultBaseURL
	}
	if c.Source.HomePath == "" {
		c.Source.HomePath = DefaultHomePath
	}
	if len(c.Source.IndexSymbols) == 0 {
		c.Source.IndexSymbols = append([]string(nil), DefaultIndexSymbols...)
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = DefaultUserAgent
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = DefaultSourceTimeout
	}
	if c.Source.MaxAttempts == 0 {
		c.Source.MaxAttempts = DefaultMaxAttempts
	}
	if c.Source.Backoff == 0 {
		c.Source.Backoff = DefaultBackoff
	}
	if c.Source.MaxJitter == 0 {
		c.Source.MaxJitter = DefaultMaxJitter
	}
	if c.Source.RateLimit == 0 {
		c.Source.RateLimit = DefaultRateLimit
	}
	if c.Source.RateBurst == 0 {
		c.Source.RateBurst = DefaultRateBurst
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Scheduler defaults
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = DefaultCycleInterval
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = DefaultBatchSize
	}
	if c.Scheduler.MinItemDelay == 0 {
		c.Scheduler.MinItemDelay = DefaultMinItemDelay
	}
	if c.Scheduler.MaxItemDelay == 0 {
		c.Scheduler.MaxItemDelay = DefaultMaxItemDelay
	}
	if c.Scheduler.MaxSleepJitter == 0 {
		c.Scheduler.MaxSleepJitter = DefaultMaxSleepJitter
	}
	if c.Scheduler.ItemTimeout == 0 {
		c.Scheduler.ItemTimeout = DefaultItemTimeout
	}
	if c.Scheduler.InitialDelay == 0 {
		c.Scheduler.InitialDelay = DefaultInitialDelay
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = DefaultTimezone
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = DefaultRetentionCron
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}
