package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-gatherer
source:
  base_url: http://127.0.0.1:9999
  index_symbols: [NIFTY, BANKNIFTY]
  max_attempts: 3
database:
  host: localhost
  port: 5432
  name: oi
  user: testuser
  password: testpass
scheduler:
  interval: 30s
  batch_size: 10
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-gatherer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-gatherer")
	}
	if cfg.Source.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("Source.BaseURL = %q, want %q", cfg.Source.BaseURL, "http://127.0.0.1:9999")
	}
	if len(cfg.Source.IndexSymbols) != 2 || cfg.Source.IndexSymbols[1] != "BANKNIFTY" {
		t.Errorf("Source.IndexSymbols = %v, want [NIFTY BANKNIFTY]", cfg.Source.IndexSymbols)
	}
	if cfg.Source.MaxAttempts != 3 {
		t.Errorf("Source.MaxAttempts = %d, want 3", cfg.Source.MaxAttempts)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 30s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.BatchSize != 10 {
		t.Errorf("Scheduler.BatchSize = %d, want 10", cfg.Scheduler.BatchSize)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-gatherer
database:
  host: localhost
  name: oi
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("OI_TEST_FROM_DOTENV=dotenv\nOI_TEST_PRESET=dotenv\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("OI_TEST_PRESET", "process")
	t.Setenv("OI_TEST_FROM_DOTENV", "")
	os.Unsetenv("OI_TEST_FROM_DOTENV")

	if err := LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	if got := os.Getenv("OI_TEST_FROM_DOTENV"); got != "dotenv" {
		t.Errorf("OI_TEST_FROM_DOTENV = %q, want %q", got, "dotenv")
	}
	if got := os.Getenv("OI_TEST_PRESET"); got != "process" {
		t.Errorf("OI_TEST_PRESET = %q, want existing value %q", got, "process")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-gatherer
database:
  host: localhost
  name: oi
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Source.BaseURL != DefaultBaseURL {
		t.Errorf("Source.BaseURL = %q, want default %q", cfg.Source.BaseURL, DefaultBaseURL)
	}
	if cfg.Source.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Source.MaxAttempts = %d, want default %d", cfg.Source.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Source.Backoff != DefaultBackoff {
		t.Errorf("Source.Backoff = %v, want default %v", cfg.Source.Backoff, DefaultBackoff)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Scheduler.Interval != DefaultCycleInterval {
		t.Errorf("Scheduler.Interval = %v, want default %v", cfg.Scheduler.Interval, DefaultCycleInterval)
	}
	if cfg.Scheduler.BatchSize != DefaultBatchSize {
		t.Errorf("Scheduler.BatchSize = %d, want default %d", cfg.Scheduler.BatchSize, DefaultBatchSize)
	}
	if cfg.Cache.TTL != DefaultCacheTTL {
		t.Errorf("Cache.TTL = %v, want default %v", cfg.Cache.TTL, DefaultCacheTTL)
	}
	if cfg.Market.Timezone != DefaultTimezone {
		t.Errorf("Market.Timezone = %q, want default %q", cfg.Market.Timezone, DefaultTimezone)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() GathererConfig {
		cfg := GathererConfig{
			Instance: InstanceConfig{ID: "test"},
			Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*GathererConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *GathererConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing database host",
			mutate:  func(c *GathererConfig) { c.Database.Host = "" },
			wantErr: "database.host is required",
		},
		{
			name:    "missing database password",
			mutate:  func(c *GathererConfig) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *GathererConfig) {
				c.Database.MaxConns = 5
				c.Database.MinConns = 10
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *GathererConfig) { c.Source.MaxAttempts = 0 },
			wantErr: "source.max_attempts must be >= 1",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *GathererConfig) { c.Scheduler.BatchSize = 0 },
			wantErr: "scheduler.batch_size must be >= 1",
		},
		{
			name: "item delay range inverted",
			mutate: func(c *GathererConfig) {
				c.Scheduler.MinItemDelay = 3 * time.Second
				c.Scheduler.MaxItemDelay = time.Second
			},
			wantErr: "scheduler.min_item_delay (3s) cannot exceed max_item_delay (1s)",
		},
		{
			name:    "bad log format",
			mutate:  func(c *GathererConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *GathererConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
