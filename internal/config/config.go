// Package config defines the top-level configuration for the settler and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETTLER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Oracle   OracleConfig   `toml:"oracle"`
	Fetcher  FetcherConfig  `toml:"fetcher"`
	Resolver ResolverConfig `toml:"resolver"`
	Archive  ArchiveConfig  `toml:"archive"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the settlement ledger endpoint and authority key
// sources.
type LedgerConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ProgramID           string   `toml:"program_id"`
	AuthorityPrivateKey string   `toml:"authority_private_key"`
	KeypairPath         string   `toml:"keypair_path"`
	EncryptedKeyPath    string   `toml:"encrypted_key_path"`
	KeyPassword         string   `toml:"key_password"`
	Commitment          string   `toml:"commitment"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	PollInterval        duration `toml:"poll_interval"`
	BreakerFailures     int      `toml:"breaker_failures"`
	BreakerCooldown     duration `toml:"breaker_cooldown"`
	ConfigCacheTTL      duration `toml:"config_cache_ttl"`
}

// HasKey reports whether any authority key source is configured.
func (l LedgerConfig) HasKey() bool {
	return l.AuthorityPrivateKey != "" || l.KeypairPath != "" || l.EncryptedKeyPath != ""
}

// OracleConfig holds the language-model oracle parameters.
type OracleConfig struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Model             string   `toml:"model"`
	MaxTokens         int      `toml:"max_tokens"`
	Timeout           duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerCooldown   duration `toml:"breaker_cooldown"`
}

// FetcherConfig holds resolution source download parameters.
type FetcherConfig struct {
	Timeout   duration `toml:"timeout"`
	MaxBytes  int64    `toml:"max_bytes"`
	UserAgent string   `toml:"user_agent"`
	// HostRateLimit requests per HostRateWindow are allowed per source host
	// across all replicas. Zero disables the limit.
	HostRateLimit  int      `toml:"host_rate_limit"`
	HostRateWindow duration `toml:"host_rate_window"`
}

// ResolverConfig holds the resolution sweep parameters.
type ResolverConfig struct {
	Enabled bool `toml:"enabled"`
	// Schedule is a five-field cron expression. When empty the sweep runs
	// every Interval instead.
	Schedule     string   `toml:"schedule"`
	Interval     duration `toml:"interval"`
	BatchSize    int      `toml:"batch_size"`
	MaxAttempts  int      `toml:"max_attempts"`
	RetryBackoff duration `toml:"retry_backoff"`
	Evidence     bool     `toml:"evidence"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Namespace  string   `toml:"namespace"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the administrative sweep trigger. When empty the
	// trigger is refused.
	APIKey string `toml:"api_key"`
	// RateLimit requests per RateWindow are allowed per client IP on
	// POST /api/sync.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:          "https://api.devnet.solana.com",
			ProgramID:       "8pEfVsAfjmuCLqoH2T5uXQHvUxg3f1sYLjw8mLJydXtW",
			Commitment:      "confirmed",
			ConfirmTimeout:  duration{60 * time.Second},
			PollInterval:    duration{2 * time.Second},
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
			ConfigCacheTTL:  duration{5 * time.Minute},
		},
		Oracle: OracleConfig{
			BaseURL:           "https://api.anthropic.com",
			Model:             "claude-sonnet-4-20250514",
			MaxTokens:         512,
			Timeout:           duration{30 * time.Second},
			RequestsPerMinute: 30,
			BreakerFailures:   5,
			BreakerCooldown:   duration{60 * time.Second},
		},
		Fetcher: FetcherConfig{
			Timeout:        duration{15 * time.Second},
			MaxBytes:       200_000,
			UserAgent:      "degenbets-settler/1.0",
			HostRateLimit:  10,
			HostRateWindow: duration{time.Minute},
		},
		Resolver: ResolverConfig{
			Enabled:   true,
			Schedule:  "*/5 * * * *",
			Interval:  duration{5 * time.Minute},
			BatchSize: 20,
			Evidence:  true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "degenbets",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			Namespace:  "settler",
			CacheTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "degenbets-settler",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        3001,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_voided", "resolution_stuck", "ledger_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"resolver": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"confirmed": true,
	"finalized": true,
}

// RunsResolver reports whether the configured mode runs the sweeper.
func (c *Config) RunsResolver() bool {
	m := strings.ToLower(c.Mode)
	return (m == "resolver" || m == "full") && c.Resolver.Enabled
}

// RunsServer reports whether the configured mode serves HTTP.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return (m == "server" || m == "full") && c.Server.Enabled
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: resolver, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	} else if u, err := url.Parse(c.Ledger.RPCURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("ledger: rpc_url %q is not an absolute URL", c.Ledger.RPCURL))
	}
	if c.Ledger.ProgramID == "" {
		errs = append(errs, "ledger: program_id must not be empty")
	}
	if !validCommitments[c.Ledger.Commitment] {
		errs = append(errs, fmt.Sprintf("ledger: commitment must be confirmed or finalized, got %q", c.Ledger.Commitment))
	}
	if c.Ledger.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "ledger: confirm_timeout must be > 0")
	}
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be > 0")
	}
	if c.RunsResolver() && !c.Ledger.HasKey() {
		errs = append(errs, "ledger: authority_private_key, keypair_path or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Ledger.EncryptedKeyPath != "" && c.Ledger.KeyPassword == "" {
		errs = append(errs, "ledger: key_password is required when encrypted_key_path is set")
	}

	// Oracle
	if c.RunsResolver() && c.Oracle.APIKey == "" {
		errs = append(errs, "oracle: api_key is required for mode "+c.Mode)
	}
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if c.Oracle.MaxTokens <= 0 {
		errs = append(errs, "oracle: max_tokens must be > 0")
	}
	if c.Oracle.Timeout.Duration <= 0 {
		errs = append(errs, "oracle: timeout must be > 0")
	}
	if c.Oracle.RequestsPerMinute <= 0 {
		errs = append(errs, "oracle: requests_per_minute must be > 0")
	}

	// Fetcher
	if c.Fetcher.Timeout.Duration <= 0 {
		errs = append(errs, "fetcher: timeout must be > 0")
	}
	if c.Fetcher.MaxBytes <= 0 {
		errs = append(errs, "fetcher: max_bytes must be > 0")
	}
	if c.Fetcher.HostRateLimit < 0 {
		errs = append(errs, "fetcher: host_rate_limit must be >= 0")
	}

	// Resolver
	if c.Resolver.Schedule == "" && c.Resolver.Interval.Duration <= 0 {
		errs = append(errs, "resolver: either schedule or a positive interval must be set")
	}
	if c.Resolver.BatchSize < 1 {
		errs = append(errs, "resolver: batch_size must be >= 1")
	}
	if c.Resolver.MaxAttempts < 0 {
		errs = append(errs, "resolver: max_attempts must be >= 0")
	}
	if c.Resolver.RetryBackoff.Duration < 0 {
		errs = append(errs, "resolver: retry_backoff must be >= 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.CacheTTL.Duration < 0 {
		errs = append(errs, "redis: cache_ttl must be >= 0")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
