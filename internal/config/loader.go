package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETTLER_* environment variable overrides, and
// returns the final Config. An empty path skips the file so a deployment can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "SETTLER_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ProgramID, "SETTLER_LEDGER_PROGRAM_ID")
	setStr(&cfg.Ledger.AuthorityPrivateKey, "SETTLER_LEDGER_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Ledger.KeypairPath, "SETTLER_LEDGER_KEYPAIR_PATH")
	setStr(&cfg.Ledger.EncryptedKeyPath, "SETTLER_LEDGER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Ledger.KeyPassword, "SETTLER_LEDGER_KEY_PASSWORD")
	setStr(&cfg.Ledger.Commitment, "SETTLER_LEDGER_COMMITMENT")
	setDuration(&cfg.Ledger.ConfirmTimeout, "SETTLER_LEDGER_CONFIRM_TIMEOUT")
	setDuration(&cfg.Ledger.PollInterval, "SETTLER_LEDGER_POLL_INTERVAL")
	setInt(&cfg.Ledger.BreakerFailures, "SETTLER_LEDGER_BREAKER_FAILURES")
	setDuration(&cfg.Ledger.BreakerCooldown, "SETTLER_LEDGER_BREAKER_COOLDOWN")
	setDuration(&cfg.Ledger.ConfigCacheTTL, "SETTLER_LEDGER_CONFIG_CACHE_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.APIKey, "ANTHROPIC_API_KEY")
	setStr(&cfg.Oracle.APIKey, "SETTLER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.BaseURL, "SETTLER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.Model, "SETTLER_ORACLE_MODEL")
	setInt(&cfg.Oracle.MaxTokens, "SETTLER_ORACLE_MAX_TOKENS")
	setDuration(&cfg.Oracle.Timeout, "SETTLER_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.RequestsPerMinute, "SETTLER_ORACLE_REQUESTS_PER_MINUTE")
	setInt(&cfg.Oracle.BreakerFailures, "SETTLER_ORACLE_BREAKER_FAILURES")
	setDuration(&cfg.Oracle.BreakerCooldown, "SETTLER_ORACLE_BREAKER_COOLDOWN")

	// ── Fetcher ──
	setDuration(&cfg.Fetcher.Timeout, "SETTLER_FETCHER_TIMEOUT")
	setInt64(&cfg.Fetcher.MaxBytes, "SETTLER_FETCHER_MAX_BYTES")
	setStr(&cfg.Fetcher.UserAgent, "SETTLER_FETCHER_USER_AGENT")
	setInt(&cfg.Fetcher.HostRateLimit, "SETTLER_FETCHER_HOST_RATE_LIMIT")
	setDuration(&cfg.Fetcher.HostRateWindow, "SETTLER_FETCHER_HOST_RATE_WINDOW")

	// ── Resolver ──
	setBool(&cfg.Resolver.Enabled, "SETTLER_RESOLVER_ENABLED")
	setStr(&cfg.Resolver.Schedule, "SETTLER_RESOLVER_SCHEDULE")
	setDuration(&cfg.Resolver.Interval, "SETTLER_RESOLVER_INTERVAL")
	setInt(&cfg.Resolver.BatchSize, "SETTLER_RESOLVER_BATCH_SIZE")
	setInt(&cfg.Resolver.MaxAttempts, "SETTLER_RESOLVER_MAX_ATTEMPTS")
	setDuration(&cfg.Resolver.RetryBackoff, "SETTLER_RESOLVER_RETRY_BACKOFF")
	setBool(&cfg.Resolver.Evidence, "SETTLER_RESOLVER_EVIDENCE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SETTLER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "SETTLER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "SETTLER_ARCHIVE_RETENTION_DAYS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SETTLER_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "SETTLER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SETTLER_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SETTLER_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SETTLER_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "SETTLER_DATABASE_USER")
	setStr(&cfg.Database.Password, "SETTLER_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SETTLER_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SETTLER_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SETTLER_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SETTLER_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SETTLER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "SETTLER_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.CacheTTL, "SETTLER_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SETTLER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "SETTLER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "SETTLER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SETTLER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SETTLER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SETTLER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLER_MODE")
	setStr(&cfg.LogLevel, "SETTLER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
