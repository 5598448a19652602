package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/degenbets-settler/internal/blob/s3"
	"github.com/alanyoungcy/degenbets-settler/internal/cache/redis"
	"github.com/alanyoungcy/degenbets-settler/internal/config"
	"github.com/alanyoungcy/degenbets-settler/internal/crypto"
	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/ledger"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
	"github.com/alanyoungcy/degenbets-settler/internal/notify"
	"github.com/alanyoungcy/degenbets-settler/internal/oracle"
	"github.com/alanyoungcy/degenbets-settler/internal/source"
	"github.com/alanyoungcy/degenbets-settler/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore        domain.MarketStore
	PositionStore      domain.PositionStore
	ResolutionLogStore domain.ResolutionLogStore
	AuditStore         domain.AuditStore

	// Caches
	MarketCache       domain.MarketCache
	LedgerConfigCache domain.LedgerConfigCache
	RateLimiter       domain.RateLimiter
	LockManager       domain.LockManager
	SignalBus         *redis.SignalBus

	// Blob storage (nil when s3.enabled is false)
	Evidence domain.EvidenceStore
	Archiver domain.Archiver

	// External collaborators
	Ledger  *ledger.Client
	Oracle  *oracle.Client
	Fetcher *source.Fetcher

	// Notifications
	Notifier *notify.Notifier

	Metrics *metrics.SettlerMetrics

	// Health probes, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]func(context.Context) error),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	// Run migrations if enabled.
	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.ResolutionLogStore = postgres.NewResolutionLogStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.LedgerConfigCache = redis.NewLedgerConfigCache(redisClient, cfg.Ledger.ConfigCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Fetcher.HostRateLimit, cfg.Fetcher.HostRateWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Evidence = s3blob.NewEvidence(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.ResolutionLogStore, deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Ledger ---
	ledgerOpts := []ledger.Option{
		ledger.WithCommitment(cfg.Ledger.Commitment),
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout.Duration),
		ledger.WithPollInterval(cfg.Ledger.PollInterval.Duration),
		ledger.WithBreaker(cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerCooldown.Duration),
		ledger.WithLogger(logger),
		ledger.WithMetrics(deps.Metrics),
	}
	if cfg.Ledger.HasKey() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Ledger.AuthorityPrivateKey,
			KeypairPath:      cfg.Ledger.KeypairPath,
			EncryptedKeyPath: cfg.Ledger.EncryptedKeyPath,
			KeyPassword:      cfg.Ledger.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: authority key: %w", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithAuthority(key))
	}
	deps.Ledger, err = ledger.NewClient(cfg.Ledger.RPCURL, cfg.Ledger.ProgramID, ledgerOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	if deps.Ledger.CanSubmit() {
		logger.InfoContext(ctx, "settlement authority loaded",
			slog.String("authority", deps.Ledger.Authority().String()),
			slog.String("program_id", deps.Ledger.ProgramID().String()),
		)
	}

	// --- Oracle and source fetcher ---
	deps.Oracle = oracle.NewClient(cfg.Oracle.APIKey,
		oracle.WithBaseURL(cfg.Oracle.BaseURL),
		oracle.WithModel(cfg.Oracle.Model),
		oracle.WithMaxTokens(cfg.Oracle.MaxTokens),
		oracle.WithTimeout(cfg.Oracle.Timeout.Duration),
		oracle.WithRateLimit(cfg.Oracle.RequestsPerMinute),
		oracle.WithBreaker(cfg.Oracle.BreakerFailures, cfg.Oracle.BreakerCooldown.Duration),
		oracle.WithLogger(logger),
		oracle.WithMetrics(deps.Metrics),
	)
	deps.Fetcher = source.NewFetcher(
		source.WithTimeout(cfg.Fetcher.Timeout.Duration),
		source.WithMaxBytes(cfg.Fetcher.MaxBytes),
		source.WithUserAgent(cfg.Fetcher.UserAgent),
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithExplorerCluster(notify.ClusterFromRPC(cfg.Ledger.RPCURL)),
	)

	return deps, cleanup, nil
}
