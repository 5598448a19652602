package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/degenbets-settler/internal/pipeline"
	"github.com/alanyoungcy/degenbets-settler/internal/server"
	"github.com/alanyoungcy/degenbets-settler/internal/server/handler"
	"github.com/alanyoungcy/degenbets-settler/internal/server/ws"
	"github.com/alanyoungcy/degenbets-settler/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// ResolverMode runs the resolution sweeper and, when enabled, the archiver.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	g, ctx := errgroup.WithContext(ctx)

	sweeper := a.newSweeper(deps, a.newMirror(deps))
	if sweeper == nil {
		return fmt.Errorf("resolver mode: settlement authority key is not loaded")
	}
	a.startResolver(ctx, g, deps, sweeper)

	return g.Wait()
}

// ServerMode runs the HTTP API and the WebSocket hub. The sweep trigger
// endpoint is available when an authority key is loaded; queued sweeps then
// run inside this process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	mirror := a.newMirror(deps)
	var trigger handler.Sweeper
	if sweeper := a.newSweeper(deps, mirror); sweeper != nil {
		trigger = newBackgroundSweeper(ctx, sweeper, a.logger)
	}
	a.startHTTPServer(ctx, g, deps, mirror, trigger, false)

	return g.Wait()
}

// FullMode runs the resolver and the HTTP API in one process. The trigger
// endpoint hands queued sweeps to the running resolver loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	mirror := a.newMirror(deps)
	sweeper := a.newSweeper(deps, mirror)

	var trigger handler.Sweeper
	resolverRunning := false
	switch {
	case sweeper == nil:
		a.logger.WarnContext(ctx, "full mode: no settlement authority key, resolver disabled")
	case a.cfg.Resolver.Enabled:
		a.startResolver(ctx, g, deps, sweeper)
		trigger = sweeper
		resolverRunning = true
	default:
		a.logger.WarnContext(ctx, "resolver.enabled is false; sweeps run only on trigger")
		trigger = newBackgroundSweeper(ctx, sweeper, a.logger)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, mirror, trigger, resolverRunning)
	}

	return g.Wait()
}

func (a *App) newMirror(deps *Dependencies) *service.MirrorService {
	return service.NewMirrorService(
		deps.Ledger,
		deps.MarketStore,
		deps.PositionStore,
		deps.MarketCache,
		deps.SignalBus,
		deps.Metrics,
		a.logger.With(slog.String("component", "mirror")),
	)
}

// newSweeper builds the resolution sweeper, or returns nil when the ledger
// client cannot sign settlement transactions.
func (a *App) newSweeper(deps *Dependencies, mirror *service.MirrorService) *pipeline.ResolutionSweeper {
	if !deps.Ledger.CanSubmit() {
		return nil
	}

	sd := pipeline.SweeperDeps{
		Markets: deps.MarketStore,
		Logs:    deps.ResolutionLogStore,
		Ledger:  deps.Ledger,
		Mirror:  mirror,
		Fetcher: deps.Fetcher,
		Oracle:  deps.Oracle,
		Events:  deps.SignalBus,
		Alerts:  deps.Notifier,
		Audit:   deps.AuditStore,
		Metrics: deps.Metrics,
	}
	if a.cfg.Resolver.Evidence && deps.Evidence != nil {
		sd.Evidence = deps.Evidence
	}
	if a.cfg.Fetcher.HostRateLimit > 0 {
		sd.HostLimiter = deps.RateLimiter
	}

	return pipeline.NewResolutionSweeper(sd, pipeline.SweeperConfig{
		BatchSize:    a.cfg.Resolver.BatchSize,
		MaxAttempts:  a.cfg.Resolver.MaxAttempts,
		RetryBackoff: a.cfg.Resolver.RetryBackoff.Duration,
		Evidence:     sd.Evidence != nil,
	}, a.logger)
}

// startResolver adds the pipeline orchestrator (sweep loop and optional
// archiver) to the given errgroup.
func (a *App) startResolver(ctx context.Context, g *errgroup.Group, deps *Dependencies, sweeper *pipeline.ResolutionSweeper) {
	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			a.logger.WarnContext(ctx, "archive.enabled is set but object storage is not wired; archiver disabled")
		} else {
			archiver = pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
		}
	}

	orch := pipeline.NewOrchestrator(a.logger.With(slog.String("component", "pipeline"))).
		AddSweeper(sweeper, a.cfg.Resolver.Schedule, a.cfg.Resolver.Interval.Duration)
	if archiver != nil {
		orch.AddArchiver(archiver, a.cfg.Archive.Cron)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startHTTPServer adds an HTTP server goroutine and the WebSocket hub to the
// given errgroup. trigger is optional; when nil the sweep trigger endpoint is
// not registered. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	mirror *service.MirrorService,
	trigger handler.Sweeper,
	resolverRunning bool,
) {
	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	breakers := map[string]func() string{
		"oracle": deps.Oracle.BreakerState,
		"ledger": deps.Ledger.BreakerState,
	}

	markets := service.NewMarketService(
		deps.MarketStore,
		deps.PositionStore,
		deps.ResolutionLogStore,
		deps.Ledger,
		deps.MarketCache,
		deps.LedgerConfigCache,
		a.logger.With(slog.String("component", "markets")),
	)

	status := handler.Status{
		Mode:            a.cfg.Mode,
		ProgramID:       deps.Ledger.ProgramID().String(),
		ResolverRunning: resolverRunning,
		TriggerEnabled:  trigger != nil,
		EvidenceEnabled: deps.Evidence != nil,
		StartedAt:       a.startedAt,
	}
	if deps.Ledger.CanSubmit() {
		status.Authority = deps.Ledger.Authority().String()
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, breakers, a.logger),
		Status:  handler.NewStatusHandler(status),
		Markets: handler.NewMarketHandler(markets, deps.Evidence, a.logger),
		Sync:    handler.NewSyncHandler(mirror, a.logger),
	}
	if trigger != nil {
		handlers.Resolve = handler.NewResolveHandler(trigger, a.logger)
	}
	if a.cfg.Server.APIKey != "" {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	// WebSocket hub, fed by the Redis signal bus.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		SyncRateLimit:  a.cfg.Server.RateLimit,
		SyncRateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Hub:         hub,
		Metrics:     deps.Metrics,
		RateLimiter: deps.RateLimiter,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.Bool("trigger_enabled", trigger != nil),
			slog.Bool("evidence_enabled", deps.Evidence != nil),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// sweepRunner runs one resolution sweep.
type sweepRunner interface {
	Sweep(ctx context.Context) (pipeline.SweepStats, error)
}

// backgroundSweeper serves the sweep trigger in a process without a
// resolver loop. Enqueue starts a sweep on the process context unless one
// queued this way is still running.
type backgroundSweeper struct {
	runner  sweepRunner
	ctx     context.Context
	running atomic.Bool
	logger  *slog.Logger
	done    func() // test hook
}

func newBackgroundSweeper(ctx context.Context, runner sweepRunner, logger *slog.Logger) *backgroundSweeper {
	return &backgroundSweeper{
		runner: runner,
		ctx:    ctx,
		logger: logger.With(slog.String("component", "trigger")),
	}
}

// Sweep runs a sweep synchronously.
func (b *backgroundSweeper) Sweep(ctx context.Context) (pipeline.SweepStats, error) {
	return b.runner.Sweep(ctx)
}

// Enqueue starts a detached sweep. It returns false when one is already
// running.
func (b *backgroundSweeper) Enqueue() bool {
	if !b.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer func() {
			b.running.Store(false)
			if b.done != nil {
				b.done()
			}
		}()
		stats, err := b.runner.Sweep(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil {
				b.logger.Error("queued sweep failed", slog.String("error", err.Error()))
			}
			return
		}
		b.logger.Info("queued sweep finished",
			slog.Int("attempted", stats.Attempted),
			slog.Int("resolved", stats.Resolved),
			slog.Int("voided", stats.Voided),
			slog.Int("errors", stats.Errors),
		)
	}()
	return true
}
