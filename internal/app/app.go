// Package app assembles the settler from configuration and runs it in one of
// three modes: resolver, server or full.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/config"
	"github.com/alanyoungcy/degenbets-settler/internal/pipeline"
)

// App holds configuration and the cleanup hooks registered while wiring.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	closers []func()
}

// New returns an App for cfg. Nothing is dialled until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx ends or
// a component fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	start, ok := a.modes()[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	if err := a.checkSchedules(); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "wiring dependencies", slog.String("mode", mode))
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)

	err = start(ctx, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) modes() map[string]func(context.Context, *Dependencies) error {
	return map[string]func(context.Context, *Dependencies) error{
		"resolver": a.ResolverMode,
		"server":   a.ServerMode,
		"full":     a.FullMode,
	}
}

// checkSchedules rejects bad cron expressions before any connection is
// dialled.
func (a *App) checkSchedules() error {
	if s := a.cfg.Resolver.Schedule; s != "" {
		if err := pipeline.ValidateCron(s); err != nil {
			return fmt.Errorf("app: resolver schedule: %w", err)
		}
	}
	if a.cfg.Archive.Enabled {
		if err := pipeline.ValidateCron(a.cfg.Archive.Cron); err != nil {
			return fmt.Errorf("app: archive cron: %w", err)
		}
	}
	return nil
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close runs cleanup hooks newest first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	if len(closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("count", len(closers)))
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
