package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// task is one resolver-mode background loop. It runs until its context is
// cancelled or it fails.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// Orchestrator runs the resolver-mode loops together. The first loop to fail
// cancels the others; a loop that panics counts as failed.
type Orchestrator struct {
	tasks  []task
	logger *slog.Logger
}

// NewOrchestrator returns an Orchestrator with no loops.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger}
}

// Add registers a loop under name.
func (o *Orchestrator) Add(name string, run func(ctx context.Context) error) *Orchestrator {
	o.tasks = append(o.tasks, task{name: name, run: run})
	return o
}

// AddSweeper registers the resolution sweep loop on a cron schedule, or on
// a fixed interval when schedule is empty.
func (o *Orchestrator) AddSweeper(s *ResolutionSweeper, schedule string, interval time.Duration) *Orchestrator {
	return o.Add("sweeper", func(ctx context.Context) error {
		return s.Run(ctx, schedule, interval)
	})
}

// AddArchiver registers the cold-storage export on cron.
func (o *Orchestrator) AddArchiver(a *Archiver, cron string) *Orchestrator {
	return o.Add("archiver", func(ctx context.Context) error {
		return a.RunCron(ctx, cron)
	})
}

// Run blocks until ctx is cancelled (returning nil) or a loop fails
// (returning its error).
func (o *Orchestrator) Run(ctx context.Context) error {
	names := make([]string, len(o.tasks))
	for i, t := range o.tasks {
		names[i] = t.name
	}
	o.logger.InfoContext(ctx, "orchestrator starting", slog.Any("loops", names))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		g.Go(func() error { return o.supervise(gctx, t) })
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) supervise(ctx context.Context, t task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("loop panicked",
				slog.String("loop", t.name),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s: panic: %v", t.name, p)
		}
	}()

	err = t.run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return fmt.Errorf("%s: exited unexpectedly", t.name)
	}
	return fmt.Errorf("%s: %w", t.name, err)
}
