package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

const (
	archiveLockName = "archive"
	// archiveLockTTL is how long a crashed holder blocks other instances.
	// The lease is renewed while a run is in progress.
	archiveLockTTL = 2 * time.Minute
)

// Archiver copies resolution logs past the retention window to cold
// storage. The database rows are kept.
type Archiver struct {
	dest      domain.Archiver
	locks     domain.LockManager
	retention int // days
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
}

// NewArchiver returns an Archiver. locks may be nil when only one instance
// runs the archive schedule.
func NewArchiver(dest domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		dest:      dest,
		locks:     locks,
		retention: retentionDays,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// cutoff is retention calendar days before now.
func (a *Archiver) cutoff() time.Time {
	return a.now().UTC().AddDate(0, 0, -a.retention)
}

// Run performs one archive pass. It returns nil without doing anything when
// another run holds the lock, here or on another instance.
func (a *Archiver) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		a.logger.InfoContext(ctx, "archive run already in progress")
		return nil
	}
	defer a.running.Store(false)

	if a.locks != nil {
		release, err := a.locks.Acquire(ctx, archiveLockName, archiveLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			a.logger.InfoContext(ctx, "archive lock held by another instance")
			return nil
		case err != nil:
			return fmt.Errorf("archiver: lock: %w", err)
		}
		defer release()
	}

	before := a.cutoff()
	start := a.now()
	n, err := a.dest.ArchiveResolutionLogs(ctx, before)
	if err != nil {
		return fmt.Errorf("archiver: logs before %s: %w", before.Format(time.DateOnly), err)
	}
	a.logger.InfoContext(ctx, "archive run finished",
		slog.Time("before", before),
		slog.Int64("archived", n),
		slog.Duration("took", a.now().Sub(start)),
	)
	return nil
}

// RunCron calls Run each time expr fires until ctx ends. Failed runs are
// logged and retried at the next firing.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("archiver: cron %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archive schedule started",
		slog.String("cron", expr),
		slog.Int("retention_days", a.retention),
	)

	for {
		next, ok := sched.Next(a.now().UTC())
		if !ok {
			return fmt.Errorf("archiver: cron %q never fires", expr)
		}
		a.logger.DebugContext(ctx, "next archive run", slog.Time("at", next))

		if err := sleepUntil(ctx, next); err != nil {
			return err
		}
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}
}

// sleepUntil blocks until t or until ctx ends, returning ctx.Err() in the
// latter case.
func sleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
