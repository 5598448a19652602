package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Run sweeps once immediately, then on the cron schedule (or every interval
// when schedule is empty) and whenever Enqueue is called, until ctx is
// cancelled.
func (s *ResolutionSweeper) Run(ctx context.Context, schedule string, interval time.Duration) error {
	if schedule == "" && interval <= 0 {
		return fmt.Errorf("sweeper: either a cron schedule or a positive interval is required")
	}
	var cron *cronSchedule
	if schedule != "" {
		var err error
		if cron, err = parseCron(schedule); err != nil {
			return fmt.Errorf("sweeper: parsing schedule %q: %w", schedule, err)
		}
	}
	s.logger.InfoContext(ctx, "sweeper loop started",
		slog.String("schedule", schedule),
		slog.Duration("interval", interval),
	)

	s.runOnce(ctx, "startup")

	for {
		wait := interval
		if cron != nil {
			next, ok := cron.Next(s.now().UTC())
			if !ok {
				return fmt.Errorf("sweeper: schedule %q never fires", schedule)
			}
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sweeper loop stopped")
			return ctx.Err()
		case <-timer.C:
			s.runOnce(ctx, "schedule")
		case <-s.trigger:
			timer.Stop()
			s.runOnce(ctx, "enqueue")
		}
	}
}

func (s *ResolutionSweeper) runOnce(ctx context.Context, trigger string) {
	if _, err := s.sweep(ctx, trigger); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "sweep failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	}
}
