package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/degenbets-settler/internal/config"
	"github.com/alanyoungcy/degenbets-settler/internal/pipeline"
)

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *blockingRunner) Sweep(ctx context.Context) (pipeline.SweepStats, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
	case <-ctx.Done():
		return pipeline.SweepStats{}, ctx.Err()
	}
	return pipeline.SweepStats{Attempted: 1, Resolved: 1}, r.err
}

func TestBackgroundSweeperRunsOneAtATime(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	b := newBackgroundSweeper(context.Background(), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	finished := make(chan struct{}, 2)
	b.done = func() { finished <- struct{}{} }

	require.True(t, b.Enqueue())
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, b.Enqueue(), "a queued sweep is still running")

	close(runner.release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("queued sweep did not finish")
	}

	assert.True(t, b.Enqueue())
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("second sweep did not finish")
	}
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestBackgroundSweeperSyncSweepPassesThrough(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), err: errors.New("boom")}
	close(runner.release)
	b := newBackgroundSweeper(context.Background(), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stats, err := b.Sweep(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, stats.Attempted)
}

func TestBackgroundSweeperStopsWithProcessContext(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	b := newBackgroundSweeper(ctx, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	finished := make(chan struct{}, 1)
	b.done = func() { finished <- struct{}{} }

	require.True(t, b.Enqueue())
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("queued sweep ignored cancellation")
	}
}

func TestCheckSchedules(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.Resolver.Schedule = "*/5 * * * *"
	cfg.Archive.Enabled = true
	require.NoError(t, New(&cfg, logger).checkSchedules())

	cfg.Archive.Cron = "61 * * * *"
	assert.ErrorContains(t, New(&cfg, logger).checkSchedules(), "archive cron")

	cfg.Archive.Enabled = false
	cfg.Resolver.Schedule = "every day"
	assert.ErrorContains(t, New(&cfg, logger).checkSchedules(), "resolver schedule")
}
