package domain

import (
	"context"
	"time"
)

// MarketCache holds recently read market rows for the claim and market
// views.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// LedgerConfigCache holds the decoded ledger config account.
type LedgerConfigCache interface {
	SetConfig(ctx context.Context, cfg LedgerConfig) error
	GetConfig(ctx context.Context) (LedgerConfig, error)
}

// RateLimiter is a limiter shared across replicas. Allow counts against a
// caller-chosen budget; Wait blocks under the budget fixed at construction.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager hands out cluster-wide leases. Acquire fails with
// ErrLockHeld when another holder has the lease.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// StreamMessage is one durable bus entry. ID orders entries and is the
// resume point for StreamRead.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries fire-and-forget messages on channels and durable ones
// on streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventPublisher publishes typed lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel string, ev LifecycleEvent) error
}
