package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var _ domain.RateLimiter = (*RateLimiter)(nil)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter is a sliding-window limiter shared by every settler replica.
// It backs the per-host source fetch budget (Wait) and the sync endpoint
// limit (Allow).
type RateLimiter struct {
	rdb  *redis.Client
	keys keyspace

	waitLimit  int
	waitWindow time.Duration
	now        func() time.Time
}

// NewRateLimiter creates a RateLimiter on c. Wait admits waitLimit requests
// per waitWindow; non-positive values select 1 per second.
func NewRateLimiter(c *Client, waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		rdb:        c.rdb,
		keys:       c.keys,
		waitLimit:  waitLimit,
		waitWindow: waitWindow,
		now:        time.Now,
	}
}

type admission struct {
	allowed    bool
	retryAfter time.Duration
}

func (rl *RateLimiter) admit(ctx context.Context, key string, limit int, window time.Duration) (admission, error) {
	res, err := slidingWindow.Run(ctx, rl.rdb,
		[]string{rl.keys.key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return admission{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return admission{}, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return admission{
		allowed:    res[0] == 1,
		retryAfter: time.Duration(res[2]) * time.Microsecond,
	}, nil
}

// Allow counts one request against key and reports whether it fits in the
// window. Rejected requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	a, err := rl.admit(ctx, key, limit, window)
	return a.allowed, err
}

// Wait blocks until key is admitted under the construction-time budget,
// sleeping for exactly as long as the window says a slot needs to free up.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		a, err := rl.admit(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if a.allowed {
			return nil
		}

		timer := time.NewTimer(min(a.retryAfter, rl.waitWindow))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
