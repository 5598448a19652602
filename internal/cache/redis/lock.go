package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var _ domain.LockManager = (*LockManager)(nil)

// Both scripts act only while the key still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// minLockTTL keeps the renewal interval (a third of the TTL) sane.
const minLockTTL = time.Second

// LockManager hands out Redis leases. A lease is renewed in the background
// until it is released, so ttl only bounds how long a crashed holder blocks
// everyone else.
type LockManager struct {
	rdb  *redis.Client
	keys keyspace
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb, keys: c.keys}
}

// Acquire takes the named lock or fails with domain.ErrLockHeld. The
// returned release func is idempotent and works after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl < minLockTTL {
		return nil, fmt.Errorf("redis: lock %s: ttl %v below %v", name, ttl, minLockTTL)
	}

	l := &lease{
		rdb:   lm.rdb,
		key:   lm.keys.key("lock", name),
		token: uuid.NewString(),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	err := lm.rdb.SetArgs(ctx, l.key, l.token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: lock %s: %w", name, domain.ErrLockHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	}

	go l.keepAlive()
	return l.release, nil
}

type lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// keepAlive extends the lease every ttl/3 until released or lost.
func (l *lease) keepAlive() {
	defer close(l.done)

	every := l.ttl / 3
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
			// A transient error is retried on the next tick; the TTL still
			// covers two more attempts.
		}
	}
}

func (l *lease) release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}
