package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var (
	_ domain.SignalBus      = (*SignalBus)(nil)
	_ domain.EventPublisher = (*SignalBus)(nil)
)

const (
	// streamMaxLen caps each stream (XADD MAXLEN ~).
	streamMaxLen int64 = 10_000
	// subscriberBuffer is the per-subscription backlog held client side.
	subscriberBuffer = 128
	payloadField     = "payload"
)

// SignalBus carries lifecycle events between settler processes. Pub/Sub
// feeds live websocket clients; settlement outcomes are also appended to
// the resolutions stream so a reconnecting client can replay what it
// missed.
type SignalBus struct {
	rdb  *redis.Client
	keys keyspace
	now  func() time.Time
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb, keys: c.keys, now: time.Now}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.keys.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe follows channel, or every channel matching it when it contains
// glob characters. The returned channel closes when ctx ends or the
// connection is lost for good.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.keys.key(channel)
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = sb.rdb.PSubscribe(ctx, name)
	} else {
		ps = sb.rdb.Subscribe(ctx, name)
	}
	// The first reply confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go forward(ctx, ps, out)
	return out, nil
}

func forward(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

// PublishEvent stamps and publishes ev on channel. Resolved and voided
// events are appended to the resolutions stream in the same MULTI.
func (sb *SignalBus) PublishEvent(ctx context.Context, channel string, ev domain.LifecycleEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = sb.now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode %s event: %w", ev.Type, err)
	}

	durable := ev.Type == domain.EventMarketResolved || ev.Type == domain.EventMarketVoided
	if !durable {
		return sb.Publish(ctx, channel, payload)
	}

	_, err = sb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, sb.keys.key(channel), payload)
		p.XAdd(ctx, sb.xadd(domain.StreamResolutions, payload))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s event for market %d: %w", ev.Type, ev.MarketID, err)
	}
	return nil
}

func (sb *SignalBus) xadd(stream string, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: sb.keys.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}
}

// StreamAppend adds payload to stream, trimming it to roughly streamMaxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := sb.rdb.XAdd(ctx, sb.xadd(stream, payload)).Err(); err != nil {
		return fmt.Errorf("redis: append to %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking. "0"
// reads from the start. An empty or missing stream yields no entries.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.keys.key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read %s after %s: %w", stream, lastID, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			if p, ok := m.Values[payloadField].(string); ok {
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: []byte(p)})
			}
		}
	}
	return out, nil
}
