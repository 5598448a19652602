package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var (
	_ domain.MarketCache       = (*MarketCache)(nil)
	_ domain.LedgerConfigCache = (*LedgerConfigCache)(nil)
)

const (
	defaultMarketTTL       = 30 * time.Second
	defaultLedgerConfigTTL = 5 * time.Minute
)

// jsonValue is one cached JSON document at key with an expiry.
type jsonValue[T any] struct {
	rdb *redis.Client
	ttl time.Duration
}

func (v jsonValue[T]) set(ctx context.Context, key string, val T) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return v.rdb.Set(ctx, key, data, v.ttl).Err()
}

// get returns domain.ErrNotFound on a miss.
func (v jsonValue[T]) get(ctx context.Context, key string) (T, error) {
	var out T
	data, err := v.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return out, domain.ErrNotFound
	case err != nil:
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

func orDefault(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	return ttl
}

// MarketCache holds market rows under {ns}market:{id}. The mirror
// invalidates an entry whenever it writes the row.
type MarketCache struct {
	keys keyspace
	val  jsonValue[domain.Market]
}

// NewMarketCache returns a MarketCache; ttl <= 0 means 30s.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{
		keys: c.keys,
		val:  jsonValue[domain.Market]{rdb: c.rdb, ttl: orDefault(ttl, defaultMarketTTL)},
	}
}

func (mc *MarketCache) key(id uint64) string {
	return mc.keys.key("market", strconv.FormatUint(id, 10))
}

func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	if err := mc.val.set(ctx, mc.key(market.ID), market); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := mc.val.get(ctx, mc.key(id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return m, fmt.Errorf("redis: get market %d: %w", id, err)
	}
	return m, err
}

func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	if err := mc.val.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

// LedgerConfigCache holds the decoded ledger config account, which changes
// rarely.
type LedgerConfigCache struct {
	key string
	val jsonValue[domain.LedgerConfig]
}

// NewLedgerConfigCache returns a LedgerConfigCache; ttl <= 0 means 5m.
func NewLedgerConfigCache(c *Client, ttl time.Duration) *LedgerConfigCache {
	return &LedgerConfigCache{
		key: c.keys.key("ledger", "config"),
		val: jsonValue[domain.LedgerConfig]{rdb: c.rdb, ttl: orDefault(ttl, defaultLedgerConfigTTL)},
	}
}

func (lc *LedgerConfigCache) SetConfig(ctx context.Context, cfg domain.LedgerConfig) error {
	if err := lc.val.set(ctx, lc.key, cfg); err != nil {
		return fmt.Errorf("redis: set ledger config: %w", err)
	}
	return nil
}

// GetConfig returns the cached account or domain.ErrNotFound.
func (lc *LedgerConfigCache) GetConfig(ctx context.Context) (domain.LedgerConfig, error) {
	cfg, err := lc.val.get(ctx, lc.key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return cfg, fmt.Errorf("redis: get ledger config: %w", err)
	}
	return cfg, err
}
