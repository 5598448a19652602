// Package redis implements the settler caches, rate limiter, locks and
// signal bus using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	// Addr is host:port or a redis:// / rediss:// URL.
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every key, channel and stream, so that settlers
	// for different clusters can share one Redis.
	Namespace string
}

// keyspace builds namespaced keys: keyspace("settler:").key("market", "7")
// is "settler:market:7".
type keyspace string

func newKeyspace(namespace string) keyspace {
	namespace = strings.TrimRight(namespace, ":")
	if namespace == "" {
		return ""
	}
	return keyspace(namespace + ":")
}

func (ks keyspace) key(parts ...string) string {
	return string(ks) + strings.Join(parts, ":")
}

// clientName tags settler connections in CLIENT LIST.
const clientName = "degenbets-settler"

// Client owns the go-redis connection pool and the namespace.
type Client struct {
	rdb  *redis.Client
	keys keyspace
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, keys: newKeyspace(cfg.Namespace)}, nil
}

// options accepts Addr as host:port or as a redis:// or rediss:// URL.
// Explicit fields override what the URL carries.
func options(cfg ClientConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Addr}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.TLSEnabled && opts.TLSConfig == nil {
		host, _, err := net.SplitHostPort(opts.Addr)
		if err != nil {
			host = opts.Addr
		}
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	opts.ClientName = clientName
	return opts, nil
}

// Ping is the health probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the go-redis client. Tests use it to flush the database.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
