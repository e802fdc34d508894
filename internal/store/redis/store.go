// Package redis implements the cache contract over the shared Redis cluster:
// versioned candle writes, indicator/ticker/status documents, the activity
// stream, and the pub/sub channels. All multi-key operations are cluster-safe
// (SCAN over KEYS, no cross-slot transactions).
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Config configures the Redis store.
type Config struct {
	// URL is a redis:// or rediss:// URL; rediss enables TLS.
	URL string

	// MaxCandles is the per-series sorted-set trim depth (default 1000).
	MaxCandles int
}

// Store wraps the single Redis client this instance holds.
type Store struct {
	client     goredis.UniversalClient
	maxCandles int
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxCandles := cfg.MaxCandles
	if maxCandles <= 0 {
		maxCandles = 1000
	}

	log.Info().Str("component", "redis").Str("addr", opts.Addr).Msg("connected")
	return &Store{client: client, maxCandles: maxCandles}, nil
}

// NewWithClient wraps an existing client; tests use this with redismock.
func NewWithClient(client goredis.UniversalClient, maxCandles int) *Store {
	if maxCandles <= 0 {
		maxCandles = 1000
	}
	return &Store{client: client, maxCandles: maxCandles}
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
