// Package postgres wraps the shared database of record. One pgxpool per
// instance; every writer goes through the pool and no query holds a long
// transaction.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB holds the connection pool and the process-local lookup caches.
type DB struct {
	pool *pgxpool.Pool
}

// New connects the pool and verifies the connection.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Str("component", "postgres").Str("host", cfg.ConnConfig.Host).Msg("connected")
	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool for health checks.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Close shuts the pool down.
func (db *DB) Close() {
	db.pool.Close()
}
