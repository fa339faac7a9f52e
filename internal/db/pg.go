// Package db owns the PostgreSQL pool the persistent audit backend runs on.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Pool sizing for the audit append path: every write is a short
// serializable transaction contending on the chain tail, so extra
// connections buy retries, not throughput. Lifetime jitter keeps the pool
// from recycling all connections at once under a proxy with its own
// idle limits.
const (
	maxConns        = 10
	minConns        = 2
	connLifetime    = time.Hour
	lifetimeJitter  = 5 * time.Minute
	connIdleTime    = 15 * time.Minute
	healthCheckEach = time.Minute
	connectTimeout  = 5 * time.Second
)

// Open creates and verifies the connection pool.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = connLifetime
	cfg.MaxConnLifetimeJitter = lifetimeJitter
	cfg.MaxConnIdleTime = connIdleTime
	cfg.HealthCheckPeriod = healthCheckEach
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("maxConns", cfg.MaxConns).
		Int32("minConns", cfg.MinConns).
		Msg("audit database pool ready")

	return pool, nil
}
