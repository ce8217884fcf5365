package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoConnString = errors.New("pgx: connection string required")

// PoolOptions adjusts the pool config before the pool is created.
type PoolOptions func(*pgxpool.Config)

// WithMaxConns caps the pool size. Non-positive values keep the pgxpool default.
func WithMaxConns(n int32) PoolOptions {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithApplicationName sets application_name on every connection.
func WithApplicationName(name string) PoolOptions {
	return func(c *pgxpool.Config) {
		if name != "" {
			c.ConnConfig.RuntimeParams["application_name"] = name
		}
	}
}

// PoolConfig parses connString and applies opts.
func PoolConfig(connString string, opts ...PoolOptions) (*pgxpool.Config, error) {
	if connString == "" {
		return nil, ErrNoConnString
	}
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse config: %w", err)
	}
	for _, opt := range opts {
		opt(config)
	}
	return config, nil
}

// NewPool creates a pool and pings it. The pool is closed when the ping fails.
func NewPool(ctx context.Context, connString string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	config, err := PoolConfig(connString, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgx: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping connection: %w", err)
	}

	return pool, nil
}
