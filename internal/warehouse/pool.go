package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds warehouse connection configuration.
type PoolConfig struct {
	// DSN is the Postgres connection string.
	DSN string
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
}

// Pool adapts a pgx connection pool to the DB interface.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the warehouse and verifies the connection.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing warehouse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating warehouse pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging warehouse: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Exec runs a statement, discarding the command tag.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	return err
}

// QueryRow runs a single-row query.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Query runs a multi-row query.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close releases the underlying pool.
func (p *Pool) Close() {
	p.pool.Close()
}
