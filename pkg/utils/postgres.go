package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolConfig tunes the pgx pool. Zero values get conservative defaults.
type PostgresPoolConfig struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	PingTimeout     time.Duration
}

// OpenPostgres opens a pgx pool and pings it. The dsn carries the password; never log it.
func OpenPostgres(ctx context.Context, dsn string, pc PostgresPoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		// pgx echoes the dsn in parse errors
		return nil, errors.New("parse postgres dsn: malformed connection string")
	}
	cfg.MaxConns = 10
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	cfg.MaxConnLifetime = orDuration(pc.MaxConnLifetime, 30*time.Minute)
	cfg.MaxConnIdleTime = orDuration(pc.MaxConnIdleTime, 5*time.Minute)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := HealthCheck(ctx, pool, orDuration(pc.PingTimeout, 5*time.Second)); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck pings db, giving up after timeout.
func HealthCheck(ctx context.Context, db Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// TxStarter is the part of a pool WithTx needs.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type TxFunc func(ctx context.Context, tx pgx.Tx) error

// WithTx runs fn in a transaction, committing when fn returns nil. A panic in
// fn rolls back and propagates.
func WithTx(ctx context.Context, db TxStarter, opts pgx.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
