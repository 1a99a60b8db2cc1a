// Package storage is the PostgreSQL store behind Mission Control.
//
// Queries go through a pgxpool. Row change notifications published by the
// table triggers arrive on a separate direct connection, since LISTEN does
// not survive a transaction pooler.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// applicationName tags our sessions in pg_stat_activity unless the DSN
// already sets one.
const applicationName = "mission-control"

// DB is the Postgres store.
type DB struct {
	pool   *pgxpool.Pool
	notify *listener // nil when no notify DSN was given
	logger *slog.Logger
}

// New connects the query pool and, when notifyDSN is set, the LISTEN
// connection. Both are pinged so a bad DSN fails startup.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	pool, err := openPool(ctx, poolDSN)
	if err != nil {
		return nil, err
	}
	db := &DB{pool: pool, logger: logger}

	if notifyDSN != "" {
		l, err := newListener(notifyDSN)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if _, err := l.connect(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db.notify = l
	}
	return db, nil
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	tagSession(cfg.ConnConfig.RuntimeParams)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return pool, nil
}

func tagSession(params map[string]string) {
	if params["application_name"] == "" {
		params["application_name"] = applicationName
	}
}

// Pool exposes the query pool for ad hoc SQL in tests and migrations.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// HasNotify reports whether change notifications are available.
func (db *DB) HasNotify() bool { return db.notify != nil }

// Ping checks the query pool.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close releases the pool and the LISTEN connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	if db.notify == nil {
		return
	}
	if err := db.notify.close(ctx); err != nil {
		db.logger.Warn("storage: close notify connection", "error", err)
	}
}
