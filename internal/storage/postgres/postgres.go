// Package postgres provides Postgres-backed persistence for jobs,
// processed items, and source risk snapshots.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the shared connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DB is the pool surface the stores use. *pgxpool.Pool and
// pgxmock.PgxPoolIface both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool from the config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the harvest tables when they do not exist yet.
func Migrate(ctx context.Context, db DB) error {
	for _, ddl := range []string{jobsDDL, itemsDDL, riskDDL} {
		if _, err := db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const jobsDDL = `
CREATE TABLE IF NOT EXISTS harvest_jobs (
	id               TEXT PRIMARY KEY,
	spec             JSONB NOT NULL,
	status           TEXT NOT NULL,
	submitted_at     TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ,
	counters         JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_error       JSONB,
	partial_failures JSONB
)`

const itemsDDL = `
CREATE TABLE IF NOT EXISTS harvest_items (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	cluster_id   TEXT NOT NULL DEFAULT '',
	cross_source BOOLEAN NOT NULL DEFAULT FALSE,
	payload      JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
)`

const riskDDL = `
CREATE TABLE IF NOT EXISTS harvest_source_risk (
	source_id          TEXT PRIMARY KEY,
	risk               DOUBLE PRECISION NOT NULL,
	backoff_multiplier DOUBLE PRECISION NOT NULL,
	identity_epoch     INTEGER NOT NULL,
	cooldown_until     TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
)`
