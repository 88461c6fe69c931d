package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// EnsureSchema creates the qqbind schema and tables if they do not exist.
// All statements are idempotent, so concurrent instances can race safely.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS qqbind`,
		`CREATE TABLE IF NOT EXISTS qqbind.verification_tokens (
			token      TEXT PRIMARY KEY,
			qq_number  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used       BOOLEAN NOT NULL DEFAULT FALSE,
			used_at    TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS qqbind.qq_bindings (
			qq_number          TEXT PRIMARY KEY,
			card_key           TEXT NOT NULL,
			verification_value INTEGER NOT NULL DEFAULT 1,
			bind_time          TIMESTAMPTZ NOT NULL,
			last_update        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS qqbind.verification_logs (
			id         BIGSERIAL PRIMARY KEY,
			qq_number  TEXT,
			action     TEXT NOT NULL,
			result     TEXT,
			client_ip  TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS verification_logs_created_at_idx
			ON qqbind.verification_logs (created_at)`,
		`CREATE INDEX IF NOT EXISTS verification_tokens_qq_number_idx
			ON qqbind.verification_tokens (qq_number)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
