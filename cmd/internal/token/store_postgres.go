package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists tokens in PostgreSQL (qqbind.verification_tokens).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "qqbind").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "qqbind"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return s.schema + ".verification_tokens"
}

// Insert persists a freshly minted token.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (token, qq_number, created_at, expires_at, used, used_at)
		VALUES ($1, $2, $3, $4, FALSE, NULL)
	`, rec.Value, rec.QQNumber, rec.IssuedAt, rec.ExpiresAt)
	return err
}

// Consume locks the token row, classifies it, and marks it used inside one
// transaction. The row lock is what makes concurrent redemption yield exactly
// one winner.
func (s *PostgresStore) Consume(ctx context.Context, value string, now time.Time) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rec Record
	err = tx.QueryRow(ctx, `
		SELECT token, qq_number, created_at, expires_at, used
		FROM `+s.table()+`
		WHERE token = $1
		FOR UPDATE
	`, value).Scan(&rec.Value, &rec.QQNumber, &rec.IssuedAt, &rec.ExpiresAt, &rec.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	if rec.Used {
		return Record{}, ErrUsed
	}
	if now.After(rec.ExpiresAt) {
		return Record{}, ErrExpired
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.table()+`
		SET used = TRUE, used_at = $2
		WHERE token = $1
	`, value, now); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return rec, nil
}
