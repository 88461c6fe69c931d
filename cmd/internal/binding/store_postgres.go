package binding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bindings in PostgreSQL (qqbind.qq_bindings).
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
	return s.schema + ".qq_bindings"
}

// Upsert inserts or overwrites the binding in one statement. The xmax = 0
// check distinguishes a fresh insert from a conflict update.
func (s *PostgresStore) Upsert(ctx context.Context, qq, cardKey string, now time.Time) (Record, bool, error) {
	var (
		rec     Record
		created bool
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (qq_number, card_key, verification_value, bind_time, last_update)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (qq_number) DO UPDATE
		SET card_key = EXCLUDED.card_key,
		    verification_value = 1,
		    last_update = EXCLUDED.last_update
		RETURNING qq_number, card_key, verification_value, bind_time, last_update, (xmax = 0)
	`, qq, cardKey, now).Scan(
		&rec.QQNumber,
		&rec.CardKey,
		&rec.VerificationValue,
		&rec.BoundAt,
		&rec.UpdatedAt,
		&created,
	)
	if err != nil {
		return Record{}, false, err
	}
	return rec, created, nil
}

// Lookup returns the binding for qq.
func (s *PostgresStore) Lookup(ctx context.Context, qq string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT qq_number, card_key, verification_value, bind_time, last_update
		FROM `+s.table()+`
		WHERE qq_number = $1
	`, qq).Scan(
		&rec.QQNumber,
		&rec.CardKey,
		&rec.VerificationValue,
		&rec.BoundAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Count returns the number of bindings.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.table()).Scan(&n)
	return n, err
}
