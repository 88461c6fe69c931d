package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder persists audit entries in qqbind.verification_logs.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	schema string
}

// RecorderOption configures PostgresRecorder.
type RecorderOption func(*PostgresRecorder) error

// WithSchema sets the DB schema used by the recorder (default: "qqbind").
func WithSchema(schema string) RecorderOption {
	return func(r *PostgresRecorder) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("empty schema")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresRecorder constructs a PostgresRecorder.
func NewPostgresRecorder(pool *pgxpool.Pool, opts ...RecorderOption) (*PostgresRecorder, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	r := &PostgresRecorder{pool: pool, schema: "qqbind"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PostgresRecorder) table() string {
	return r.schema + ".verification_logs"
}

// Record inserts one audit row.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO `+r.table()+` (qq_number, action, result, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.QQNumber, e.Action, e.Result, nullIfEmpty(e.ClientIP), at)
	return err
}

// Stats summarizes recorded entries.
func (r *PostgresRecorder) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{ByAction: make(map[string]int64)}

	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM `+r.table()+` WHERE created_at >= $1
	`, since).Scan(&st.OperationsSince); err != nil {
		return Stats{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT action, COUNT(*) FROM `+r.table()+` GROUP BY action
	`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return Stats{}, err
		}
		st.ByAction[action] = n
	}
	return st, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
