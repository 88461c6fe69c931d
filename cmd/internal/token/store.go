package token

import (
	"context"
	"time"
)

// Record is one verification token row.
type Record struct {
	Value     string
	QQNumber  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Store is the persistence boundary for verification tokens.
//
// Consume must be atomic with respect to concurrent redemption of the same
// value: exactly one caller observes success, the rest get ErrUsed.
type Store interface {
	// Insert persists a freshly minted token.
	Insert(ctx context.Context, rec Record) error

	// Consume validates the token at the given instant and marks it used.
	// Validation order: unknown value -> ErrNotFound, already used ->
	// ErrUsed, past expiry -> ErrExpired. On success it returns the record
	// as it was before consumption.
	Consume(ctx context.Context, value string, now time.Time) (Record, error)
}
