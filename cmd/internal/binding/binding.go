// Package binding owns the durable QQ number -> card key mapping.
package binding

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup when the QQ number has no binding.
var ErrNotFound = errors.New("binding not found")

// Record is one binding row. CardKey is stored and returned in plaintext;
// callers query it back, so it cannot be hashed at rest.
type Record struct {
	QQNumber          string
	CardKey           string
	VerificationValue int
	BoundAt           time.Time
	UpdatedAt         time.Time
}

// Store is the persistence boundary for bindings.
type Store interface {
	// Upsert creates or overwrites the binding for qq. On update the card
	// key is replaced, updated_at bumped, and bound_at preserved. The
	// created flag is caller messaging only.
	Upsert(ctx context.Context, qq, cardKey string, now time.Time) (rec Record, created bool, err error)

	// Lookup returns the binding for qq, or ErrNotFound.
	Lookup(ctx context.Context, qq string) (Record, error)

	// Count returns the number of bindings (stats endpoint).
	Count(ctx context.Context) (int64, error)
}
