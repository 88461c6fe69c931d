package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory. It backs the dev mode where no
// database is configured; single-use semantics hold under the store mutex.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Insert persists a token record.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Value] = rec
	return nil
}

// Consume validates and marks a token used under a single lock, so exactly
// one concurrent redeemer wins.
func (s *MemoryStore) Consume(ctx context.Context, value string, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[value]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Used {
		return Record{}, ErrUsed
	}
	if now.After(rec.ExpiresAt) {
		return Record{}, ErrExpired
	}

	out := rec
	rec.Used = true
	s.recs[value] = rec
	return out, nil
}
