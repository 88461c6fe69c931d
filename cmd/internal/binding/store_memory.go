package binding

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps bindings in process memory (dev mode without a DB).
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Upsert creates or overwrites the binding for qq.
func (s *MemoryStore) Upsert(ctx context.Context, qq, cardKey string, now time.Time) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.recs[qq]; ok {
		rec.CardKey = cardKey
		rec.VerificationValue = 1
		rec.UpdatedAt = now
		s.recs[qq] = rec
		return rec, false, nil
	}

	rec := Record{
		QQNumber:          qq,
		CardKey:           cardKey,
		VerificationValue: 1,
		BoundAt:           now,
		UpdatedAt:         now,
	}
	s.recs[qq] = rec
	return rec, true, nil
}

// Lookup returns the binding for qq.
func (s *MemoryStore) Lookup(ctx context.Context, qq string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[qq]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Count returns the number of bindings.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.recs)), nil
}
