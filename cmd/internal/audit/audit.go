// Package audit records verification operations for the stats endpoint.
// Recording is best-effort: a failed audit write never fails the operation
// it describes.
package audit

import (
	"context"
	"sync"
	"time"
)

// Entry is one audit record.
type Entry struct {
	QQNumber string
	Action   string // "verify_start", "bind_success", "query", ...
	Result   string
	ClientIP string
	At       time.Time
}

// Stats summarizes recorded operations.
type Stats struct {
	// OperationsSince counts entries at or after the cutoff passed to the
	// Stats call (the handler passes the start of the current day).
	OperationsSince int64

	// ByAction counts all entries grouped by action.
	ByAction map[string]int64
}

// Recorder is the persistence boundary for audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// MemoryRecorder keeps audit entries in memory (dev mode).
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder constructs an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends an entry.
func (r *MemoryRecorder) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Stats summarizes recorded entries.
func (r *MemoryRecorder) Stats(ctx context.Context, since time.Time) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{ByAction: make(map[string]int64)}
	for _, e := range r.entries {
		st.ByAction[e.Action]++
		if !e.At.Before(since) {
			st.OperationsSince++
		}
	}
	return st, nil
}
