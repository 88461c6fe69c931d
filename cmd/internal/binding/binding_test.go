package binding

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertCreateThenUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec, created, err := store.Upsert(ctx, "12345", "KEY-A", t0)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Fatal("first upsert should report created")
	}
	if rec.BoundAt != t0 || rec.UpdatedAt != t0 {
		t.Fatalf("timestamps = %v / %v, want both %v", rec.BoundAt, rec.UpdatedAt, t0)
	}

	t1 := t0.Add(time.Hour)
	rec, created, err = store.Upsert(ctx, "12345", "KEY-B", t1)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created {
		t.Fatal("second upsert should report update")
	}
	if rec.CardKey != "KEY-B" {
		t.Fatalf("card key = %q, want KEY-B", rec.CardKey)
	}
	if rec.BoundAt != t0 {
		t.Fatalf("bound_at changed on update: %v", rec.BoundAt)
	}
	if rec.UpdatedAt != t1 {
		t.Fatalf("updated_at = %v, want %v", rec.UpdatedAt, t1)
	}

	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestUpsertSameKeyBumpsUpdatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, _, err := store.Upsert(ctx, "12345", "SAME", t0); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, created, err := store.Upsert(ctx, "12345", "SAME", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created {
		t.Fatal("expected update, got create")
	}
	if rec.CardKey != "SAME" {
		t.Fatalf("card key = %q", rec.CardKey)
	}
	if !rec.UpdatedAt.After(rec.BoundAt) {
		t.Fatalf("updated_at %v not after bound_at %v", rec.UpdatedAt, rec.BoundAt)
	}
}

func TestLookupMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Lookup(context.Background(), "99999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
