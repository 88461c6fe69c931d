package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestIssueValueShape(t *testing.T) {
	svc := NewService(NewMemoryStore(), 0)

	issued, err := svc.Issue(context.Background(), "12345")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !wellFormed(issued.Value) {
		t.Fatalf("token %q is not 64 hex chars", issued.Value)
	}
	if got := issued.ExpiresAt.Sub(issued.IssuedAt); got != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", got, DefaultTTL)
	}
}

func TestIssueValuesUnique(t *testing.T) {
	svc := NewService(NewMemoryStore(), time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		issued, err := svc.Issue(context.Background(), "12345")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[issued.Value] {
			t.Fatalf("duplicate token %s", issued.Value)
		}
		seen[issued.Value] = true
	}
}

func TestRedeemHappyPath(t *testing.T) {
	svc := NewService(NewMemoryStore(), time.Minute)

	issued, err := svc.Issue(context.Background(), "54321")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	qq, err := svc.Redeem(context.Background(), issued.Value)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if qq != "54321" {
		t.Fatalf("qq = %q, want 54321", qq)
	}

	if _, err := svc.Redeem(context.Background(), issued.Value); !errors.Is(err, ErrUsed) {
		t.Fatalf("second redeem err = %v, want ErrUsed", err)
	}
}

func TestRedeemUnknownAndMalformed(t *testing.T) {
	svc := NewService(NewMemoryStore(), time.Minute)

	cases := []string{
		"",
		"not-a-token",
		"ABCDEF0000000000000000000000000000000000000000000000000000000000", // uppercase
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", // well-formed, never issued
	}
	for _, v := range cases {
		if _, err := svc.Redeem(context.Background(), v); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Redeem(%q) err = %v, want ErrNotFound", v, err)
		}
	}
}

func TestConsumeExpiryBoundary(t *testing.T) {
	store := NewMemoryStore()
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		Value:     "00e1a7b2c3d4e5f60718293a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c",
		QQNumber:  "12345",
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(30 * time.Minute),
	}
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// 29 minutes in: still valid.
	got, err := store.Consume(context.Background(), rec.Value, issuedAt.Add(29*time.Minute))
	if err != nil {
		t.Fatalf("Consume at 29m: %v", err)
	}
	if got.QQNumber != "12345" {
		t.Fatalf("qq = %q", got.QQNumber)
	}

	// Fresh record just past the TTL: rejected as expired, not as used.
	rec.Value = "11e1a7b2c3d4e5f60718293a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c"
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err = store.Consume(context.Background(), rec.Value, issuedAt.Add(30*time.Minute+time.Second))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Consume past ttl err = %v, want ErrExpired", err)
	}
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	svc := NewService(NewMemoryStore(), time.Minute)
	issued, err := svc.Issue(context.Background(), "12345")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), issued.Value)
		}()
	}
	wg.Wait()

	wins, used := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrUsed):
			used++
		default:
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if wins != 1 || used != n-1 {
		t.Fatalf("wins = %d, used = %d (want 1 and %d)", wins, used, n-1)
	}
}
