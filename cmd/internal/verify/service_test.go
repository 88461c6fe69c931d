package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"qqbind/cmd/internal/audit"
	"qqbind/cmd/internal/binding"
	"qqbind/cmd/internal/qqlogin"
	"qqbind/cmd/internal/token"
)

func newTestService(t *testing.T, p *fakeProvider) (*Service, binding.Store) {
	t.Helper()
	tokens := token.NewService(token.NewMemoryStore(), 30*time.Minute)
	mgr := NewManager(nil, fastConfig(), p, tokens, nil)
	t.Cleanup(mgr.Close)
	bindings := binding.NewMemoryStore()
	return NewService(nil, mgr, tokens, bindings, audit.NewMemoryRecorder()), bindings
}

func TestServiceRejectsMalformedQQ(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})
	ctx := context.Background()

	for _, qq := range []string{"", "123", "12a45", "1234 5", "12345678901234567890x"} {
		if _, err := svc.Start(ctx, qq); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Start(%q) err = %v, want ErrInvalidInput", qq, err)
		}
		if _, err := svc.Status(ctx, qq); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Status(%q) err = %v, want ErrInvalidInput", qq, err)
		}
		if _, _, err := svc.Query(ctx, qq); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Query(%q) err = %v, want ErrInvalidInput", qq, err)
		}
	}
}

func TestBindRejectsEmptyInputs(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})
	ctx := context.Background()

	if _, _, err := svc.Bind(ctx, "", "KEY"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := svc.Bind(ctx, "sometoken", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

// awaitServiceTerminal drives Status until the terminal view is consumed.
func awaitServiceTerminal(t *testing.T, svc *Service, qq string) SessionView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := svc.Status(context.Background(), qq)
		if err != nil {
			t.Fatalf("Status(%s): %v", qq, err)
		}
		if view.Status.Terminal() {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal state", qq)
	return SessionView{}
}

func TestVerifyBindQueryFlow(t *testing.T) {
	p := &fakeProvider{script: []qqlogin.Outcome{
		{State: qqlogin.StateScanned},
		{State: qqlogin.StateSucceeded, UIN: "12345"},
	}}
	svc, _ := newTestService(t, p)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "12345"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := awaitServiceTerminal(t, svc, "12345")
	if final.Status != StatusVerified {
		t.Fatalf("status = %s (reason %q)", final.Status, final.Reason)
	}

	rec, created, err := svc.Bind(ctx, final.Token, "ABCDEF")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !created {
		t.Fatal("first bind should create")
	}
	if rec.QQNumber != "12345" || rec.CardKey != "ABCDEF" {
		t.Fatalf("record = %+v", rec)
	}

	got, bound, err := svc.Query(ctx, "12345")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !bound || got.CardKey != "ABCDEF" {
		t.Fatalf("bound = %v, card key = %q", bound, got.CardKey)
	}

	// The token was consumed by the bind.
	if _, _, err := svc.Bind(ctx, final.Token, "OTHER"); !errors.Is(err, token.ErrUsed) {
		t.Fatalf("reuse err = %v, want token.ErrUsed", err)
	}
}

func TestRebindPreservesBoundAt(t *testing.T) {
	p := &fakeProvider{script: []qqlogin.Outcome{
		{State: qqlogin.StateSucceeded, UIN: "12345"},
	}}
	svc, _ := newTestService(t, p)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "12345"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := awaitServiceTerminal(t, svc, "12345")
	if first.Status != StatusVerified {
		t.Fatalf("status = %s", first.Status)
	}
	recA, _, err := svc.Bind(ctx, first.Token, "KEY-A")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// A second full verification run for the same QQ number.
	p.mu.Lock()
	p.script = []qqlogin.Outcome{{State: qqlogin.StateSucceeded, UIN: "12345"}}
	p.mu.Unlock()
	if _, err := svc.Start(ctx, "12345"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	second := awaitServiceTerminal(t, svc, "12345")
	if second.Status != StatusVerified {
		t.Fatalf("status = %s", second.Status)
	}

	recB, created, err := svc.Bind(ctx, second.Token, "KEY-B")
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if created {
		t.Fatal("rebind should update, not create")
	}
	if !recB.BoundAt.Equal(recA.BoundAt) {
		t.Fatalf("bound_at changed: %v -> %v", recA.BoundAt, recB.BoundAt)
	}
	if recB.CardKey != "KEY-B" {
		t.Fatalf("card key = %q", recB.CardKey)
	}
}

func TestBindUnknownToken(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})
	ctx := context.Background()

	junk := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if _, _, err := svc.Bind(ctx, junk, "KEY"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("err = %v, want token.ErrNotFound", err)
	}
	if _, _, err := svc.Bind(ctx, "not-hex-at-all", "KEY"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("err = %v, want token.ErrNotFound", err)
	}
}

func TestQueryUnknownQQ(t *testing.T) {
	svc, _ := newTestService(t, &fakeProvider{})
	rec, bound, err := svc.Query(context.Background(), "424242")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if bound {
		t.Fatalf("unbound qq reported bound, record = %+v", rec)
	}
}

func TestServiceStats(t *testing.T) {
	svc, bindings := newTestService(t, &fakeProvider{})
	ctx := context.Background()
	now := time.Now().UTC()

	for _, qq := range []string{"11111", "22222"} {
		if _, _, err := bindings.Upsert(ctx, qq, "K", now); err != nil {
			t.Fatalf("Upsert(%s): %v", qq, err)
		}
	}
	svc.Audit(ctx, audit.Entry{QQNumber: "11111", Action: "verify", Result: "success", At: now})
	svc.Audit(ctx, audit.Entry{QQNumber: "22222", Action: "bind", Result: "success", At: now})
	svc.Audit(ctx, audit.Entry{QQNumber: "22222", Action: "bind", Result: "failed", At: now})

	stats, err := svc.ServiceStats(ctx, now)
	if err != nil {
		t.Fatalf("ServiceStats: %v", err)
	}
	if stats.TotalBindings != 2 {
		t.Fatalf("TotalBindings = %d", stats.TotalBindings)
	}
	if stats.TodayOperations != 3 {
		t.Fatalf("TodayOperations = %d", stats.TodayOperations)
	}
	if stats.ActionStats["bind"] != 2 || stats.ActionStats["verify"] != 1 {
		t.Fatalf("ActionStats = %v", stats.ActionStats)
	}
}

func TestValidQQNumber(t *testing.T) {
	valid := []string{"12345", "1000000", "9999999999"}
	for _, qq := range valid {
		if !ValidQQNumber(qq) {
			t.Fatalf("ValidQQNumber(%q) = false", qq)
		}
	}
	invalid := []string{"", "1234", "12 45", "abcde", "12345x", "-12345"}
	for _, qq := range invalid {
		if ValidQQNumber(qq) {
			t.Fatalf("ValidQQNumber(%q) = true", qq)
		}
	}
}
