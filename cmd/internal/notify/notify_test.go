package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookDeliversPayload(t *testing.T) {
	got := make(chan Update, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- u
	}))
	defer srv.Close()

	w := NewWebhook(nil, srv.URL, time.Second)
	w.SessionUpdate(context.Background(), Update{
		SessionID: "01J00000000000000000000000",
		QQNumber:  "12345",
		Status:    "scanning",
	})

	select {
	case u := <-got:
		if u.QQNumber != "12345" || u.Status != "scanning" {
			t.Fatalf("unexpected payload: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestWebhookSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Must not panic or block on a rejecting endpoint.
	w := NewWebhook(nil, srv.URL, time.Second)
	w.SessionUpdate(context.Background(), Update{SessionID: "x", Status: "failed"})

	// Unreachable endpoint is also swallowed.
	w = NewWebhook(nil, "http://127.0.0.1:1/unreachable", 200*time.Millisecond)
	w.SessionUpdate(context.Background(), Update{SessionID: "x", Status: "failed"})
}
