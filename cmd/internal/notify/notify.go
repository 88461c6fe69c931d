// Package notify pushes session status updates to an external collaborator.
// Delivery is fire-and-forget: failures are logged, never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

// Update is the outbound payload for one session transition.
type Update struct {
	SessionID string            `json:"session_id"`
	QQNumber  string            `json:"qq_number"`
	Status    string            `json:"status"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Notifier delivers session updates.
type Notifier interface {
	SessionUpdate(ctx context.Context, u Update)
}

// Noop drops all updates. Used when no callback URL is configured.
type Noop struct{}

// SessionUpdate does nothing.
func (Noop) SessionUpdate(context.Context, Update) {}

// Webhook POSTs updates as JSON to a fixed URL.
type Webhook struct {
	log *slog.Logger
	url string
	hc  *http.Client
}

// NewWebhook constructs a Webhook notifier.
func NewWebhook(log *slog.Logger, url string, timeout time.Duration) *Webhook {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		log: log,
		url: url,
		hc:  &http.Client{Timeout: timeout},
	}
}

// SessionUpdate delivers one update. Errors and non-2xx responses are logged
// and dropped.
func (w *Webhook) SessionUpdate(ctx context.Context, u Update) {
	body, err := json.Marshal(u)
	if err != nil {
		w.log.Error("notify.marshal.fail", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Error("notify.request.fail", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		w.log.Warn("notify.post.fail", "url", w.url, "err", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.log.Warn("notify.post.rejected", "url", w.url, "status", resp.StatusCode, "session_id", u.SessionID)
	}
}
