package verifyapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// handleWS streams session status transitions over a websocket. The stream
// carries transitions only, never the verification token: clients still fetch
// the token through the status endpoint, which consumes the terminal state.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	qq := strings.TrimSpace(r.URL.Query().Get("qq_number"))

	events, stop, err := h.svc.Watch(qq)
	if err != nil {
		h.writeServiceError(w, r, "ws", err)
		return
	}
	defer stop()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Info("api.ws.accept.fail", "qq", qq, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// Reads are only consumed to notice the peer going away.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			if err := h.writeEvent(r.Context(), conn, ev); err != nil {
				h.log.Info("api.ws.write.fail", "qq", qq, "err", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-readClosed:
			return
		case <-r.Context().Done():
			_ = conn.Close(websocket.StatusGoingAway, "server closing")
			return
		}
	}
}

func (h *Handler) writeEvent(parent context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wait := h.cfg.WSWriteWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
