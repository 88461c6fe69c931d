// Package main provides a CI-friendly smoke test for a running qqbind server.
//
// It validates:
//   - verification start + QR availability
//   - status stream over /ws/status (transitions only, no token leakage)
//   - token delivery through the status endpoint
//   - bind -> query roundtrip
//
// It needs a server whose login provider completes (e.g. a stub provider in a
// test deployment); against the real provider it stops after the stream check.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type statusEvent struct {
	SessionID string `json:"session_id"`
	QQNumber  string `json:"qq_number"`
	Status    string `json:"status"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Base URL of the qqbind server")
		qq       = flag.String("qq", "10001", "QQ number to verify")
		cardKey  = flag.String("card-key", "SMOKE-KEY", "Card key to bind on success")
		timeout  = flag.Duration("timeout", 30*time.Second, "Overall timeout")
		bindFlow = flag.Bool("bind", false, "Run the full bind+query flow (needs a completing provider)")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	base := strings.TrimRight(*baseURL, "/")

	var started struct {
		SessionID string `json:"session_id"`
		QRURL     string `json:"qr_url"`
	}
	mustPost(ctx, base+"/api/qq/verify", map[string]string{"qq_number": *qq}, &started)
	if started.SessionID == "" {
		fatalf("verify: missing session_id")
	}
	fmt.Printf("session started: %s\n", started.SessionID)

	mustFetchQR(ctx, base+started.QRURL)

	conn := mustDialStatusStream(ctx, base, *qq)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if !*bindFlow {
		fmt.Println("OK: verify + qr + stream established (bind flow skipped)")
		return
	}

	mustWatchUntilTerminal(ctx, conn, *qq)

	token := mustTakeToken(ctx, base, *qq)
	fmt.Printf("token delivered (%d chars)\n", len(token))

	var bound struct {
		Success bool   `json:"success"`
		Action  string `json:"action"`
	}
	mustPost(ctx, base+"/api/qq/bind", map[string]string{
		"verification_token": token,
		"card_key":           *cardKey,
	}, &bound)
	if !bound.Success {
		fatalf("bind: success=false")
	}

	var queried struct {
		Bound   bool   `json:"bound"`
		CardKey string `json:"card_key"`
	}
	mustPost(ctx, base+"/api/qq/query", map[string]string{"qq_number": *qq}, &queried)
	if !queried.Bound || queried.CardKey != *cardKey {
		fatalf("query: got bound=%v card_key=%q", queried.Bound, queried.CardKey)
	}

	fmt.Printf("OK: qq=%s action=%s card_key=%s\n", *qq, bound.Action, queried.CardKey)
}

func mustDialStatusStream(ctx context.Context, base, qq string) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/status?qq_number=" + qq
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", wsURL, err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWatchUntilTerminal(ctx context.Context, conn *websocket.Conn, qq string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Server closes the stream when the session ends.
			return
		}
		if bytes.Contains(data, []byte("verification_token")) {
			fatalf("status stream leaked a token")
		}

		var ev statusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			fatalf("bad stream event: %v", err)
		}
		if ev.QQNumber != qq {
			fatalf("stream event for wrong qq: %q", ev.QQNumber)
		}
		fmt.Printf("stream: %s\n", ev.Status)
	}
}

func mustTakeToken(ctx context.Context, base, qq string) string {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status struct {
			Status string `json:"status"`
			Token  string `json:"verification_token"`
			Stage  string `json:"stage"`
			Msg    string `json:"message"`
		}
		mustPost(ctx, base+"/api/qq/status", map[string]string{"qq_number": qq}, &status)
		switch status.Status {
		case "verified":
			if len(status.Token) != 64 {
				fatalf("token has %d chars, want 64", len(status.Token))
			}
			return status.Token
		case "failed":
			fatalf("verification failed (%s): %s", status.Stage, status.Msg)
		}
		time.Sleep(500 * time.Millisecond)
	}
	fatalf("timeout waiting for verified status")
	return ""
}

func mustFetchQR(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fatalf("qr request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("fetch qr: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("qr status: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		fatalf("qr content type: %q", ct)
	}
}

func mustPost(ctx context.Context, url string, body, dst any) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode >= 400 {
		fatalf("POST %s: %s: %s", url, resp.Status, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		fatalf("decode %s: %v", url, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
