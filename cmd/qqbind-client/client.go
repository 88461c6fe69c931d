package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient is a thin wrapper over the qqbind HTTP API.
type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type startReply struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	QQNumber  string `json:"qq_number"`
	QRURL     string `json:"qr_url"`
	Message   string `json:"message"`
}

type statusReply struct {
	Status             string `json:"status"`
	Stage              string `json:"stage"`
	VerificationToken  string `json:"verification_token"`
	TokenExpiresMinute int    `json:"token_expires_minutes"`
	Message            string `json:"message"`
}

type bindReply struct {
	Success  bool   `json:"success"`
	QQNumber string `json:"qq_number"`
	CardKey  string `json:"card_key"`
	Action   string `json:"action"`
}

type queryReply struct {
	Bound      bool      `json:"bound"`
	QQNumber   string    `json:"qq_number"`
	CardKey    string    `json:"card_key"`
	BoundAt    time.Time `json:"bound_at"`
	LastUpdate time.Time `json:"last_update"`
}

type statsReply struct {
	TotalBindings   int64            `json:"total_bindings"`
	TodayOperations int64            `json:"today_operations"`
	ActionStats     map[string]int64 `json:"action_stats"`
}

type errorReply struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *apiClient) startVerification(ctx context.Context, qq string) (startReply, error) {
	var out startReply
	err := c.post(ctx, "/api/qq/verify", map[string]string{"qq_number": qq}, &out)
	return out, err
}

func (c *apiClient) status(ctx context.Context, qq string) (statusReply, error) {
	var out statusReply
	err := c.post(ctx, "/api/qq/status", map[string]string{"qq_number": qq}, &out)
	return out, err
}

// waitForOutcome polls the status endpoint until the session reaches a
// terminal state.
func (c *apiClient) waitForOutcome(ctx context.Context, qq string, interval time.Duration) (statusReply, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return statusReply{}, ctx.Err()
		case <-ticker.C:
		}

		reply, err := c.status(ctx, qq)
		if err != nil {
			return statusReply{}, err
		}
		if reply.Status != "pending" {
			return reply, nil
		}
	}
}

func (c *apiClient) bind(ctx context.Context, token, cardKey string) (bindReply, error) {
	var out bindReply
	err := c.post(ctx, "/api/qq/bind", map[string]string{
		"verification_token": token,
		"card_key":           cardKey,
	}, &out)
	return out, err
}

func (c *apiClient) query(ctx context.Context, qq string) (queryReply, error) {
	var out queryReply
	err := c.post(ctx, "/api/qq/query", map[string]string{"qq_number": qq}, &out)
	return out, err
}

func (c *apiClient) stats(ctx context.Context) (statsReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/qq/stats", nil)
	if err != nil {
		return statsReply{}, err
	}
	var out statsReply
	return out, c.do(req, &out)
}

func (c *apiClient) post(ctx context.Context, path string, body, dst any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *apiClient) do(req *http.Request, dst any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr errorReply
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.Unmarshal(data, dst)
}
