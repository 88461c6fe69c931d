package verifyapi

import "time"

type startRequest struct {
	QQNumber string `json:"qq_number"`
}

type statusRequest struct {
	QQNumber string `json:"qq_number"`
}

type bindRequest struct {
	VerificationToken string `json:"verification_token"`
	CardKey           string `json:"card_key"`
}

type queryRequest struct {
	QQNumber string `json:"qq_number"`
}

type startResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	QQNumber  string `json:"qq_number"`
	QRURL     string `json:"qr_url"`
	Message   string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`

	// Set only when Status is "verified".
	VerificationToken  string `json:"verification_token,omitempty"`
	TokenExpiresMinute int    `json:"token_expires_minutes,omitempty"`

	Message string `json:"message,omitempty"`
}

type bindResponse struct {
	Success  bool      `json:"success"`
	QQNumber string    `json:"qq_number"`
	CardKey  string    `json:"card_key"`
	Action   string    `json:"action"`
	BoundAt  time.Time `json:"bound_at"`
}

type queryResponse struct {
	Bound    bool   `json:"bound"`
	QQNumber string `json:"qq_number"`

	// Present only when Bound is true.
	CardKey    string    `json:"card_key,omitempty"`
	BoundAt    time.Time `json:"bound_at,omitzero"`
	LastUpdate time.Time `json:"last_update,omitzero"`
}

type statsResponse struct {
	TotalBindings   int64            `json:"total_bindings"`
	TodayOperations int64            `json:"today_operations"`
	ActionStats     map[string]int64 `json:"action_stats"`
}
