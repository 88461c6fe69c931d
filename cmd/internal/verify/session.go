package verify

import "time"

// Status is the lifecycle state of a verification session.
type Status string

const (
	// StatusWaitingScan: QR generated, waiting for the user to scan it.
	StatusWaitingScan Status = "waiting_qr_scan"
	// StatusScanning: scanned, waiting for confirmation on the phone.
	StatusScanning Status = "scanning"
	// StatusVerified: login confirmed and a token was minted. Terminal.
	StatusVerified Status = "qq_verified_success"
	// StatusLoginFailed: the challenge expired, was rejected, or the
	// provider failed. Terminal.
	StatusLoginFailed Status = "login_failed"
	// StatusTokenFailed: identity was confirmed but minting the token
	// failed. A local fault, not an identity fault. Terminal.
	StatusTokenFailed Status = "token_generation_failed"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusLoginFailed, StatusTokenFailed:
		return true
	default:
		return false
	}
}

// SessionView is an externally observable snapshot of one session.
type SessionView struct {
	SessionID string
	QQNumber  string
	Status    Status
	Reason    string // failure detail, terminal failures only
	CreatedAt time.Time

	// Token fields are set only for StatusVerified.
	Token          string
	TokenExpiresAt time.Time
	VerifiedAt     time.Time
}

// StatusEvent is one transition pushed to watchers. It never carries the
// token: the token is delivered exactly once, through the status endpoint.
type StatusEvent struct {
	SessionID string    `json:"session_id"`
	QQNumber  string    `json:"qq_number"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}
