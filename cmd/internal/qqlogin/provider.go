// Package qqlogin talks to the QQ QR-code login endpoints and reduces their
// responses to a small typed outcome the verification core can consume.
//
// Everything brittle about the protocol (qrsig cookies, hash33 tokens,
// ptuiCB response bodies, uin cookie extraction) stays inside this package.
package qqlogin

import "context"

// State is the reduced state of a QR login challenge.
type State int

const (
	// StatePending means the QR code has not been scanned yet.
	StatePending State = iota
	// StateScanned means the code was scanned and is awaiting confirmation
	// on the phone.
	StateScanned
	// StateSucceeded means the login completed; Outcome.UIN carries the
	// verified QQ number.
	StateSucceeded
	// StateFailed means the login cannot complete; Outcome.Reason says why.
	StateFailed
	// StateExpired means the QR code expired before it was confirmed.
	StateExpired
)

// String returns a stable name for logging.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateScanned:
		return "scanned"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether polling can stop.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateExpired
}

// Outcome is the result of a single poll.
type Outcome struct {
	State State

	// UIN is the verified QQ number. Set only for StateSucceeded.
	UIN string

	// Reason describes the failure. Set only for StateFailed.
	Reason string
}

// Provider issues QR login challenges and reports their progress.
//
// Poll is repeatedly callable on a fixed interval; it never blocks past the
// HTTP client timeout. Transport failures are reported as StateFailed rather
// than errors: the caller cannot retry a half-consumed login attempt.
type Provider interface {
	// StartChallenge begins a new QR login and returns the challenge handle
	// together with the QR PNG the end user has to scan.
	StartChallenge(ctx context.Context) (*Challenge, error)

	// Poll reports the current state of the challenge.
	Poll(ctx context.Context, ch *Challenge) Outcome
}
