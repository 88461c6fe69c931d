package verify

import "errors"

var (
	// ErrInvalidInput is returned for malformed QQ numbers or card keys,
	// before any component is called.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyActive is returned when a live session already exists for
	// the QQ number.
	ErrAlreadyActive = errors.New("verification session already active")

	// ErrNotFound is returned when no session (or binding) exists.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after the manager shut down.
	ErrClosed = errors.New("verification manager closed")

	// ErrStoreUnavailable is returned when the binding store cannot be
	// reached.
	ErrStoreUnavailable = errors.New("binding store unavailable")
)
