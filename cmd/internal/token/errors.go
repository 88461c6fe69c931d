package token

import "errors"

var (
	// ErrNotFound is returned when a token value matches no record.
	ErrNotFound = errors.New("token not found")

	// ErrUsed is returned when the token was already redeemed.
	ErrUsed = errors.New("token already used")

	// ErrExpired is returned when the token TTL elapsed before redemption.
	ErrExpired = errors.New("token expired")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers map it to a local fault, not an identity fault.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
