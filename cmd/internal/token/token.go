// Package token mints and redeems the single-use verification tokens that
// prove a QQ number passed the QR login challenge.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is how long a minted token stays redeemable.
const DefaultTTL = 30 * time.Minute

// Service mints opaque tokens and consumes them exactly once.
type Service struct {
	store Store
	ttl   time.Duration
}

// Issued is the caller-visible result of minting a token.
type Issued struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewService constructs a Service. A non-positive ttl falls back to
// DefaultTTL.
func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue mints a token bound to qq and persists it unused. Store failures
// surface as ErrStoreUnavailable.
func (s *Service) Issue(ctx context.Context, qq string) (Issued, error) {
	now := time.Now().UTC()
	value, err := newValue(qq, now)
	if err != nil {
		return Issued{}, err
	}

	rec := Record{
		Value:     value,
		QQNumber:  qq,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return Issued{Value: value, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}, nil
}

// Redeem consumes a token and returns the QQ number it was bound to.
func (s *Service) Redeem(ctx context.Context, value string) (string, error) {
	value = strings.TrimSpace(value)
	if !wellFormed(value) {
		// Cheap reject before touching the store; also avoids leaking
		// timing differences between malformed and unknown values.
		return "", ErrNotFound
	}

	rec, err := s.store.Consume(ctx, value, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return rec.QQNumber, nil
}

// newValue derives the token value: SHA-256 over qq, mint time, and 16 random
// bytes. The qq/time mix keeps values traceable; entropy comes from the
// random bytes.
func newValue(qq string, now time.Time) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	seed := fmt.Sprintf("%s-%d-%s", qq, now.Unix(), hex.EncodeToString(buf[:]))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:]), nil
}

// wellFormed reports whether value looks like a token we could have minted:
// exactly 64 lowercase hex characters.
func wellFormed(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, r := range value {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
