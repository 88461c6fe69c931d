package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qqbind/cmd/internal/audit"
	"qqbind/cmd/internal/binding"
	"qqbind/cmd/internal/metrics"
	"qqbind/cmd/internal/token"
)

// MinQQDigits is the minimum accepted QQ number length.
const MinQQDigits = 5

// Service is the verification façade: input validation plus thin composition
// of the session manager, token service, and binding store. It holds no state
// of its own.
type Service struct {
	log      *slog.Logger
	mgr      *Manager
	tokens   *token.Service
	bindings binding.Store
	audits   audit.Recorder
}

// NewService constructs a Service.
func NewService(log *slog.Logger, mgr *Manager, tokens *token.Service, bindings binding.Store, audits audit.Recorder) *Service {
	if log == nil {
		log = slog.Default()
	}
	if audits == nil {
		audits = audit.NewMemoryRecorder()
	}
	return &Service{log: log, mgr: mgr, tokens: tokens, bindings: bindings, audits: audits}
}

// TokenTTL returns the configured token lifetime (for caller messaging).
func (s *Service) TokenTTL() time.Duration { return s.tokens.TTL() }

// Start begins verification for qq.
func (s *Service) Start(ctx context.Context, qq string) (SessionView, error) {
	if !ValidQQNumber(qq) {
		return SessionView{}, fmt.Errorf("%w: qq number must be numeric, at least %d digits", ErrInvalidInput, MinQQDigits)
	}
	return s.mgr.Start(ctx, qq)
}

// Status reports the session state for qq. Terminal states are consumed on
// read.
func (s *Service) Status(ctx context.Context, qq string) (SessionView, error) {
	if !ValidQQNumber(qq) {
		return SessionView{}, fmt.Errorf("%w: qq number must be numeric, at least %d digits", ErrInvalidInput, MinQQDigits)
	}
	if err := ctx.Err(); err != nil {
		return SessionView{}, err
	}
	return s.mgr.TakeStatus(qq)
}

// Bind redeems a verification token and upserts the binding for the QQ
// number the token was earned by.
func (s *Service) Bind(ctx context.Context, tokenValue, cardKey string) (binding.Record, bool, error) {
	if tokenValue == "" || cardKey == "" {
		return binding.Record{}, false, fmt.Errorf("%w: verification token and card key are required", ErrInvalidInput)
	}

	qq, err := s.tokens.Redeem(ctx, tokenValue)
	if err != nil {
		metrics.TokenRedemptions.WithLabelValues(redeemResult(err)).Inc()
		return binding.Record{}, false, err
	}
	metrics.TokenRedemptions.WithLabelValues("ok").Inc()

	rec, created, err := s.bindings.Upsert(ctx, qq, cardKey, time.Now().UTC())
	if err != nil {
		// The token is burned at this point; the caller has to restart
		// verification. Same behavior as the reference system.
		s.log.Error("verify.bind.upsert.fail", "qq", qq, "err", err)
		return binding.Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	action := "updated"
	if created {
		action = "created"
	}
	metrics.BindingUpserts.WithLabelValues(action).Inc()
	s.log.Info("verify.bind.ok", "qq", qq, "action", action)
	return rec, created, nil
}

// Query returns the binding for qq. An unbound QQ number is a regular
// answer, not an error: bound is false and the record is zero.
func (s *Service) Query(ctx context.Context, qq string) (binding.Record, bool, error) {
	if !ValidQQNumber(qq) {
		return binding.Record{}, false, fmt.Errorf("%w: qq number must be numeric, at least %d digits", ErrInvalidInput, MinQQDigits)
	}
	rec, err := s.bindings.Lookup(ctx, qq)
	if errors.Is(err, binding.ErrNotFound) {
		return binding.Record{}, false, nil
	}
	if err != nil {
		return binding.Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, true, nil
}

// Stats summarizes bindings and audited operations.
type Stats struct {
	TotalBindings   int64
	TodayOperations int64
	ActionStats     map[string]int64
}

// ServiceStats composes binding totals with audit counters. The "today"
// window starts at midnight UTC.
func (s *Service) ServiceStats(ctx context.Context, now time.Time) (Stats, error) {
	total, err := s.bindings.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	as, err := s.audits.Stats(ctx, dayStart)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return Stats{
		TotalBindings:   total,
		TodayOperations: as.OperationsSince,
		ActionStats:     as.ByAction,
	}, nil
}

// Audit records a best-effort audit entry.
func (s *Service) Audit(ctx context.Context, e audit.Entry) {
	if err := s.audits.Record(ctx, e); err != nil {
		s.log.Warn("verify.audit.fail", "action", e.Action, "err", err)
	}
}

// QRImage returns the QR PNG for a pending session.
func (s *Service) QRImage(qq string) ([]byte, error) {
	if !ValidQQNumber(qq) {
		return nil, fmt.Errorf("%w: qq number must be numeric, at least %d digits", ErrInvalidInput, MinQQDigits)
	}
	return s.mgr.QRImage(qq)
}

// Watch subscribes to status transitions for the live session owning qq.
func (s *Service) Watch(qq string) (<-chan StatusEvent, func(), error) {
	if !ValidQQNumber(qq) {
		return nil, nil, fmt.Errorf("%w: qq number must be numeric, at least %d digits", ErrInvalidInput, MinQQDigits)
	}
	return s.mgr.Watch(qq)
}

// ValidQQNumber reports whether qq is a plausible QQ number: digits only,
// at least MinQQDigits long.
func ValidQQNumber(qq string) bool {
	if len(qq) < MinQQDigits {
		return false
	}
	for _, r := range qq {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func redeemResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, token.ErrUsed):
		return "used"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
