// Package verify drives the QQ verification lifecycle: one session per QQ
// number, one supervised polling task per session, read-once terminal states,
// and the façade that composes challenges, tokens, and bindings.
package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"qqbind/cmd/internal/metrics"
	"qqbind/cmd/internal/notify"
	"qqbind/cmd/internal/qqlogin"
	"qqbind/cmd/internal/token"
)

const (
	// DefaultPollInterval matches the reference behavior of the login
	// scraper.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout bounds a session's polling task. The QR code
	// itself expires after a few minutes; this cap also catches providers
	// that keep answering "pending" forever.
	DefaultPollTimeout = 5 * time.Minute

	watcherBuffer = 8
)

// ManagerConfig tunes the polling loop.
type ManagerConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// session is one live verification attempt. The polling goroutine is the
// sole writer of status after creation; all access goes through the manager
// mutex.
type session struct {
	id        string
	qq        string
	status    Status
	reason    string
	createdAt time.Time

	challenge *qqlogin.Challenge

	token      token.Issued
	verifiedAt time.Time

	cancel   context.CancelFunc
	watchers map[int]chan StatusEvent
	nextID   int
}

// Manager owns the live-session table and the polling tasks.
type Manager struct {
	log      *slog.Logger
	cfg      ManagerConfig
	provider qqlogin.Provider
	tokens   *token.Service
	notifier notify.Notifier

	mu     sync.Mutex
	live   map[string]*session
	closed bool

	wg sync.WaitGroup
}

// NewManager constructs a Manager.
func NewManager(log *slog.Logger, cfg ManagerConfig, provider qqlogin.Provider, tokens *token.Service, notifier notify.Notifier) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Manager{
		log:      log,
		cfg:      cfg.withDefaults(),
		provider: provider,
		tokens:   tokens,
		notifier: notifier,
		live:     make(map[string]*session),
	}
}

// Start creates a session for qq and schedules its polling task.
//
// A live (non-terminal) session for the same QQ number rejects the call with
// ErrAlreadyActive. A terminal-but-unobserved session is replaced: its task
// is already finished and its token, if any, stays redeemable in the token
// store.
func (m *Manager) Start(ctx context.Context, qq string) (SessionView, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SessionView{}, ErrClosed
	}
	if old, ok := m.live[qq]; ok && !old.status.Terminal() {
		m.mu.Unlock()
		return SessionView{}, ErrAlreadyActive
	} else if ok {
		m.dropLocked(old)
	}

	// Reserve the slot before the provider round-trip so a concurrent
	// Start for the same QQ number cannot issue a second challenge.
	now := time.Now().UTC()
	s := &session{
		id:        newSessionID(now),
		qq:        qq,
		status:    StatusWaitingScan,
		createdAt: now,
		watchers:  make(map[int]chan StatusEvent),
	}
	m.live[qq] = s
	m.mu.Unlock()

	ch, err := m.provider.StartChallenge(ctx)
	if err != nil {
		m.mu.Lock()
		if m.live[qq] == s {
			delete(m.live, qq)
		}
		m.mu.Unlock()
		return SessionView{}, fmt.Errorf("start challenge: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed || m.live[qq] != s {
		m.mu.Unlock()
		cancel()
		return SessionView{}, ErrClosed
	}
	s.challenge = ch
	s.cancel = cancel
	view := viewLocked(s)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.poll(pollCtx, s)

	metrics.SessionsStarted.Inc()
	m.log.Info("verify.session.start", "qq", qq, "session_id", s.id)
	m.emit(s, StatusWaitingScan)

	return view, nil
}

// TakeStatus returns the current view of the session for qq. Observing a
// terminal status consumes the session: the entry is removed and a repeat
// call reports ErrNotFound. Each terminal state is delivered at most once.
func (m *Manager) TakeStatus(qq string) (SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[qq]
	if !ok {
		return SessionView{}, ErrNotFound
	}

	view := viewLocked(s)
	if view.Status.Terminal() {
		m.dropLocked(s)
		delete(m.live, qq)
	}
	return view, nil
}

// QRImage returns the QR PNG for a pending session.
func (m *Manager) QRImage(qq string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[qq]
	if !ok || s.challenge == nil {
		return nil, ErrNotFound
	}
	img := make([]byte, len(s.challenge.QRPNG))
	copy(img, s.challenge.QRPNG)
	return img, nil
}

// Watch subscribes to status transitions for the session owning qq. The
// channel is closed when the session ends or the returned stop function is
// called. Slow consumers lose events rather than blocking the poller.
func (m *Manager) Watch(qq string) (<-chan StatusEvent, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[qq]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan StatusEvent, watcherBuffer)
	if s.status.Terminal() {
		// The poller is already gone; replay the terminal transition so
		// late subscribers still observe the end of the session.
		ch <- StatusEvent{SessionID: s.id, QQNumber: s.qq, Status: s.status, At: time.Now().UTC()}
		close(ch)
		return ch, func() {}, nil
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
	return ch, stop, nil
}

// Close cancels every polling task and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for qq, s := range m.live {
		m.dropLocked(s)
		delete(m.live, qq)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// poll is the sole writer of the session's status. It runs until a terminal
// outcome, the overall deadline, or cancellation.
func (m *Manager) poll(ctx context.Context, s *session) {
	defer m.wg.Done()

	deadline := time.Now().Add(m.cfg.PollTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			// Covers providers that answer "pending" (or nothing
			// recognizable) forever; no polling task outlives this.
			m.finish(s, StatusLoginFailed, "challenge timed out")
			return
		}

		out := m.provider.Poll(ctx, s.challenge)
		switch out.State {
		case qqlogin.StatePending:
			// keep waiting
		case qqlogin.StateScanned:
			m.transition(s, StatusScanning)
		case qqlogin.StateSucceeded:
			m.succeed(ctx, s, out.UIN)
			return
		case qqlogin.StateExpired:
			m.finish(s, StatusLoginFailed, "qr code expired")
			return
		case qqlogin.StateFailed:
			reason := out.Reason
			if reason == "" {
				reason = "login failed"
			}
			m.finish(s, StatusLoginFailed, reason)
			return
		}
	}
}

// succeed handles a confirmed login: the scanned account must match the
// claimed QQ number, then a token is minted.
func (m *Manager) succeed(ctx context.Context, s *session, uin string) {
	if uin != "" && uin != s.qq {
		m.log.Warn("verify.session.mismatch", "qq", s.qq, "uin", uin, "session_id", s.id)
		m.finish(s, StatusLoginFailed, "logged-in account does not match the claimed qq number")
		return
	}

	issued, err := m.tokens.Issue(ctx, s.qq)
	if err != nil {
		m.log.Error("verify.token.issue.fail", "qq", s.qq, "session_id", s.id, "err", err)
		m.finish(s, StatusTokenFailed, "token generation failed")
		return
	}
	metrics.TokensIssued.Inc()

	m.mu.Lock()
	s.token = issued
	s.verifiedAt = time.Now().UTC()
	m.mu.Unlock()

	m.finish(s, StatusVerified, "")
}

// transition applies a non-terminal status change.
func (m *Manager) transition(s *session, status Status) {
	m.mu.Lock()
	if s.status == status || s.status.Terminal() {
		m.mu.Unlock()
		return
	}
	s.status = status
	m.mu.Unlock()

	m.log.Info("verify.session.status", "qq", s.qq, "session_id", s.id, "status", status)
	m.emit(s, status)
}

// finish applies a terminal status. The session entry stays in the table
// until TakeStatus observes it once.
func (m *Manager) finish(s *session, status Status, reason string) {
	m.mu.Lock()
	if s.status.Terminal() {
		m.mu.Unlock()
		return
	}
	s.status = status
	s.reason = reason
	m.mu.Unlock()

	metrics.SessionOutcomes.WithLabelValues(string(status)).Inc()
	m.log.Info("verify.session.done", "qq", s.qq, "session_id", s.id, "status", status, "reason", reason)
	m.emit(s, status)
	m.closeWatchers(s)
}

// emit fans a transition out to watchers and the external notifier.
func (m *Manager) emit(s *session, status Status) {
	ev := StatusEvent{
		SessionID: s.id,
		QQNumber:  s.qq,
		Status:    status,
		At:        time.Now().UTC(),
	}

	m.mu.Lock()
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default: // lossy by contract
		}
	}
	m.mu.Unlock()

	go m.notifier.SessionUpdate(context.Background(), notify.Update{
		SessionID: ev.SessionID,
		QQNumber:  ev.QQNumber,
		Status:    string(ev.Status),
	})
}

func (m *Manager) closeWatchers(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

// dropLocked cancels the session's task and detaches its watchers. Caller
// holds m.mu.
func (m *Manager) dropLocked(s *session) {
	if s.cancel != nil {
		s.cancel()
	}
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

func viewLocked(s *session) SessionView {
	v := SessionView{
		SessionID: s.id,
		QQNumber:  s.qq,
		Status:    s.status,
		Reason:    s.reason,
		CreatedAt: s.createdAt,
	}
	if s.status == StatusVerified {
		v.Token = s.token.Value
		v.TokenExpiresAt = s.token.ExpiresAt
		v.VerifiedAt = s.verifiedAt
	}
	return v
}

func newSessionID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// rand.Reader failing is unrecoverable anyway.
		return ulid.Make().String()
	}
	return id.String()
}
