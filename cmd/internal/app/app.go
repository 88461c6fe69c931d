// Package app wires the qqbind server runtime: config, logging, storage,
// the verification manager, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"qqbind/cmd/internal/audit"
	"qqbind/cmd/internal/binding"
	"qqbind/cmd/internal/notify"
	"qqbind/cmd/internal/qqlogin"
	"qqbind/cmd/internal/token"
	"qqbind/cmd/internal/verify"
	verifyapi "qqbind/cmd/internal/verify/api"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the qqbind server runtime: it owns HTTP wiring and the verification
// manager lifecycle.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	mgr *verify.Manager
	svc *verify.Service
	api *verifyapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	stores, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NotifyURL != "" {
		notifier = notify.NewWebhook(log, cfg.NotifyURL, cfg.NotifyTimeout)
	}

	tokens := token.NewService(stores.tokens, cfg.TokenTTL)
	mgr := verify.NewManager(log, verify.ManagerConfig{
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}, qqlogin.NewClient(log), tokens, notifier)

	svc := verify.NewService(log, mgr, tokens, stores.bindings, stores.audits)
	apiHandler := verifyapi.NewHandler(log, verifyapi.LoadConfigFromEnv(), svc)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     stores.lifecycle,
		dbPool:    stores.pool,
		dbEnabled: stores.pool != nil,
		mgr:       mgr,
		svc:       svc,
		api:       apiHandler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.api)

	handler := WithRequestLogging(mux, a.log)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Stop polling tasks before releasing the pool they write through.
	a.mgr.Close()

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// storeSet bundles the persistence backends the runtime needs.
type storeSet struct {
	lifecycle Store
	pool      *pgxpool.Pool

	tokens   token.Store
	bindings binding.Store
	audits   audit.Recorder
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (storeSet, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return storeSet{
			lifecycle: nopStore{},
			tokens:    token.NewMemoryStore(),
			bindings:  binding.NewMemoryStore(),
			audits:    audit.NewMemoryRecorder(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return storeSet{}, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return storeSet{}, err
	}

	log.Info("db.enabled.postgres_store")

	tokens, err := token.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return storeSet{}, err
	}
	bindings, err := binding.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return storeSet{}, err
	}
	audits, err := audit.NewPostgresRecorder(pool)
	if err != nil {
		pool.Close()
		return storeSet{}, err
	}

	return storeSet{
		lifecycle: dbStore{pool: pool},
		pool:      pool,
		tokens:    tokens,
		bindings:  bindings,
		audits:    audits,
	}, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
