// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts verification sessions successfully started.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qqbind_sessions_started_total",
		Help: "Verification sessions started.",
	})

	// SessionOutcomes counts terminal session states by status.
	SessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbind_session_outcomes_total",
		Help: "Terminal verification session outcomes.",
	}, []string{"status"})

	// TokensIssued counts minted verification tokens.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qqbind_tokens_issued_total",
		Help: "Verification tokens minted.",
	})

	// TokenRedemptions counts redemption attempts by result.
	TokenRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbind_token_redemptions_total",
		Help: "Verification token redemption attempts.",
	}, []string{"result"})

	// BindingUpserts counts card key binds by action (created/updated).
	BindingUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbind_binding_upserts_total",
		Help: "Card key binding upserts.",
	}, []string{"action"})
)
