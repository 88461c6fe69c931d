// Package verifyapi exposes the QQ verification and card-key binding HTTP
// endpoints.
package verifyapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qqbind/cmd/internal/audit"
	"qqbind/cmd/internal/qqlogin"
	"qqbind/cmd/internal/token"
	"qqbind/cmd/internal/verify"
)

// Handler wires HTTP verification endpoints to the verify service.
type Handler struct {
	log *slog.Logger
	cfg Config
	svc *verify.Service
}

// NewHandler constructs a verification Handler.
func NewHandler(log *slog.Logger, cfg Config, svc *verify.Service) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg, svc: svc}
}

// Register wires verification routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/qq/verify", h.handleVerify)
	mux.HandleFunc("/api/qq/status", h.handleStatus)
	mux.HandleFunc("/api/qq/bind", h.handleBind)
	mux.HandleFunc("/api/qq/query", h.handleQuery)
	mux.HandleFunc("/api/qq/stats", h.handleStats)
	mux.HandleFunc("/qq/qr", h.handleQR)
	mux.HandleFunc("/ws/status", h.handleWS)
}

// ---- handlers ----

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	qq := strings.TrimSpace(req.QQNumber)

	view, err := h.svc.Start(r.Context(), qq)
	if err != nil {
		h.audit(r, qq, "verify", "failed")
		h.writeServiceError(w, r, "verify", err)
		return
	}

	h.audit(r, qq, "verify", "started")
	writeJSON(w, http.StatusOK, startResponse{
		Status:    "pending",
		SessionID: view.SessionID,
		QQNumber:  view.QQNumber,
		QRURL:     "/qq/qr?qq_number=" + url.QueryEscape(view.QQNumber),
		Message:   "scan the qr code with the mobile qq client",
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	view, err := h.svc.Status(r.Context(), strings.TrimSpace(req.QQNumber))
	if err != nil {
		h.writeServiceError(w, r, "status", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(view, h.svc.TokenTTL()))
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req bindRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	rec, created, err := h.svc.Bind(r.Context(),
		strings.TrimSpace(req.VerificationToken), strings.TrimSpace(req.CardKey))
	if err != nil {
		h.audit(r, "", "bind", "failed")
		h.writeServiceError(w, r, "bind", err)
		return
	}

	action := "updated"
	if created {
		action = "created"
	}
	h.audit(r, rec.QQNumber, "bind", action)
	writeJSON(w, http.StatusOK, bindResponse{
		Success:  true,
		QQNumber: rec.QQNumber,
		CardKey:  rec.CardKey,
		Action:   action,
		BoundAt:  rec.BoundAt,
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	qq := strings.TrimSpace(req.QQNumber)
	rec, bound, err := h.svc.Query(r.Context(), qq)
	if err != nil {
		h.writeServiceError(w, r, "query", err)
		return
	}
	if !bound {
		writeJSON(w, http.StatusOK, queryResponse{Bound: false, QQNumber: qq})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Bound:      true,
		QQNumber:   rec.QQNumber,
		CardKey:    rec.CardKey,
		BoundAt:    rec.BoundAt,
		LastUpdate: rec.UpdatedAt,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.svc.ServiceStats(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeServiceError(w, r, "stats", err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalBindings:   stats.TotalBindings,
		TodayOperations: stats.TodayOperations,
		ActionStats:     stats.ActionStats,
	})
}

// handleQR serves the login QR for a pending session, straight from memory.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	img, err := h.svc.QRImage(strings.TrimSpace(r.URL.Query().Get("qq_number")))
	if err != nil {
		h.writeServiceError(w, r, "qr", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

// ---- helpers ----

func toStatusResponse(view verify.SessionView, ttl time.Duration) statusResponse {
	switch view.Status {
	case verify.StatusVerified:
		return statusResponse{
			Status:             "verified",
			VerificationToken:  view.Token,
			TokenExpiresMinute: int(ttl / time.Minute),
			Message:            "verification succeeded, redeem the token to bind a card key",
		}
	case verify.StatusLoginFailed, verify.StatusTokenFailed:
		return statusResponse{
			Status:  "failed",
			Stage:   string(view.Status),
			Message: view.Reason,
		}
	default:
		return statusResponse{Status: "pending", Stage: string(view.Status)}
	}
}

// writeServiceError maps service errors onto the HTTP error envelope. Token
// redemption failures collapse into one client-facing code; the precise kind
// goes to the log only.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, verify.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, verify.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "already_active", "a verification session is already in progress for this qq number")
	case errors.Is(err, verify.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no active session for this qq number")
	case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrUsed), errors.Is(err, token.ErrExpired):
		h.log.Info(fmt.Sprintf("api.%s.token_rejected", op), "err", err)
		writeError(w, http.StatusForbidden, "invalid_token", "verification token is invalid, expired, or already used")
	case errors.Is(err, qqlogin.ErrUnavailable):
		h.log.Error(fmt.Sprintf("api.%s.provider_unavailable", op), "err", err)
		writeError(w, http.StatusServiceUnavailable, "provider_unavailable", "login provider unavailable, please retry")
	case errors.Is(err, verify.ErrStoreUnavailable), errors.Is(err, token.ErrStoreUnavailable):
		h.log.Error(fmt.Sprintf("api.%s.store_unavailable", op), "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage unavailable, please retry")
	case errors.Is(err, verify.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	default:
		h.log.Error(fmt.Sprintf("api.%s.fail", op), "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) audit(r *http.Request, qq, action, result string) {
	h.svc.Audit(r.Context(), audit.Entry{
		QQNumber: qq,
		Action:   action,
		Result:   result,
		ClientIP: clientIP(r, h.cfg.TrustProxy),
		At:       time.Now().UTC(),
	})
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
			for _, p := range strings.Split(raw, ",") {
				if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
					return ip.String()
				}
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}
