package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/httputil"
)

const (
	defaultTokenTTL = time.Hour
	maxTokenTTL     = 24 * time.Hour
	defaultAudit    = 50
)

// TokenIssuer mints access tokens acting for an account.
type TokenIssuer interface {
	GenerateAccessToken(account common.Address, expiresIn time.Duration) (string, error)
}

type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// AdminHandler serves operator routes: issuing caller tokens, reading the
// audit trail and listing deployed component addresses.
type AdminHandler struct {
	tokens     TokenIssuer
	audit      AuditLister
	components map[string]common.Address
	logger     *slog.Logger
}

func NewAdminHandler(tokens TokenIssuer, audit AuditLister, components map[string]common.Address, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{tokens: tokens, audit: audit, components: components, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/tokens", h.handleIssueToken)
	r.Get("/audit", h.handleAudit)
	r.Get("/components", h.handleComponents)
}

type issueTokenRequest struct {
	Account    string `json:"account"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type auditEventDTO struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Subject   string            `json:"subject"`
	Action    string            `json:"action"`
	FundID    *uint64           `json:"fund_id,omitempty"`
	RequestID *uint64           `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func (h *AdminHandler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := domain.ParseAddress(req.Account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > maxTokenTTL {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "ttl_seconds exceeds 24h"))
		return
	}

	token, err := h.tokens.GenerateAccessToken(account, ttl)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue token", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}
	h.logger.InfoContext(r.Context(), "access token issued", "account", account.Hex(), "ttl", ttl.String())
	httputil.WriteJSON(w, http.StatusCreated, issueTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

func (h *AdminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAudit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events"))
		return
	}
	out := make([]auditEventDTO, len(events))
	for i, e := range events {
		out[i] = auditEventDTO{
			ID:        e.ID.String(),
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Actor:     e.Actor.Hex(),
			Subject:   e.Subject,
			Action:    e.Action,
			FundID:    e.FundID,
			RequestID: e.RequestID,
			Details:   e.Details,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) handleComponents(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]string, len(h.components))
	for name, addr := range h.components {
		out[name] = addr.Hex()
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
