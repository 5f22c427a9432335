package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"sos/internal/fund/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/auth"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/requestcontext"
)

// Service is the fund manager surface exposed over HTTP.
type Service interface {
	CreateFund(ctx context.Context, caller common.Address, p models.Params) (domain.FundID, error)
	CreateFundWithSafe(ctx context.Context, caller common.Address, p models.Params, owners []common.Address, threshold uint64) (domain.FundID, error)
	GetFund(ctx context.Context, id domain.FundID) (*models.Fund, error)
	ListFunds(ctx context.Context) ([]*models.Fund, error)
	GetDepositAddressFor(ctx context.Context, id domain.FundID, token common.Address) (common.Address, error)
	GetBalances(ctx context.Context, id domain.FundID) ([]common.Address, []*big.Int, error)
	Pause(ctx context.Context, caller common.Address, id domain.FundID) error
	Resume(ctx context.Context, caller common.Address, id domain.FundID) error
	Close(ctx context.Context, caller common.Address, id domain.FundID) error
	GrantRole(ctx context.Context, caller common.Address, id domain.FundID, role domain.Role, account common.Address) error
	RevokeRole(ctx context.Context, caller common.Address, id domain.FundID, role domain.Role, account common.Address) error
	SetChecks(ctx context.Context, caller common.Address, id domain.FundID, checks []models.Check) error
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator auth.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator auth.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/balances", h.handleBalances)
		r.Get("/{id}/deposit-address", h.handleDepositAddress)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
			r.Post("/", h.handleCreate)
			r.Post("/{id}/pause", h.statusHandler(h.service.Pause))
			r.Post("/{id}/resume", h.statusHandler(h.service.Resume))
			r.Post("/{id}/close", h.statusHandler(h.service.Close))
			r.Post("/{id}/roles/grant", h.roleHandler(h.service.GrantRole))
			r.Post("/{id}/roles/revoke", h.roleHandler(h.service.RevokeRole))
			r.Put("/{id}/checks", h.handleSetChecks)
		})
	})
}

type checkDTO struct {
	Name  string `json:"name"`
	JobID string `json:"job_id,omitempty"`
}

type createFundRequest struct {
	Name          string     `json:"name"`
	Focus         string     `json:"focus"`
	Description   string     `json:"description"`
	Safe          string     `json:"safe,omitempty"`
	AllowedTokens []string   `json:"allowed_tokens"`
	Requestable   bool       `json:"requestable"`
	Checks        []checkDTO `json:"checks,omitempty"`
	Whitelist     []string   `json:"whitelist,omitempty"`
	// Owners and Threshold deploy a new safe instead of using Safe.
	Owners    []string `json:"owners,omitempty"`
	Threshold uint64   `json:"threshold,omitempty"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

type checksRequest struct {
	Checks []checkDTO `json:"checks"`
}

type fundResponse struct {
	ID            domain.FundID `json:"id"`
	Address       string        `json:"address"`
	Meta          models.Meta   `json:"meta"`
	Safe          string        `json:"safe"`
	AllowedTokens []string      `json:"allowed_tokens"`
	Status        uint8         `json:"status"`
	StatusName    string        `json:"status_name"`
	Requestable   bool          `json:"requestable"`
	Checks        []checkDTO    `json:"checks"`
	Whitelist     []string      `json:"whitelist"`
}

type createdResponse struct {
	ID      domain.FundID `json:"id"`
	Address string        `json:"address"`
	Safe    string        `json:"safe"`
}

type balanceDTO struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type depositResponse struct {
	Token   string `json:"token"`
	Deposit string `json:"deposit_address"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	funds, err := h.service.ListFunds(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list funds", err)
		return
	}
	out := make([]fundResponse, 0, len(funds))
	for _, f := range funds {
		out = append(out, toFundResponse(f))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := fundID(w, r)
	if !ok {
		return
	}
	f, err := h.service.GetFund(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load fund", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFundResponse(f))
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := fundID(w, r)
	if !ok {
		return
	}
	tokens, balances, err := h.service.GetBalances(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to read balances", err)
		return
	}
	out := make([]balanceDTO, len(tokens))
	for i := range tokens {
		out[i] = balanceDTO{Token: tokens[i].Hex(), Balance: balances[i].String()}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDepositAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := fundID(w, r)
	if !ok {
		return
	}
	token, err := domain.ParseAddress(r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := h.service.GetDepositAddressFor(r.Context(), id, token)
	if err != nil {
		h.fail(w, r, "failed to resolve deposit address", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, depositResponse{Token: token.Hex(), Deposit: addr.Hex()})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createFundRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	params, owners, err := req.toParams()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	caller := requestcontext.Caller(ctx)
	var id domain.FundID
	if len(owners) > 0 || req.Threshold > 0 {
		id, err = h.service.CreateFundWithSafe(ctx, caller, params, owners, req.Threshold)
	} else {
		id, err = h.service.CreateFund(ctx, caller, params)
	}
	if err != nil {
		h.fail(w, r, "failed to create fund", err)
		return
	}
	f, err := h.service.GetFund(ctx, id)
	if err != nil {
		h.fail(w, r, "failed to load fund", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: f.ID, Address: f.Address.Hex(), Safe: f.Safe.Hex()})
}

func (h *Handler) statusHandler(op func(context.Context, common.Address, domain.FundID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := fundID(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), requestcontext.Caller(r.Context()), id); err != nil {
			h.fail(w, r, "fund status change rejected", err)
			return
		}
		f, err := h.service.GetFund(r.Context(), id)
		if err != nil {
			h.fail(w, r, "failed to load fund", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toFundResponse(f))
	}
}

func (h *Handler) roleHandler(op func(context.Context, common.Address, domain.FundID, domain.Role, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := fundID(w, r)
		if !ok {
			return
		}
		var req roleRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		account, err := domain.ParseAddress(req.Account)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := op(r.Context(), requestcontext.Caller(r.Context()), id, role, account); err != nil {
			h.fail(w, r, "role change rejected", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleSetChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := fundID(w, r)
	if !ok {
		return
	}
	var req checksRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	checks, err := toChecks(req.Checks)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.SetChecks(r.Context(), requestcontext.Caller(r.Context()), id, checks); err != nil {
		h.fail(w, r, "failed to set checks", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req createFundRequest) toParams() (models.Params, []common.Address, error) {
	p := models.Params{
		Meta:        models.Meta{Name: req.Name, Focus: req.Focus, Description: req.Description},
		Requestable: req.Requestable,
	}
	var err error
	if req.Safe != "" {
		if p.Safe, err = domain.ParseAddress(req.Safe); err != nil {
			return p, nil, err
		}
	}
	if p.AllowedTokens, err = domain.ParseAddresses(req.AllowedTokens); err != nil {
		return p, nil, err
	}
	if p.Whitelist, err = domain.ParseAddresses(req.Whitelist); err != nil {
		return p, nil, err
	}
	if p.Checks, err = toChecks(req.Checks); err != nil {
		return p, nil, err
	}
	owners, err := domain.ParseAddresses(req.Owners)
	if err != nil {
		return p, nil, err
	}
	if req.Safe != "" && len(owners) > 0 {
		return p, nil, dErrors.New(dErrors.CodeValidation, "safe and owners are mutually exclusive")
	}
	return p, owners, nil
}

func toChecks(dtos []checkDTO) ([]models.Check, error) {
	out := make([]models.Check, 0, len(dtos))
	for _, d := range dtos {
		name, err := domain.ParseName(d.Name)
		if err != nil {
			return nil, err
		}
		job, err := domain.ParseName(d.JobID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Check{Name: name, JobID: job})
	}
	return out, nil
}

func toFundResponse(f *models.Fund) fundResponse {
	resp := fundResponse{
		ID:            f.ID,
		Address:       f.Address.Hex(),
		Meta:          f.Meta,
		Safe:          f.Safe.Hex(),
		AllowedTokens: hexes(f.AllowedTokens),
		Status:        uint8(f.Status),
		StatusName:    f.Status.String(),
		Requestable:   f.Requestable,
		Checks:        make([]checkDTO, len(f.Checks)),
		Whitelist:     hexes(f.Whitelist),
	}
	for i, c := range f.Checks {
		resp.Checks[i] = checkDTO{Name: c.Name.String(), JobID: c.JobID.String()}
	}
	return resp
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func fundID(w http.ResponseWriter, r *http.Request) (domain.FundID, bool) {
	id, err := domain.ParseFundID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", request.GetRequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", request.GetRequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
