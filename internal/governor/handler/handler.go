package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"sos/internal/governor/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/auth"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/requestcontext"
)

// Service is the Governor surface exposed over HTTP. The oracle callback is
// not routed; it arrives through the oracle consumer.
type Service interface {
	CreateRequest(ctx context.Context, caller common.Address, in models.Input) (domain.RequestID, error)
	ApproveCheck(ctx context.Context, caller common.Address, id domain.RequestID, check domain.Name, approved bool) error
	CallOracle(ctx context.Context, caller common.Address, id domain.RequestID, checkIndex int) error
	GetRequest(ctx context.Context, id domain.RequestID) (*models.Request, error)
	ListRequests(ctx context.Context, fund *domain.FundID) ([]*models.Request, error)
	GetSigner(ctx context.Context, id domain.RequestID, check domain.Name) (common.Address, error)
	GetApprovedChecks(ctx context.Context, id domain.RequestID) ([]domain.Name, []common.Address, error)
	PackRequestWithCheck(ctx context.Context, id domain.RequestID, checkIndex int) ([]byte, error)
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
	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/checks/approved", h.handleApproved)
		r.Get("/{id}/checks/{check}/signer", h.handleSigner)
		r.Get("/{id}/pack/{index}", h.handlePack)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
			r.Post("/", h.handleCreate)
			r.Post("/{id}/checks/{check}/approve", h.handleApprove)
			r.Post("/{id}/oracle/{index}", h.handleCallOracle)
		})
	})
}

type createRequest struct {
	FundID      domain.FundID `json:"fund_id"`
	Amount      string        `json:"amount"`
	Token       string        `json:"token"`
	Recipient   string        `json:"recipient"`
	RequestType uint8         `json:"request_type"`
	Lat         string        `json:"lat"`
	Lon         string        `json:"lon"`
	Description string        `json:"description"`
}

type approveRequest struct {
	Approved *bool `json:"approved"`
}

type checkStateDTO struct {
	Name     string `json:"name"`
	JobID    string `json:"job_id,omitempty"`
	Approved bool   `json:"approved"`
	Signer   string `json:"signer,omitempty"`
}

type requestResponse struct {
	ID          domain.RequestID `json:"id"`
	FundID      domain.FundID    `json:"fund_id"`
	Amount      string           `json:"amount"`
	Token       string           `json:"token"`
	Recipient   string           `json:"recipient"`
	RequestType uint8            `json:"request_type"`
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Description string           `json:"description"`
	Pending     int              `json:"pending"`
	Checks      []checkStateDTO  `json:"checks"`
}

type createdResponse struct {
	ID domain.RequestID `json:"id"`
}

type signerResponse struct {
	Check  string `json:"check"`
	Signer string `json:"signer"`
}

type approvedResponse struct {
	Checks []signerResponse `json:"checks"`
}

type packResponse struct {
	Data string `json:"data"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var fund *domain.FundID
	if raw := r.URL.Query().Get("fund_id"); raw != "" {
		id, err := domain.ParseFundID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		fund = &id
	}
	requests, err := h.service.ListRequests(r.Context(), fund)
	if err != nil {
		h.fail(w, r, "failed to list requests", err)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) handleSigner(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	check, err := domain.ParseName(chi.URLParam(r, "check"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	signer, err := h.service.GetSigner(r.Context(), id, check)
	if err != nil {
		h.fail(w, r, "failed to read signer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, signerResponse{Check: check.String(), Signer: signer.Hex()})
}

func (h *Handler) handleApproved(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	names, signers, err := h.service.GetApprovedChecks(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to read approved checks", err)
		return
	}
	out := approvedResponse{Checks: make([]signerResponse, len(names))}
	for i, name := range names {
		out.Checks[i] = signerResponse{Check: name.String(), Signer: signers[i].Hex()}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePack(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	index, ok := checkIndex(w, r)
	if !ok {
		return
	}
	data, err := h.service.PackRequestWithCheck(r.Context(), id, index)
	if err != nil {
		h.fail(w, r, "failed to pack request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, packResponse{Data: hexutil.Encode(data)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := h.service.CreateRequest(r.Context(), requestcontext.Caller(r.Context()), in)
	if err != nil {
		h.fail(w, r, "failed to create request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	check, err := domain.ParseName(chi.URLParam(r, "check"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req approveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	approved := req.Approved == nil || *req.Approved
	if err := h.service.ApproveCheck(r.Context(), requestcontext.Caller(r.Context()), id, check, approved); err != nil {
		h.fail(w, r, "check approval rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCallOracle(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	index, ok := checkIndex(w, r)
	if !ok {
		return
	}
	if err := h.service.CallOracle(r.Context(), requestcontext.Caller(r.Context()), id, index); err != nil {
		h.fail(w, r, "oracle call rejected", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (req createRequest) toInput() (models.Input, error) {
	in := models.Input{
		FundID:      req.FundID,
		RequestType: req.RequestType,
		Description: req.Description,
	}
	var err error
	if in.Amount, err = parseInt("amount", req.Amount); err != nil {
		return in, err
	}
	if in.Token, err = domain.ParseAddress(req.Token); err != nil {
		return in, err
	}
	if in.Recipient, err = domain.ParseAddress(req.Recipient); err != nil {
		return in, err
	}
	if in.Location.Lat, err = parseInt("lat", req.Lat); err != nil {
		return in, err
	}
	if in.Location.Lon, err = parseInt("lon", req.Lon); err != nil {
		return in, err
	}
	return in, nil
}

// parseInt reads a base 10 integer. Empty means zero.
func parseInt(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be a base 10 integer")
	}
	return v, nil
}

func toResponse(req *models.Request) requestResponse {
	resp := requestResponse{
		ID:          req.ID,
		FundID:      req.FundID,
		Amount:      req.Amount.String(),
		Token:       req.Token.Hex(),
		Recipient:   req.Recipient.Hex(),
		RequestType: req.RequestType,
		Lat:         req.Location.Lat.String(),
		Lon:         req.Location.Lon.String(),
		Description: req.Description,
		Pending:     req.Pending,
		Checks:      make([]checkStateDTO, len(req.Checks)),
	}
	for i, c := range req.Checks {
		dto := checkStateDTO{Name: c.Name.String(), JobID: c.JobID.String(), Approved: req.States[i].Approved}
		if dto.Approved {
			dto.Signer = req.States[i].Signer.Hex()
		}
		resp.Checks[i] = dto
	}
	return resp
}

func requestID(w http.ResponseWriter, r *http.Request) (domain.RequestID, bool) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return id, true
}

func checkIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid check index"))
		return 0, false
	}
	return index, true
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
