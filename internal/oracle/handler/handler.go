package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"sos/internal/oracle/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/auth"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/requestcontext"
)

type Service interface {
	Address() common.Address
	Owner() common.Address
	Oracle() common.Address
	JobID() domain.Name
	Fee() *big.Int
	Pending() []models.Pending
	SetOracle(ctx context.Context, caller, oracle common.Address) error
	SetFee(ctx context.Context, caller common.Address, fee *big.Int) error
	SetJob(ctx context.Context, caller common.Address, jobID domain.Name) error
	WithdrawLink(ctx context.Context, caller common.Address) (*big.Int, error)
	FulfillBytes(ctx context.Context, caller common.Address, oracleID common.Hash, payload []byte) (bool, error)
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
	r.Route("/oracle", func(r chi.Router) {
		r.Get("/", h.handleConfig)
		r.Get("/pending", h.handlePending)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
			r.Put("/", h.handleConfigure)
			r.Post("/withdraw", h.handleWithdraw)
			r.Post("/fulfill", h.handleFulfill)
		})
	})
}

type configResponse struct {
	Consumer string `json:"consumer"`
	Owner    string `json:"owner"`
	Oracle   string `json:"oracle"`
	JobID    string `json:"job_id"`
	Fee      string `json:"fee"`
}

// configureRequest updates only the fields that are present.
type configureRequest struct {
	Oracle *string `json:"oracle,omitempty"`
	JobID  *string `json:"job_id,omitempty"`
	Fee    *string `json:"fee,omitempty"`
}

type fulfillRequest struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

type fulfillResponse struct {
	Passed bool `json:"passed"`
}

type withdrawResponse struct {
	Amount string `json:"amount"`
}

type pendingDTO struct {
	ID         string           `json:"id"`
	RequestID  domain.RequestID `json:"request_id"`
	CheckIndex int              `json:"check_index"`
	JobID      string           `json:"job_id"`
}

func (h *Handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.config())
}

func (h *Handler) config() configResponse {
	return configResponse{
		Consumer: h.service.Address().Hex(),
		Owner:    h.service.Owner().Hex(),
		Oracle:   h.service.Oracle().Hex(),
		JobID:    h.service.JobID().String(),
		Fee:      h.service.Fee().String(),
	}
}

func (h *Handler) handlePending(w http.ResponseWriter, _ *http.Request) {
	pending := h.service.Pending()
	out := make([]pendingDTO, len(pending))
	for i, p := range pending {
		out[i] = pendingDTO{ID: p.ID.Hex(), RequestID: p.RequestID, CheckIndex: p.CheckIndex, JobID: p.JobID.String()}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	var req configureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Oracle != nil {
		addr, err := domain.ParseAddress(*req.Oracle)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := h.service.SetOracle(ctx, caller, addr); err != nil {
			h.fail(w, r, "failed to set oracle", err)
			return
		}
	}
	if req.JobID != nil {
		job, err := domain.ParseName(*req.JobID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := h.service.SetJob(ctx, caller, job); err != nil {
			h.fail(w, r, "failed to set job", err)
			return
		}
	}
	if req.Fee != nil {
		fee, ok := new(big.Int).SetString(*req.Fee, 10)
		if !ok {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "fee must be a base 10 integer"))
			return
		}
		if err := h.service.SetFee(ctx, caller, fee); err != nil {
			h.fail(w, r, "failed to set fee", err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, h.config())
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := h.service.WithdrawLink(r.Context(), requestcontext.Caller(r.Context()))
	if err != nil {
		h.fail(w, r, "link withdrawal rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, withdrawResponse{Amount: amount.String()})
}

// handleFulfill lets an oracle node answer over HTTP instead of Kafka. The
// authenticated account is the oracle.
func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := hexutil.Decode(req.ID)
	if err != nil || len(id) != common.HashLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "id must be a 32 byte hex word"))
		return
	}
	payload, err := hexutil.Decode(req.Payload)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "payload must be hex"))
		return
	}
	passed, err := h.service.FulfillBytes(r.Context(), requestcontext.Caller(r.Context()), common.BytesToHash(id), payload)
	if err != nil {
		h.fail(w, r, "fulfilment rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fulfillResponse{Passed: passed})
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
