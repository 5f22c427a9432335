package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"sos/internal/donation/service"
	"sos/internal/donation/sos"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/auth"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/requestcontext"
)

type Service interface {
	Donate(ctx context.Context, caller common.Address, fundID domain.FundID, token common.Address, amount *big.Int) (uint64, error)
	Donations(ctx context.Context, fund *domain.FundID) []service.Donation
}

// Collection is the read side of the SOS token.
type Collection interface {
	Token(ctx context.Context, id uint64) (*sos.Token, error)
	TokenURI(ctx context.Context, id uint64) (string, error)
	BalanceOf(ctx context.Context, owner common.Address) uint64
	TokensOf(ctx context.Context, owner common.Address) []uint64
}

type Handler struct {
	service      Service
	collection   Collection
	logger       *slog.Logger
	jwtValidator auth.JWTValidator
}

func New(service Service, collection Collection, logger *slog.Logger, jwtValidator auth.JWTValidator) *Handler {
	return &Handler{service: service, collection: collection, logger: logger, jwtValidator: jwtValidator}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/donations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(auth.RequireAuth(h.jwtValidator, h.logger)).Post("/", h.handleDonate)
	})
	r.Route("/sos", func(r chi.Router) {
		r.Get("/owners/{address}", h.handleOwner)
		r.Get("/{id}", h.handleToken)
		r.Get("/{id}/uri", h.handleTokenURI)
	})
}

type donateRequest struct {
	FundID domain.FundID `json:"fund_id"`
	Token  string        `json:"token"`
	Amount string        `json:"amount"`
}

type donateResponse struct {
	TokenID uint64 `json:"sos_token_id"`
}

type donationDTO struct {
	FundID  domain.FundID `json:"fund_id"`
	Donor   string        `json:"donor"`
	Token   string        `json:"token"`
	Amount  string        `json:"amount"`
	TokenID uint64        `json:"sos_token_id"`
}

type tokenResponse struct {
	ID     uint64        `json:"id"`
	Owner  string        `json:"owner"`
	FundID domain.FundID `json:"fund_id"`
	Asset  string        `json:"asset"`
	Amount string        `json:"amount"`
}

type ownerResponse struct {
	Owner   string   `json:"owner"`
	Balance uint64   `json:"balance"`
	Tokens  []uint64 `json:"tokens"`
}

func (h *Handler) handleDonate(w http.ResponseWriter, r *http.Request) {
	var req donateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := domain.ParseAddress(req.Token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be a base 10 integer"))
		return
	}

	id, err := h.service.Donate(r.Context(), requestcontext.Caller(r.Context()), req.FundID, token, amount)
	if err != nil {
		h.fail(w, r, "donation rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, donateResponse{TokenID: id})
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
	donations := h.service.Donations(r.Context(), fund)
	out := make([]donationDTO, len(donations))
	for i, d := range donations {
		out[i] = donationDTO{
			FundID:  d.FundID,
			Donor:   d.Donor.Hex(),
			Token:   d.Token.Hex(),
			Amount:  d.Amount.String(),
			TokenID: d.TokenID,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	t, err := h.collection.Token(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		ID:     t.ID,
		Owner:  t.Owner.Hex(),
		FundID: t.FundID,
		Asset:  t.Asset.Hex(),
		Amount: t.Amount.String(),
	})
}

func (h *Handler) handleTokenURI(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(w, r)
	if !ok {
		return
	}
	uri, err := h.collection.TokenURI(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to render token uri", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ownerResponse{
		Owner:   owner.Hex(),
		Balance: h.collection.BalanceOf(r.Context(), owner),
		Tokens:  h.collection.TokensOf(r.Context(), owner),
	})
}

func tokenID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token id"))
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
