package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"sos/internal/registry/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/httputil"
	"sos/pkg/platform/middleware/auth"
	request "sos/pkg/platform/middleware/request"
	"sos/pkg/requestcontext"
)

// Service is the registry surface exposed over HTTP.
type Service interface {
	Register(ctx context.Context, caller common.Address, name domain.Name, addr common.Address) error
	Update(ctx context.Context, caller common.Address, name domain.Name, addr common.Address) error
	BatchRegister(ctx context.Context, caller common.Address, names []domain.Name, addrs []common.Address) error
	BatchUpdate(ctx context.Context, caller common.Address, names []domain.Name, addrs []common.Address) error
	Get(ctx context.Context, name domain.Name) (common.Address, error)
	BatchGet(ctx context.Context, names []domain.Name) ([]common.Address, error)
	List(ctx context.Context) ([]models.Entry, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator auth.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator auth.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts the registry routes. Reads are public; writes need a token.
func (h *Handler) Register(r chi.Router) {
	r.Route("/registry", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{name}", h.handleGet)
		r.Post("/lookup", h.handleBatchGet)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
			r.Post("/", h.handleRegister)
			r.Post("/batch", h.handleBatchRegister)
			r.Put("/batch", h.handleBatchUpdate)
			r.Put("/{name}", h.handleUpdate)
		})
	})
}

type entryRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type updateRequest struct {
	Address string `json:"address"`
}

type batchRequest struct {
	Names     []string `json:"names"`
	Addresses []string `json:"addresses"`
}

type lookupRequest struct {
	Names []string `json:"names"`
}

type entryResponse struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Address string `json:"address"`
}

type lookupResponse struct {
	Addresses []string `json:"addresses"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list registry", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e.Name, e.Address))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name, err := domain.ParseName(chi.URLParam(r, "name"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := h.service.Get(r.Context(), name)
	if err != nil {
		h.fail(w, r, "failed to read registry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(name, addr))
}

func (h *Handler) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	names, err := domain.Names(req.Names...)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addrs, err := h.service.BatchGet(r.Context(), names)
	if err != nil {
		h.fail(w, r, "failed to read registry", err)
		return
	}
	resp := lookupResponse{Addresses: make([]string, len(addrs))}
	for i, a := range addrs {
		resp.Addresses[i] = a.Hex()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	name, err := domain.ParseName(req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Register(r.Context(), requestcontext.Caller(r.Context()), name, addr); err != nil {
		h.fail(w, r, "failed to register name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(name, addr))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	name, err := domain.ParseName(chi.URLParam(r, "name"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), requestcontext.Caller(r.Context()), name, addr); err != nil {
		h.fail(w, r, "failed to update name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(name, addr))
}

func (h *Handler) handleBatchRegister(w http.ResponseWriter, r *http.Request) {
	names, addrs, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	if err := h.service.BatchRegister(r.Context(), requestcontext.Caller(r.Context()), names, addrs); err != nil {
		h.fail(w, r, "failed to batch register", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	names, addrs, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	if err := h.service.BatchUpdate(r.Context(), requestcontext.Caller(r.Context()), names, addrs); err != nil {
		h.fail(w, r, "failed to batch update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) ([]domain.Name, []common.Address, bool) {
	var req batchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return nil, nil, false
	}
	if len(req.Names) != len(req.Addresses) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "names and addresses differ in length"))
		return nil, nil, false
	}
	names, err := domain.Names(req.Names...)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, nil, false
	}
	addrs, err := domain.ParseAddresses(req.Addresses)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, nil, false
	}
	return names, addrs, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func toResponse(name domain.Name, addr common.Address) entryResponse {
	return entryResponse{Name: name.String(), Key: name.Hex(), Address: addr.Hex()}
}
