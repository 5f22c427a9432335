// Package httputil writes JSON responses and maps domain error codes onto
// HTTP status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Role        string `json:"role,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:            http.StatusBadRequest,
	dErrors.CodeBadRequest:            http.StatusBadRequest,
	dErrors.CodeInvalidInput:          http.StatusBadRequest,
	dErrors.CodeInvalidRequest:        http.StatusBadRequest,
	dErrors.CodeInvariantViolation:    http.StatusBadRequest,
	dErrors.CodeUnauthorized:          http.StatusUnauthorized,
	dErrors.CodeForbidden:             http.StatusForbidden,
	dErrors.CodeMissingRole:           http.StatusForbidden,
	dErrors.CodeNotFound:              http.StatusNotFound,
	dErrors.CodeNotRegistered:         http.StatusNotFound,
	dErrors.CodeConflict:              http.StatusConflict,
	dErrors.CodeAlreadyRegistered:     http.StatusConflict,
	dErrors.CodeNotAllowed:            http.StatusUnprocessableEntity,
	dErrors.CodeInsufficientAllowance: http.StatusUnprocessableEntity,
	dErrors.CodeInsufficientBalance:   http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:               http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:           http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status used for err.
func StatusFor(err error) int {
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"error","error_description"}. Internal errors
// never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(err)

	resp := errorResponse{Error: string(code)}
	if status != http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
		}
	} else {
		resp.Error = string(dErrors.CodeInternal)
	}

	var mre *domain.MissingRoleError
	if errors.As(err, &mre) {
		resp.Description = mre.Error()
		resp.Role = mre.Role.Hex()
	}

	WriteJSON(w, status, resp)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
