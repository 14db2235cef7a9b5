package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type errorResponse struct {
	Error   string                      `json:"error"`
	Details validation.ValidationErrors `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case common.IsValidation(err), errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case common.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNoClaims):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case common.IsOverloaded(err):
		return http.StatusServiceUnavailable
	case common.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: http.StatusText(status)}

	switch status {
	case http.StatusBadRequest:
		var verrs validation.ValidationErrors
		var verr common.ValidationError
		switch {
		case errors.As(err, &verrs):
			resp.Error = "validation failed"
			resp.Details = verrs
		case errors.As(err, &verr):
			resp.Error = "validation failed"
			resp.Details = validation.ValidationErrors{{Field: verr.Field, Message: verr.Message}}
		default:
			resp.Error = err.Error()
		}
	case http.StatusNotFound, http.StatusConflict:
		resp.Error = err.Error()
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
		resp.Error = "service is busy, try again later"
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.ValidationError{Field: "body", Message: "invalid request body"}
	}
	return validation.Struct(dst)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, common.ValidationError{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}
