// Package respond holds the JSON encoding and error mapping shared by the
// resource handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/auth"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Status maps a service error to its HTTP status code.
func Status(err error) int {
	var verr *api.ValidationError
	var perr *api.InvalidParamFormatError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrInvalidStateTransition),
		errors.Is(err, storage.ErrCapacityExceeded),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidInput), errors.As(err, &verr), errors.As(err, &perr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrPartialBatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an api.Error. Internal errors are logged and their
// details withheld from the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, api.Error{Message: msg})
}

// Decode reads a JSON body into dst and checks its validate tags.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, storage.ErrInvalidInput)
	}
	return api.Validate(dst)
}

// Caller returns the authenticated user id, answering 401 when there is none.
func Caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		JSON(w, http.StatusUnauthorized, api.Error{Message: "authentication required"})
		return "", false
	}
	return userID, true
}
