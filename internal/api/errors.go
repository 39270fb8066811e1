// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ManuGH/lure/internal/billing"
	"github.com/ManuGH/lure/internal/campaign"
	"github.com/ManuGH/lure/internal/importer"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/tracking"
	"github.com/ManuGH/lure/internal/validate"
)

// APIError is a stable machine-readable error code with its HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Message }

// withMessage returns a copy of e carrying a request-specific message.
func (e *APIError) withMessage(msg string) *APIError {
	c := *e
	c.Message = msg
	return &c
}

// Common API error definitions
var (
	ErrNotAuthenticated = &APIError{http.StatusUnauthorized, "not_authenticated", "Authentication credentials were not provided."}
	ErrTokenInvalid     = &APIError{http.StatusUnauthorized, "token_invalid", "Token is invalid or expired"}
	ErrPermissionDenied = &APIError{http.StatusForbidden, "permission_denied", "You do not have permission to perform this action."}
	ErrPlanLimit        = &APIError{http.StatusForbidden, "plan_limit_exceeded", "Plan limit exceeded"}
	ErrNotFound         = &APIError{http.StatusNotFound, "not_found", "Not found."}
	ErrMethodNotAllowed = &APIError{http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed."}
	ErrConflict         = &APIError{http.StatusConflict, "conflict", "The resource is in use or already exists."}
	ErrPayloadTooLarge  = &APIError{http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large."}
	ErrUnsupportedMedia = &APIError{http.StatusUnsupportedMediaType, "unsupported_media_type", "Unsupported media type."}
	ErrRateLimited      = &APIError{http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later."}
	ErrValidation       = &APIError{http.StatusBadRequest, "validation_error", "Invalid input."}
	ErrBadRequest       = &APIError{http.StatusBadRequest, "bad_request", "Bad request."}
	ErrInternal         = &APIError{http.StatusInternalServerError, "internal_error", "An unexpected error occurred. Please try again later."}
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

// writeJSON writes v with the given status code. Encoding failures after the
// header is sent can only be logged.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Str(log.FieldEvent, "api.encode_failed").Int(log.FieldStatus, code).
			Msg("failed to encode JSON response")
	}
}

// respond writes a success envelope.
func respond(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

// respondMessage writes a success envelope with a message.
func respondMessage(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

// respondError writes an error envelope. details is optional.
func respondError(w http.ResponseWriter, r *http.Request, apiErr *APIError, details ...any) {
	var d any
	if len(details) > 0 {
		d = details[0]
	}
	if apiErr.Status == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, apiErr.Status, errorEnvelope{
		Error:     errorBody{Code: apiErr.Code, Message: apiErr.Message, Details: d},
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// respondFields writes a validation_error with DRF-style field details.
func respondFields(w http.ResponseWriter, r *http.Request, fields map[string][]string) {
	respondError(w, r, ErrValidation, fields)
}

// respondField is shorthand for a single field error.
func respondField(w http.ResponseWriter, r *http.Request, field, msg string) {
	respondFields(w, r, map[string][]string{field: {msg}})
}

// writeServiceError maps domain errors to API errors. Unknown errors are
// logged and reported as internal_error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		apiErr   *APIError
		verr     validate.ValidationError
		fields   fieldErrors
		limitErr *billing.LimitError
		transErr *campaign.TransitionError
		impErr   importer.Error
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &apiErr):
		respondError(w, r, apiErr)
	case errors.As(err, &verr):
		respondFields(w, r, verr.Fields())
	case errors.As(err, &fields):
		respondFields(w, r, fields)
	case errors.As(err, &limitErr):
		respondError(w, r, ErrPlanLimit.withMessage(limitMessage(limitErr)), map[string]any{
			"resource": limitErr.Resource,
			"limit":    limitErr.Limit,
			"current":  limitErr.Current,
		})
	case errors.As(err, &transErr):
		respondError(w, r, ErrBadRequest.withMessage(transErr.Message))
	case errors.As(err, &impErr):
		respondError(w, r, ErrBadRequest.withMessage(string(impErr)))
	case errors.As(err, &tooLarge):
		respondError(w, r, ErrPayloadTooLarge)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, tracking.ErrBadToken):
		respondError(w, r, ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		respondError(w, r, ErrConflict)
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldMethod, r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, r, ErrInternal)
	}
}

func limitMessage(e *billing.LimitError) string {
	resource := strings.ReplaceAll(e.Resource, "_", " ")
	return fmt.Sprintf("Plan limit reached: your subscription allows %d %s.", e.Limit, resource)
}

// badRequest returns a bad_request error carrying msg.
func badRequest(msg string) error { return ErrBadRequest.withMessage(msg) }

// permissionDenied returns a permission_denied error carrying msg.
func permissionDenied(msg string) error { return ErrPermissionDenied.withMessage(msg) }
