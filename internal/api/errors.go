// Package api exposes the governance operations as JSON HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/governance"
	"github.com/onnwee/caregov/internal/idempotency"
	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/middleware"
	"github.com/onnwee/caregov/internal/team"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state, such as
	// resolving a request that is no longer pending or reusing a name.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeCyclicHierarchy indicates a parent change that would create a cycle.
	ErrCodeCyclicHierarchy = "cyclic_hierarchy"

	// ErrCodeMethodNotAllowed indicates an unsupported HTTP method.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeIdempotencyKeyReused indicates an Idempotency-Key presented with a
	// different request than the one it was first used for.
	ErrCodeIdempotencyKeyReused = "idempotency_key_reused"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The code is also stored on the context handed to the logging middleware, so
// 4xx and 5xx log lines carry it.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeCyclicHierarchy, ErrCodeIdempotencyKeyReused:
		return http.StatusUnprocessableEntity
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// errorCode classifies a domain error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, audit.ErrNoActor):
		return ErrCodeAuthFailed
	case errors.Is(err, approval.ErrNotAuthorised), errors.Is(err, governance.ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, team.ErrCyclicHierarchy):
		return ErrCodeCyclicHierarchy
	case errors.Is(err, approval.ErrNotPending),
		errors.Is(err, approval.ErrAlreadyPending),
		errors.Is(err, team.ErrDuplicateName),
		errors.Is(err, team.ErrInUse):
		return ErrCodeConflict
	case errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, approval.ErrRuleNotFound),
		errors.Is(err, audit.ErrEntryNotFound),
		errors.Is(err, team.ErrTeamNotFound),
		errors.Is(err, team.ErrTypeNotFound),
		errors.Is(err, team.ErrRoleNotFound),
		errors.Is(err, membership.ErrMembershipNotFound):
		return ErrCodeNotFound
	case errors.Is(err, approval.ErrInvalidRule),
		errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, approval.ErrNoApprover),
		errors.Is(err, team.ErrInvalid),
		errors.Is(err, membership.ErrInvalidMembership),
		errors.Is(err, membership.ErrUnknownReference),
		errors.Is(err, audit.ErrInvalidEntry),
		errors.Is(err, audit.ErrUnsupportedFormat):
		return ErrCodeValidation
	default:
		return ErrCodeInternal
	}
}

// writeServiceError maps a domain error onto the error envelope. Internal
// errors are logged and their detail withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, internalMessage string) {
	code := errorCode(err)
	if code == ErrCodeInternal {
		slog.ErrorContext(r.Context(), internalMessage, "error", err, "path", r.URL.Path)
		WriteError(w, r.Context(), http.StatusInternalServerError, code, internalMessage)
		return
	}
	WriteError(w, r.Context(), StatusCodeMapping(code), code, err.Error())
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields.
// On failure it writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

const maxBodyBytes = 1 << 20

// requireActor returns the authenticated actor or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok || actor.OrganisationID == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return middleware.Actor{}, false
	}
	return actor, true
}

// requireAdmin returns the actor when they administer their organisation.
func requireAdmin(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.Admin {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Organisation administrator required")
		return middleware.Actor{}, false
	}
	return actor, true
}

// AuthFailure writes the 401 for a request rejected by the bearer-token
// middleware.
func AuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.DebugContext(r.Context(), "authentication failed", "error", err)
	WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
}

// IdempotencyFailure writes the response for a request rejected by the
// Idempotency-Key middleware.
func IdempotencyFailure(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, idempotency.ErrKeyReused):
		WriteError(w, r.Context(), http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyReused, err.Error())
	case errors.As(err, &tooLarge):
		WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
	case errors.Is(err, idempotency.ErrInvalidKey), errors.Is(err, idempotency.ErrKeyTooLong):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
	}
}
