package types

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (returned during rule/request parsing)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// APIError — structured error returned to callers
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

// ──────────────────────────────────────────────────────────────────────────────
// Common error constructors
// ──────────────────────────────────────────────────────────────────────────────

func ErrBadRequest(msg string) *APIError {
	return &APIError{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrValidation(err error) *APIError {
	return &APIError{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPCode: http.StatusUnprocessableEntity}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrForbidden(msg string) *APIError {
	return &APIError{Code: "FORBIDDEN", Message: msg, HTTPCode: http.StatusForbidden}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrConflict(msg string) *APIError {
	return &APIError{Code: "CONFLICT", Message: msg, HTTPCode: http.StatusConflict}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}

// ──────────────────────────────────────────────────────────────────────────────
// Workflow command errors
// ──────────────────────────────────────────────────────────────────────────────

func ErrInvalidRole(role string) *APIError {
	return &APIError{Code: "INVALID_ROLE", Message: fmt.Sprintf("role %q is not a required approver for this request", role), HTTPCode: http.StatusForbidden}
}

func ErrAlreadyTerminal(status string) *APIError {
	return &APIError{Code: "ALREADY_TERMINAL", Message: fmt.Sprintf("approval request is already %s", status), HTTPCode: http.StatusConflict}
}

func ErrDuplicateApproval(role string) *APIError {
	return &APIError{Code: "DUPLICATE_APPROVAL", Message: fmt.Sprintf("role %q has already approved this request", role), HTTPCode: http.StatusConflict}
}
