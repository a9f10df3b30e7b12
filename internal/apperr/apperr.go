// Package apperr defines the service error taxonomy. Handlers map Status to
// HTTP responses; the realtime gateway maps errors to scoped *_error events.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation indicates missing or malformed input; the client must fix the request.
func Validation(message string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: message, Status: http.StatusBadRequest}
}

// NotFound indicates a referenced chat, message or user is absent.
func NotFound(message string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound}
}

// Forbidden indicates the caller is authenticated but lacks role or membership.
func Forbidden(message string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden}
}

// Conflict indicates a duplicate operation, e.g. re-adding an active participant.
func Conflict(message string) *AppError {
	return &AppError{Code: "CONFLICT", Message: message, Status: http.StatusConflict}
}

// Upstream wraps a store or provider failure.
func Upstream(message string, err error) *AppError {
	return &AppError{Code: "UPSTREAM_ERROR", Message: message, Status: http.StatusInternalServerError, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus returns the status for err, defaulting to 500 for plain errors.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
