package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error that knows the envelope status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError creates a new application error.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// UnavailableError marks a dependency that cannot serve right now.
func UnavailableError(err error) *AppError {
	return NewAppError("ERR_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable, err)
}

// AsAppError classifies err. Deadline and cancellation map to 504, other
// untyped errors to 500. The cause never reaches the response body.
func AsAppError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewAppError("ERR_TIMEOUT", "request timed out", http.StatusGatewayTimeout, err)
	default:
		return NewAppError("ERR_INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
