package http

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-level error with HTTP status.
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

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// ErrorRule maps errors matching Err (via errors.Is) to a code and status.
type ErrorRule struct {
	Err    error
	Code   string
	Status int
}

// FromDomainError converts err using the first matching rule. An AppError
// passes through unchanged; anything unmatched becomes a generic 500 so
// internal details are not leaked.
func FromDomainError(err error, rules []ErrorRule) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, r := range rules {
		if errors.Is(err, r.Err) {
			return NewAppError(r.Code, "", err.Error(), r.Status).WithError(err)
		}
	}
	return InternalError("Something went wrong").WithError(err)
}

func GoneError(message string) *AppError {
	return NewAppError("ERR_GONE", "", message, http.StatusGone)
}

func UnavailableError(message string) *AppError {
	return NewAppError("ERR_UNAVAILABLE", "", message, http.StatusServiceUnavailable)
}

func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}
