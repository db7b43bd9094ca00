// Package errors provides standardized API error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the error body of every failed status API request.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// New creates an APIError.
func New(status int, code, message string) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: status}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of e carrying details.
func (e *APIError) WithDetails(details any) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy of e with message.
func (e *APIError) WithMessage(message string) *APIError {
	cp := *e
	cp.Message = message
	return &cp
}

var (
	ErrNotFound           = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrBadRequest         = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrInternal           = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "service_unavailable", "Deployment state is unavailable")
)

// NewNotFoundError reports a missing network or node.
func NewNotFoundError(resource string) *APIError {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s not found", resource))
}

// NewValidationError reports an invalid request field.
func NewValidationError(field, message string) *APIError {
	return New(http.StatusBadRequest, "validation_error", fmt.Sprintf("Validation failed: %s", message)).
		WithDetails(map[string]string{"field": field, "error": message})
}

// AsAPIError unwraps err to an APIError, or ErrInternal when there is none.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}
