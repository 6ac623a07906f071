// Package core holds the error taxonomy shared by the provider clients and
// the gateway surface.
package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape for upstream and API failures.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

// NewAPIError creates a generic upstream API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// NewProviderError wraps a transport-level failure from a provider client.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{Type: ErrProvider, Message: fmt.Sprintf("%s: %v", provider, underlying)}
}

// IsRetryable reports whether retrying the operation could succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// AsError extracts a *core.Error from an error chain, or wraps the error as
// a provider error when none is present.
func AsError(err error, provider string) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return NewProviderError(provider, err)
}
