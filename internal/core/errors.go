// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Provider errors, the recoverable kinds dispatch falls through on
	ErrAuthentication = &Error{Code: "AUTHENTICATION", Message: "provider rejected credentials"}
	ErrConnection     = &Error{Code: "CONNECTION", Message: "provider unreachable"}
	ErrRateLimit      = &Error{Code: "RATE_LIMIT", Message: "provider rate limit exceeded"}
	ErrModelNotFound  = &Error{Code: "MODEL_NOT_FOUND", Message: "model not found"}
	ErrTimeout        = &Error{Code: "TIMEOUT", Message: "provider request timeout"}
	ErrProviderFailed = &Error{Code: "PROVIDER_FAILED", Message: "provider request failed"}
	ErrUnhealthy      = &Error{Code: "PROVIDER_UNHEALTHY", Message: "provider health check failed"}

	// Dispatch errors
	ErrAllProvidersFailed = &Error{Code: "ALL_PROVIDERS_FAILED", Message: "all providers failed"}
	ErrNoProviders        = &Error{Code: "NO_PROVIDERS", Message: "no enabled providers"}
	ErrCancelled          = &Error{Code: "CANCELLED", Message: "request cancelled"}
	ErrInvalidRequest     = &Error{Code: "INVALID_REQUEST", Message: "invalid request"}

	// Notifier errors
	ErrNotifierFailed = &Error{Code: "NOTIFIER_FAILED", Message: "notifier failed"}

	// Storage errors
	ErrNotFound = &Error{Code: "NOT_FOUND", Message: "not found"}

	// API errors
	ErrUnauthorized = &Error{Code: "UNAUTHORIZED", Message: "missing or invalid API key"}
	ErrQueueFull    = &Error{Code: "QUEUE_FULL", Message: "job queue is full"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
