package api

import "fmt"

// ErrorType classifies a domain error raised by the provider layer.
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeConfiguration  ErrorType = "configuration_error"
	ErrorTypeTimeout        ErrorType = "timeout_error"
	ErrorTypeProvider       ErrorType = "provider_error"
	ErrorTypeNoFinalMessage ErrorType = "no_final_message"
)

// TimeoutKind distinguishes which phase of a call timed out.
type TimeoutKind string

const (
	TimeoutConnect TimeoutKind = "connect"
	TimeoutRead    TimeoutKind = "read"
	TimeoutGeneric TimeoutKind = "generic"
)

// Error is the structured domain error. Nothing below the provider client
// boundary escapes as a raw transport error; everything is translated to
// an *Error before it crosses.
type Error struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Timeout    TimeoutKind    `json:"timeout_kind,omitempty"`
	Details    map[string]any `json:"details,omitempty"`

	// Permanent marks an error of an otherwise-transient type as
	// non-retryable (e.g. a capability mismatch surfaced with a 5xx).
	Permanent bool `json:"-"`

	// Cause preserves the original low-level error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the preserved cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error class is transient. Authentication,
// configuration, and no-final-message errors are never retryable; rate
// limit, timeout, and generic provider errors are, unless marked permanent.
func (e *Error) Retryable() bool {
	if e.Permanent {
		return false
	}
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// NewAuthenticationError creates an Error for upstream credential rejections.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrorTypeAuthentication, Message: message}
}

// NewRateLimitError creates an Error for upstream rate limiting.
func NewRateLimitError(message string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Message: message}
}

// NewConfigurationError creates an Error for requests the upstream rejects
// as malformed or unsupported by configuration.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: message}
}

// NewTimeoutError creates an Error for a connect, read, or generic timeout,
// preserving the original low-level error as its cause.
func NewTimeoutError(kind TimeoutKind, message string, cause error) *Error {
	return &Error{Type: ErrorTypeTimeout, Timeout: kind, Message: message, Cause: cause}
}

// NewProviderError creates an Error for a generic upstream failure.
func NewProviderError(message string) *Error {
	return &Error{Type: ErrorTypeProvider, Message: message}
}

// NewNoFinalMessageError creates the fatal invariant-violation Error raised
// when a call attempt completes without producing a final result or error.
func NewNoFinalMessageError() *Error {
	return &Error{
		Type:      ErrorTypeNoFinalMessage,
		Message:   "provider call completed without a final message",
		Permanent: true,
	}
}
