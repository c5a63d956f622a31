package errors

import (
	"fmt"
)

// FrameError is the structured error type for FrameFind.
// It provides rich context for error handling, logging, and API responses.
type FrameError struct {
	// Code is the unique error code (e.g., "ERR_402_INVALID_WEIGHTS").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FrameError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with FrameError.
func (e *FrameError) Is(target error) bool {
	if t, ok := target.(*FrameError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *FrameError) WithDetail(key, value string) *FrameError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the caller.
// Returns the error for method chaining.
func (e *FrameError) WithSuggestion(suggestion string) *FrameError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FrameError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FrameError {
	return &FrameError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FrameError from an existing error.
// The error's message becomes the FrameError message.
func Wrap(code string, err error) *FrameError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidRequest creates a request validation error.
func InvalidRequest(message string) *FrameError {
	return New(ErrCodeInvalidRequest, message, nil)
}

// InvalidWeights creates a weight validation error.
func InvalidWeights(message string) *FrameError {
	return New(ErrCodeInvalidWeights, message, nil)
}

// EmbeddingUnavailable creates an embedder availability error.
func EmbeddingUnavailable(message string, cause error) *FrameError {
	return New(ErrCodeEmbeddingUnavailable, message, cause)
}

// ChannelTimeout creates a per-channel deadline error.
func ChannelTimeout(channel string, cause error) *FrameError {
	return New(ErrCodeChannelTimeout, fmt.Sprintf("channel %s exceeded deadline", channel), cause).
		WithDetail("channel", channel)
}

// ChannelUnavailable creates a channel backend error.
func ChannelUnavailable(channel string, cause error) *FrameError {
	return New(ErrCodeChannelUnavailable, fmt.Sprintf("channel %s unavailable", channel), cause).
		WithDetail("channel", channel)
}

// RetrievalUnavailable creates an error for when no retrieval mode is runnable.
func RetrievalUnavailable(message string, cause error) *FrameError {
	return New(ErrCodeRetrievalUnavailable, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FrameError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates an index or metadata store error.
func StoreError(message string, cause error) *FrameError {
	return New(ErrCodeStoreFailed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FrameError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a FrameError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*FrameError); ok {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*FrameError); ok {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a FrameError.
// Returns empty string if not a FrameError.
func GetCode(err error) string {
	if fe, ok := err.(*FrameError); ok {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from a FrameError.
// Returns empty string if not a FrameError.
func GetCategory(err error) Category {
	if fe, ok := err.(*FrameError); ok {
		return fe.Category
	}
	return ""
}
