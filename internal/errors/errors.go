package errors

import (
	"fmt"
)

// ScenedexError is the structured error type for scenedex.
// It carries a stable code plus classification derived from it, so callers
// can branch on identity while logs keep full context.
type ScenedexError struct {
	// Code is the unique error code (e.g., "ERR_204_STALE_SCENE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *ScenedexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ScenedexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ScenedexError.
func (e *ScenedexError) Is(target error) bool {
	if t, ok := target.(*ScenedexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ScenedexError) WithDetail(key, value string) *ScenedexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new ScenedexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ScenedexError {
	return &ScenedexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ScenedexError from an existing error.
// The error's message becomes the ScenedexError message.
func Wrap(code string, err error) *ScenedexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ParseError creates an upstream parser failure.
func ParseError(message string, cause error) *ScenedexError {
	return New(ErrCodeParseFailed, message, cause)
}

// StaleSceneError indicates a metadata write target was not found in the
// current document text. Recoverable: the caller logs and moves on.
func StaleSceneError(contentHash string) *ScenedexError {
	return New(ErrCodeStaleScene, "scene text not found in document", nil).
		WithDetail("content_hash", contentHash)
}

// TxError creates a storage transaction failure. Retryable.
func TxError(message string, cause error) *ScenedexError {
	return New(ErrCodeTxFailed, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *ScenedexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ScenedexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a ScenedexError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ScenedexError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ScenedexError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ScenedexError.
// Returns empty string if not a ScenedexError.
func GetCode(err error) string {
	if se, ok := err.(*ScenedexError); ok {
		return se.Code
	}
	return ""
}
