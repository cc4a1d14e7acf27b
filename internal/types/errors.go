package types

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind classifies platform errors for retry and routing decisions.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "validation_error"
	ErrInsufficientData   ErrorKind = "insufficient_data"
	ErrSourceUnavailable  ErrorKind = "source_unavailable"
	ErrTimeout            ErrorKind = "timeout"
	ErrNetwork            ErrorKind = "network_error"
	ErrDependencyFailed   ErrorKind = "dependency_failed"
	ErrWorkerLost         ErrorKind = "worker_lost"
	ErrQualityDegradation ErrorKind = "quality_degradation"
	ErrExportUnsupported  ErrorKind = "export_unsupported"
)

// Error is the structured error carried across component boundaries. Kind
// drives retry policy and failover; Cause preserves the underlying error for
// errors.Is/As chains.
type Error struct {
	Kind      ErrorKind
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind, so errors.Is(err, NewError(ErrTimeout, ""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// retryableKinds are retried by the collaboration manager with a priority
// boost; everything else surfaces to the caller.
var retryableKinds = map[ErrorKind]bool{
	ErrTimeout: true,
	ErrNetwork: true,
}

// NewError builds a structured error of the given kind. Retryable defaults
// from the kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableKinds[kind]}
}

// WrapError builds a structured error of the given kind around a cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Retryable: retryableKinds[kind]}
}

// Errorf builds a structured error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Returns ""
// for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable decides whether a failed task should be retried. Typed errors
// use their Retryable flag; foreign errors fall back to the legacy substring
// match on "timeout" / "network".
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "network")
}

// RetryableMessage is the string-level twin of IsRetryable for task records
// that only kept the error text.
func RetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kind := range []ErrorKind{ErrTimeout, ErrNetwork} {
		if strings.Contains(lower, string(kind)) {
			return true
		}
	}
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "network")
}
