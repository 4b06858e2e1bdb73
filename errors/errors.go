// Package errors provides the error taxonomy used across the cloudrelay
// data plane. Errors are classified so that callers can decide behavior
// (retry, reject, abort) by class instead of matching on message text.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorTransient represents temporary errors (network, 5xx, timeout)
	// that may be retried within the same invocation.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents malformed or rejected input (HTTP 400).
	ErrorInvalid
	// ErrorAuth represents token validation failures (HTTP 401/403).
	ErrorAuth
	// ErrorConfig represents missing or contradictory deploy-time
	// configuration. Never retried, raised at cold start or first use.
	ErrorConfig
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorAuth:
		return "auth"
	case ErrorConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Configuration errors
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrProviderUnassigned = errors.New("provider assignment missing for layer")
	ErrMissingToken       = errors.New("relay token not configured")
	ErrMissingURL         = errors.New("relay URL not configured")

	// Input errors
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidItem      = errors.New("invalid telemetry item")
	ErrInvalidQuery     = errors.New("invalid query")

	// Auth errors
	ErrTokenMismatch = errors.New("token mismatch")
	ErrTokenMissing  = errors.New("token missing")

	// Relay and storage errors
	ErrRelayFailed        = errors.New("relay call failed")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	// Chunking and assembly
	ErrOversizedItem      = errors.New("single item exceeds chunk ceiling")
	ErrIncompleteAssembly = errors.New("multipart assembly incomplete")
)

// ClassifiedError wraps an error with its classification and the
// component/operation pair where it was produced.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error may be retried.
func IsTransient(err error) bool {
	return classOf(err) == ErrorTransient ||
		errors.Is(err, ErrRelayFailed) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrMaxRetriesExceeded)
}

// IsInvalid checks if an error is due to malformed or rejected input.
func IsInvalid(err error) bool {
	return classOf(err) == ErrorInvalid ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrIncompleteAssembly)
}

// IsAuth checks if an error is a token validation failure.
func IsAuth(err error) bool {
	return classOf(err) == ErrorAuth ||
		errors.Is(err, ErrTokenMismatch) ||
		errors.Is(err, ErrTokenMissing)
}

// IsConfig checks if an error is a deploy-time configuration error.
func IsConfig(err error) bool {
	return classOf(err) == ErrorConfig ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrProviderUnassigned) ||
		errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrMissingURL)
}

// classOf returns the class of a ClassifiedError in the chain, or -1.
func classOf(err error) ErrorClass {
	if err == nil {
		return ErrorClass(-1)
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrorClass(-1)
}

// Classify returns the error class for an error. Unknown errors default
// to transient so a single flaky failure is retried rather than dropped.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsConfig(err):
		return ErrorConfig
	case IsAuth(err):
		return ErrorAuth
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid input with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapAuth wraps an error as an auth failure with context.
func WrapAuth(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorAuth, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConfig wraps an error as a configuration error with context.
func WrapConfig(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConfig, wrappedErr, component, method, wrappedErr.Error())
}
