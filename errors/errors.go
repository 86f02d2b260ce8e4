// Package errors provides standardized error handling patterns for controlbus components.
// It includes the messaging error taxonomy, error classification and helper functions
// for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind is the messaging failure taxonomy. Every fallible messaging operation
// returns an error that maps onto exactly one Kind.
type Kind int

const (
	// KindNone is reported for nil errors
	KindNone Kind = iota
	// KindParameters covers invalid or missing message fields and configuration
	KindParameters
	// KindUnsupportedFeature covers unknown destinations, unmatched dispatch and reply-to-a-reply
	KindUnsupportedFeature
	// KindTimeout covers lock acquisition and reply wait timeouts
	KindTimeout
	// KindCommunication covers replies that were required but could not be delivered
	KindCommunication
	// KindFatal covers internal invariant violations
	KindFatal
	// KindUnknown is reported for errors outside the taxonomy, such as a failing user method
	KindUnknown
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindParameters:
		return "parameters"
	case KindUnsupportedFeature:
		return "unsupported_feature"
	case KindTimeout:
		return "timeout"
	case KindCommunication:
		return "communication"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Class maps a Kind onto the handling class
func (k Kind) Class() ErrorClass {
	switch k {
	case KindParameters, KindUnsupportedFeature:
		return ErrorInvalid
	case KindFatal:
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// Sentinel returns the taxonomy sentinel of the kind, nil for KindNone and KindUnknown
func (k Kind) Sentinel() error {
	switch k {
	case KindParameters:
		return ErrParameters
	case KindUnsupportedFeature:
		return ErrUnsupportedFeature
	case KindTimeout:
		return ErrTimeout
	case KindCommunication:
		return ErrCommunication
	case KindFatal:
		return ErrFatal
	default:
		return nil
	}
}

// ParseKind returns the Kind whose String is s, KindUnknown otherwise
func ParseKind(s string) Kind {
	for k := KindNone; k < KindUnknown; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Messaging taxonomy sentinels. Wrapped errors keep them reachable through errors.Is.
var (
	ErrParameters         = errors.New("parameters error")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrTimeout            = errors.New("timeout")
	ErrCommunication      = errors.New("communication error")
	ErrFatal              = errors.New("fatal error")
)

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration: %w", ErrParameters)
	ErrMissingConfig = fmt.Errorf("missing required configuration: %w", ErrParameters)

	// Connection errors
	ErrNoConnection = fmt.Errorf("no connection available: %w", ErrCommunication)
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// KindOf returns the messaging Kind of err. Fatal wins over every other kind
// so that a joined error containing an invariant violation is never downgraded.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCommunication):
		return KindCommunication
	case errors.Is(err, ErrParameters):
		return KindParameters
	case errors.Is(err, ErrUnsupportedFeature):
		return KindUnsupportedFeature
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Class == ErrorFatal {
		return KindFatal
	}
	return KindUnknown
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return KindOf(err).Class() == ErrorTransient
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}
	return KindOf(err) == KindFatal
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	return KindOf(err).Class() == ErrorInvalid
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
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

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
