package domain

import (
	"errors"
	"fmt"
)

// ErrorCategory is the failure taxonomy shared by the whole pipeline.
type ErrorCategory string

const (
	CategoryUserRejected         ErrorCategory = "user_rejected"
	CategoryInsufficientResource ErrorCategory = "insufficient_resource"
	CategoryValidationFailure    ErrorCategory = "validation_failure"
	CategoryNetworkTransient     ErrorCategory = "network_transient"
	CategoryServerTransient      ErrorCategory = "server_transient"
	CategoryReverted             ErrorCategory = "reverted"
	CategoryReplaced             ErrorCategory = "replaced"
	CategoryTimedOut             ErrorCategory = "timed_out"
	CategoryCancelled            ErrorCategory = "cancelled"
	CategoryUnknown              ErrorCategory = "unknown"
)

// ClassifiedError is a failure tagged with its category once, at the
// classification boundary, so downstream code never re-inspects raw
// provider error shapes.
type ClassifiedError struct {
	Category  ErrorCategory `json:"category"`
	Retryable bool          `json:"retryable"`
	Message   string        `json:"message"`
	Cause     error         `json:"-"`
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// NewClassifiedError wraps cause with an explicit category tag.
func NewClassifiedError(category ErrorCategory, retryable bool, cause error) *ClassifiedError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ClassifiedError{
		Category:  category,
		Retryable: retryable,
		Message:   msg,
		Cause:     cause,
	}
}

// CategoryOf extracts the category from err, or CategoryUnknown if err was
// never classified.
func CategoryOf(err error) ErrorCategory {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// IsRetryable reports the retryable flag of a classified error. Unclassified
// errors are not retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
