package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeQuota       ErrorType = "quota"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTransition  ErrorType = "transition"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeAudit       ErrorType = "audit"
	ErrorTypeInternal    ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Message == "" || e.Message == t.Message)
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Malformed input: fail fast, no side effect
	ErrUnknownOrganization = NewDomainError(ErrorTypeNotFound, "unknown organization", nil)
	ErrUnknownFeature      = NewDomainError(ErrorTypeNotFound, "unknown feature", nil)
	ErrItemNotFound        = NewDomainError(ErrorTypeNotFound, "context item not found", nil)
	ErrSharingNotFound     = NewDomainError(ErrorTypeNotFound, "sharing request not found", nil)
	ErrQuotaNotFound       = NewDomainError(ErrorTypeNotFound, "quota not found", nil)

	// Validation
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrCyclicScope  = NewDomainError(ErrorTypeValidation, "cyclic parent scope reference", nil)

	// Quota: raised only by the low-level consume; the enforcer converts it
	// into a deny decision rather than propagating it
	ErrQuotaExceeded = NewDomainError(ErrorTypeQuota, "quota exceeded", nil)

	// Optimistic-concurrency violation on workflow transitions
	ErrStaleTransition = NewDomainError(ErrorTypeConflict, "request not in expected state", nil)

	// Status state machine violation on context items
	ErrInvalidTransition = NewDomainError(ErrorTypeTransition, "invalid status transition", nil)

	// Transient store failure; caller may retry
	ErrStoreUnavailable = NewDomainError(ErrorTypeUnavailable, "policy store unavailable", nil)

	// An unaudited decision is a correctness violation, so a failed audit
	// write fails the originating operation
	ErrAuditWriteFailed = NewDomainError(ErrorTypeAudit, "audit write failed", nil)

	// Internal
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasErrorType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasErrorType(err, ErrorTypeValidation)
}

// IsQuotaExceededError checks if an error is a quota exceeded error
func IsQuotaExceededError(err error) bool {
	return hasErrorType(err, ErrorTypeQuota)
}

// IsConflictError checks if an error is an optimistic-concurrency conflict
func IsConflictError(err error) bool {
	return hasErrorType(err, ErrorTypeConflict)
}

// IsTransitionError checks if an error is a status transition violation
func IsTransitionError(err error) bool {
	return hasErrorType(err, ErrorTypeTransition)
}

// IsStoreUnavailableError checks if an error is a transient store failure
func IsStoreUnavailableError(err error) bool {
	return hasErrorType(err, ErrorTypeUnavailable)
}

// IsAuditWriteError checks if an error is a failed audit write
func IsAuditWriteError(err error) bool {
	return hasErrorType(err, ErrorTypeAudit)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasErrorType(err, ErrorTypeInternal)
}

func hasErrorType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUnavailable wraps an error as a transient store failure
func WrapUnavailable(message string, err error) error {
	return NewDomainError(ErrorTypeUnavailable, message, err)
}
