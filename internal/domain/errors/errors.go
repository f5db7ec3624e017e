// Package errors provides standardized error types for the domain layer.
// Errors are categorized by the failure class they represent so handlers and
// workers can choose between retry, dead-letter and manual-review paths.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrServiceUnavailable indicates a dependency is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Kind classifies an engine failure for routing and reporting
type Kind string

const (
	// KindUserInput covers bad memos, addresses and other user mistakes
	KindUserInput Kind = "USER_INPUT"
	// KindProviderData covers malformed or unusable provider payloads
	KindProviderData Kind = "PROVIDER_DATA"
	// KindVerification covers amount mismatches and unverifiable transactions
	KindVerification Kind = "VERIFICATION_FAILURE"
	// KindRiskRejection covers velocity/cap gate triggers
	KindRiskRejection Kind = "RISK_REJECTION"
	// KindInfrastructure covers RPC timeouts, store outages and similar
	KindInfrastructure Kind = "INFRASTRUCTURE"
)

// DomainError represents an engine error with category and context
type DomainError struct {
	Err       error
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// New creates a domain error of the given kind
func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Wrap wraps err as a domain error of the given kind
func Wrap(err error, kind Kind, code, message string) *DomainError {
	return &DomainError{Err: err, Kind: kind, Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// KindOf extracts the failure kind from err, defaulting to INFRASTRUCTURE
// which is the safe-to-retry class.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInfrastructure
}

// IsRetryable reports whether err should be retried. Unclassified errors are
// retried; classified errors follow their flag.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Kind:    KindUserInput,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// VerificationError creates a non-retryable verification failure
func VerificationError(code, message string) *DomainError {
	return &DomainError{
		Kind:    KindVerification,
		Code:    code,
		Message: message,
	}
}

// ProviderDataError creates a provider payload error eligible for
// dead-letter retry.
func ProviderDataError(code, message string) *DomainError {
	return &DomainError{
		Kind:      KindProviderData,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// RiskRejectionError creates a non-retryable risk gate rejection
func RiskRejectionError(reason string) *DomainError {
	return &DomainError{
		Kind:    KindRiskRejection,
		Code:    "RISK_REJECTED",
		Message: reason,
	}
}

// InfrastructureError wraps an infrastructure failure as retryable
func InfrastructureError(err error, code string) *DomainError {
	return &DomainError{
		Err:       err,
		Kind:      KindInfrastructure,
		Code:      code,
		Message:   err.Error(),
		Retryable: true,
	}
}
