package ir

import (
	"errors"
	"fmt"
)

// AuditError represents a failure detected by the audit engine.
//
// Audit errors fall into three categories:
//   - Configuration: unsupported association shape, unaudited target of a
//     not-owning association, identifier reuse without permission
//   - Consistency: merge across identities, more than one open row, a
//     validity transition the state machine does not allow
//   - Transaction required: a change reported with no active transaction
//
// Configuration and consistency errors abort the whole flush. Transaction
// errors are returned before any change unit is recorded and are
// recoverable by retrying inside a transaction.
type AuditError struct {
	// Code identifies the error category.
	Code AuditErrorCode

	// Message is a human-readable description.
	Message string

	// Entity is the affected entity name, when known.
	Entity string

	// Property is the affected property, when known.
	Property string

	// Details contains additional context.
	Details map[string]string
}

// AuditErrorCode categorizes audit errors.
type AuditErrorCode string

const (
	// ErrCodeConfiguration indicates a schema or query shape the engine cannot serve.
	ErrCodeConfiguration AuditErrorCode = "CONFIGURATION"

	// ErrCodeConsistency indicates a broken invariant upstream.
	ErrCodeConsistency AuditErrorCode = "CONSISTENCY"

	// ErrCodeTransactionRequired indicates a write with no active transaction.
	ErrCodeTransactionRequired AuditErrorCode = "TRANSACTION_REQUIRED"
)

// Error implements the error interface.
func (e *AuditError) Error() string {
	switch {
	case e.Entity != "" && e.Property != "":
		return fmt.Sprintf("%s: %s (entity=%s, property=%s)", e.Code, e.Message, e.Entity, e.Property)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// NewConfigurationError creates a configuration AuditError.
func NewConfigurationError(entity, property, format string, args ...any) *AuditError {
	return &AuditError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		Property: property,
	}
}

// NewConsistencyError creates a consistency AuditError.
func NewConsistencyError(entity string, id IRValue, format string, args ...any) *AuditError {
	err := &AuditError{
		Code:    ErrCodeConsistency,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
	}
	if id != nil {
		err.Details = map[string]string{"id": CanonicalKey(id)}
	}
	return err
}

// NewTransactionRequiredError creates a transaction-required AuditError.
func NewTransactionRequiredError(entity, operation string) *AuditError {
	return &AuditError{
		Code:    ErrCodeTransactionRequired,
		Message: fmt.Sprintf("%s requires an active transaction", operation),
		Entity:  entity,
	}
}

// IsConfigurationError returns true if err is a configuration AuditError.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsConsistencyError returns true if err is a consistency AuditError.
func IsConsistencyError(err error) bool {
	return hasCode(err, ErrCodeConsistency)
}

// IsTransactionRequired returns true if err is a transaction-required AuditError.
func IsTransactionRequired(err error) bool {
	return hasCode(err, ErrCodeTransactionRequired)
}

func hasCode(err error, code AuditErrorCode) bool {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
