package rel

import (
	"errors"
	"fmt"
)

// Error represents a structured failure raised by the data-management core.
//
// Error categories:
//   - Usage errors: illegal call shape (multi-row update target, wrong
//     positional row length, wrong AutoMake output shape, ...)
//   - Integrity errors: duplicate-key or access-denial surfaced from the
//     database, annotated with a remediation hint
//   - Referential guard: an update refused because a computed descendant
//     depends on the entry
//   - Transaction errors: interactive confirmation requested while already
//     inside a transaction
//   - Schema invalid: a true cycle in the foreign-key dependency graph
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table identifies the affected table, if any.
	Table string

	// Hint suggests a remediation, if one exists.
	Hint string

	// Cause is the underlying error, if any.
	Cause error
}

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeUsage indicates an illegal call shape. Always fatal, never retried.
	ErrCodeUsage ErrorCode = "USAGE_ERROR"

	// ErrCodeIntegrity indicates a duplicate-key or access-denial condition
	// surfaced from the database.
	ErrCodeIntegrity ErrorCode = "INTEGRITY_ERROR"

	// ErrCodeReferentialGuard indicates an update was refused because a
	// computed descendant depends on the entry.
	ErrCodeReferentialGuard ErrorCode = "REFERENTIAL_GUARD"

	// ErrCodeTransaction indicates an operation requiring interactive
	// confirmation was attempted while already inside a transaction.
	ErrCodeTransaction ErrorCode = "TRANSACTION_ERROR"

	// ErrCodeSchemaInvalid indicates a true foreign-key cycle in the
	// dependency graph.
	ErrCodeSchemaInvalid ErrorCode = "SCHEMA_INVALID"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Table != "" {
		msg = fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// Unwrap returns the underlying cause, enabling errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewUsageError creates a usage error for an illegal call shape.
func NewUsageError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeUsage, Message: fmt.Sprintf(format, args...)}
}

// NewIntegrityError wraps a database integrity failure with a remediation hint.
func NewIntegrityError(table, hint string, cause error) *Error {
	return &Error{
		Code:    ErrCodeIntegrity,
		Message: cause.Error(),
		Table:   table,
		Hint:    hint,
		Cause:   cause,
	}
}

// NewGuardError creates a referential-guard refusal for the given table.
func NewGuardError(table string) *Error {
	return &Error{
		Code:    ErrCodeReferentialGuard,
		Message: "entries of downstream auto-populated tables depend on this entry",
		Table:   table,
		Hint:    "delete the dependent computed entries before editing this one",
	}
}

// NewTransactionError creates a transaction-discipline violation error.
func NewTransactionError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeTransaction, Message: fmt.Sprintf(format, args...)}
}

// NewSchemaError creates a schema-validity error (foreign-key cycle).
func NewSchemaError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeSchemaInvalid, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsUsageError returns true if the error is a usage error.
// Uses errors.As to handle wrapped errors.
func IsUsageError(err error) bool { return hasCode(err, ErrCodeUsage) }

// IsIntegrityError returns true if the error is an integrity error.
func IsIntegrityError(err error) bool { return hasCode(err, ErrCodeIntegrity) }

// IsGuardError returns true if the error is a referential-guard refusal.
func IsGuardError(err error) bool { return hasCode(err, ErrCodeReferentialGuard) }

// IsTransactionError returns true if the error is a transaction-discipline violation.
func IsTransactionError(err error) bool { return hasCode(err, ErrCodeTransaction) }

// IsSchemaError returns true if the error is a schema-validity violation.
func IsSchemaError(err error) bool { return hasCode(err, ErrCodeSchemaInvalid) }
