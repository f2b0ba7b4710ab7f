// Package errs provides the unified error type used across pgshape.
//
// Every subsystem (catalog, schema, validate, sinks, caches) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to branch on the kind without importing driver packages.
//
// Usage:
//
//	// In a driver: wrap native errors.
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// At the top level: branch on the kind.
//	if errs.IsUnresolvedType(err) {
//	    log.Fatalf("fix the catalog: %v", err)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, no cached schema
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure

	ErrKindCatalogQuery      // a metadata query failed or type nesting is unbounded
	ErrKindUnresolvedType    // user-defined type is neither composite nor enum
	ErrKindDefaultEvaluation // a column default could not be evaluated
	ErrKindValidation        // a row did not satisfy its table schema
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindCatalogQuery:
		return "catalog_query"
	case ErrKindUnresolvedType:
		return "unresolved_type"
	case ErrKindDefaultEvaluation:
		return "default_evaluation"
	case ErrKindValidation:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all pgshape subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsCatalogQuery reports whether schema generation failed on a metadata query.
func IsCatalogQuery(err error) bool {
	return KindOf(err) == ErrKindCatalogQuery
}

// IsUnresolvedType reports whether a user-defined type could not be resolved.
func IsUnresolvedType(err error) bool {
	return KindOf(err) == ErrKindUnresolvedType
}

// IsDefaultEvaluation reports whether a column default failed to evaluate.
func IsDefaultEvaluation(err error) bool {
	return KindOf(err) == ErrKindDefaultEvaluation
}

// IsValidation reports whether a row was rejected by its table schema.
func IsValidation(err error) bool {
	return KindOf(err) == ErrKindValidation
}

// KindOf extracts the ErrKind of the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
