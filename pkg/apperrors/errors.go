// Package apperrors defines the error taxonomy shared by all roster services.
//
// Every business failure is surfaced as an *Error carrying a Kind and a
// human-readable reason. Handlers map Kinds to HTTP status codes; services
// never swallow or downgrade an error's Kind on the way up.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and caller inspection
type Kind string

const (
	// KindUnauthenticated means no valid caller identity was presented
	KindUnauthenticated Kind = "unauthenticated"
	// KindPermissionDenied means the caller is authenticated but lacks the required privilege
	KindPermissionDenied Kind = "permission_denied"
	// KindNotFound means a referenced entity does not exist
	KindNotFound Kind = "not_found"
	// KindInvalidReference means an opaque identifier is malformed or of the wrong type
	KindInvalidReference Kind = "invalid_reference"
	// KindConflict means a uniqueness constraint was violated
	KindConflict Kind = "conflict"
	// KindInvariantViolation means the operation would break the last-admin guarantee
	KindInvariantViolation Kind = "invariant_violation"
	// KindValidationFailed means a field-level constraint was violated
	KindValidationFailed Kind = "validation_failed"
	// KindInternal means an unexpected infrastructure failure
	KindInternal Kind = "internal"
)

// Error is a classified business error
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two classified errors by Kind so sentinel-style comparisons work
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a classified error
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf creates a classified error with a formatted reason
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// Unauthenticated creates an authentication-required error
func Unauthenticated(reason string) *Error {
	return New(KindUnauthenticated, reason)
}

// PermissionDenied creates a denial naming the missing privilege
func PermissionDenied(reason string) *Error {
	return New(KindPermissionDenied, reason)
}

// NotFound creates a missing-entity error
func NotFound(reason string) *Error {
	return New(KindNotFound, reason)
}

// InvalidReference creates a malformed-identifier error
func InvalidReference(reason string) *Error {
	return New(KindInvalidReference, reason)
}

// Conflict creates a uniqueness-violation error
func Conflict(reason string) *Error {
	return New(KindConflict, reason)
}

// InvariantViolation creates a last-admin-guard error
func InvariantViolation(reason string) *Error {
	return New(KindInvariantViolation, reason)
}

// ValidationFailed creates a field-constraint error
func ValidationFailed(reason string) *Error {
	return New(KindValidationFailed, reason)
}

// Internal wraps an unexpected infrastructure failure
func Internal(reason string, cause error) *Error {
	return Wrap(KindInternal, reason, cause)
}

// KindOf extracts the Kind from any error; unclassified errors report KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf extracts the human-readable reason from any error
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// IsKind reports whether err carries the given Kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
