package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide between
// rejecting, retrying, or aborting a transaction.
type Kind string

const (
	// KindValidation marks bad input shape or range. Never retried.
	KindValidation Kind = "validation"

	// KindConflict marks an invariant violation (duplicate active year,
	// duplicate subscription, in-flight idempotency key). Never retried.
	KindConflict Kind = "conflict"

	// KindComputation marks a failed or inconsistent aggregation. The
	// enclosing transaction must abort; safe to retry since nothing
	// was persisted.
	KindComputation Kind = "computation"

	// KindStore marks a transient persistence failure. The whole
	// operation rolls back; safe to retry.
	KindStore Kind = "store"
)

// Error carries a stable machine-readable kind plus a human-readable
// message, optionally wrapping a lower-level cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf returns a validation-kind error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflictf returns a conflict-kind error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// WrapConflict wraps err as a conflict-kind error.
func WrapConflict(err error, msg string) error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// WrapValidation wraps err as a validation-kind error.
func WrapValidation(err error, msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

// WrapComputation wraps err as a computation-kind error.
func WrapComputation(err error, msg string) error {
	return &Error{Kind: KindComputation, Message: msg, Err: err}
}

// WrapStore wraps err as a store-kind error.
func WrapStore(err error, msg string) error {
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is validation-kind.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict reports whether err is conflict-kind.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsComputation reports whether err is computation-kind.
func IsComputation(err error) bool { return KindOf(err) == KindComputation }

// IsStore reports whether err is store-kind.
func IsStore(err error) bool { return KindOf(err) == KindStore }
