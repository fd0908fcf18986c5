// Package domainerrors defines the coded error type services return to
// transport layers. Stores return sentinel errors (pkg/platform/sentinel);
// services translate them into coded errors here so handlers can map codes
// to HTTP statuses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	// CodeValidation marks malformed or incomplete input.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks a malformed identifier or primitive.
	CodeInvalidInput Code = "invalid_input"
	// CodeInvariantViolation marks an entity constructor or transition
	// rejecting state that would break a model invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInvalidHierarchy marks a submission whose level or parent breaks
	// hierarchy continuity. Never retried.
	CodeInvalidHierarchy Code = "invalid_hierarchy"
	// CodeInvalidState marks an operation applied to an entity in the wrong
	// lifecycle state (e.g. resolving a closed conflict case).
	CodeInvalidState Code = "invalid_state"
	// CodeConflict marks a uniqueness collision surfaced to the caller.
	CodeConflict Code = "conflict"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized marks a missing or invalid credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks an authenticated but disallowed request.
	CodeForbidden Code = "forbidden"
	// CodeTimeout marks a cancelled or deadline-exceeded operation.
	CodeTimeout Code = "timeout"
	// CodeSyncPersistence marks a failed ledger-plus-registry commit. The
	// whole ingest failed atomically and the caller may retry.
	CodeSyncPersistence Code = "sync_persistence"
	// CodeInternal marks everything else.
	CodeInternal Code = "internal"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates a cause with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal if the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost coded message in the chain, or a generic
// message for errors that carry none.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return HasCode(err, CodeSyncPersistence) || HasCode(err, CodeTimeout)
}
