// Package kberr defines the error taxonomy shared by the knowledge-base
// services: every operation failure carries a Kind that callers can branch on
// without inspecting message text.
package kberr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind classifies a service failure.
type Kind string

const (
	// KindNotFound indicates the referenced workspace, collection or item is
	// absent, or invisible after ownership filtering.
	KindNotFound Kind = "not_found"
	// KindForbidden indicates the entity exists but the caller does not own it.
	KindForbidden Kind = "forbidden"
	// KindBadRequest indicates a structurally invalid request, such as a
	// cross-workspace parent or a move that would create a cycle.
	KindBadRequest Kind = "bad_request"
	// KindConflict indicates a store-level constraint violation.
	KindConflict Kind = "conflict"
	// KindInternal indicates an unexpected store failure.
	KindInternal Kind = "internal"
)

// Error is a typed service error with an operation.reason code.
type Error struct {
	kind Kind
	code string
	err  error
}

// E builds an Error for the given kind with a code of the form
// "operation.reason".
func E(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind exposes the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code exposes the operation.reason code.
func (e *Error) Code() string {
	return e.code
}

// NotFound builds a KindNotFound error.
func NotFound(operation, reason string, cause error) *Error {
	return E(KindNotFound, operation, reason, cause)
}

// Forbidden builds a KindForbidden error.
func Forbidden(operation, reason string, cause error) *Error {
	return E(KindForbidden, operation, reason, cause)
}

// BadRequest builds a KindBadRequest error.
func BadRequest(operation, reason string, cause error) *Error {
	return E(KindBadRequest, operation, reason, cause)
}

// Conflict builds a KindConflict error.
func Conflict(operation, reason string, cause error) *Error {
	return E(KindConflict, operation, reason, cause)
}

// Internal builds a KindInternal error.
func Internal(operation, reason string, cause error) *Error {
	return E(KindInternal, operation, reason, cause)
}

// KindOf reports the Kind carried by err, or KindInternal when err carries
// none.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.kind
	}
	return KindInternal
}

// IsIntegrityViolation reports whether err is a store-level constraint
// failure. Classification relies on GORM's translated error values rather
// than message substrings, so it holds across driver versions.
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated)
}
