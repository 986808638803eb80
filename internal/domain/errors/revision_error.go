// Package errors defines the typed failures raised by the revision engine.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a revision failure.
type Code string

const (
	CodeReferenceNotFound      Code = "REFERENCE_NOT_FOUND"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeAllocatorUninitialized Code = "ALLOCATOR_UNINITIALIZED"
	CodePersistFailure         Code = "PERSIST_FAILURE"
	CodeIllegalTransition      Code = "ILLEGAL_TRANSITION"
	CodeVersionConflict        Code = "VERSION_CONFLICT"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
)

// RevisionError carries a code plus the structured fields relevant to it.
type RevisionError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Collection string         `json:"collection,omitempty"`
	ID         string         `json:"id,omitempty"`
	Path       string         `json:"path,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *RevisionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RevisionError) Unwrap() error {
	return e.Cause
}

// Is matches another RevisionError by code so errors.Is works against the
// sentinel values below.
func (e *RevisionError) Is(target error) bool {
	var other *RevisionError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && other.Message == ""
}

// IsUserFacing reports whether the failure can be shown to the submitter.
func (e *RevisionError) IsUserFacing() bool {
	switch e.Code {
	case CodeAllocatorUninitialized, CodePersistFailure:
		return false
	default:
		return true
	}
}

// Sentinels for errors.Is checks.
var (
	ErrReferenceNotFound      = &RevisionError{Code: CodeReferenceNotFound}
	ErrValidationFailed       = &RevisionError{Code: CodeValidationFailed}
	ErrAllocatorUninitialized = &RevisionError{Code: CodeAllocatorUninitialized}
	ErrPersistFailure         = &RevisionError{Code: CodePersistFailure}
	ErrIllegalTransition      = &RevisionError{Code: CodeIllegalTransition}
	ErrVersionConflict        = &RevisionError{Code: CodeVersionConflict}
	ErrNotFound               = &RevisionError{Code: CodeNotFound}
	ErrForbidden              = &RevisionError{Code: CodeForbidden}
)

// ReferenceNotFound reports an existing-id relation that does not resolve.
func ReferenceNotFound(collection, id string) *RevisionError {
	return &RevisionError{
		Code:       CodeReferenceNotFound,
		Message:    fmt.Sprintf("%s %q does not exist", collection, id),
		Collection: collection,
		ID:         id,
	}
}

// ValidationFailed reports a structural rule broken at path.
func ValidationFailed(path, reason string) *RevisionError {
	return &RevisionError{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("%s: %s", path, reason),
		Path:    path,
	}
}

// AllocatorUninitialized reports a missing counter for collection.
func AllocatorUninitialized(collection string, cause error) *RevisionError {
	return &RevisionError{
		Code:       CodeAllocatorUninitialized,
		Message:    fmt.Sprintf("identifier counter for %s is not initialized", collection),
		Collection: collection,
		Cause:      cause,
	}
}

// PersistFailure wraps a failed store write.
func PersistFailure(cause error) *RevisionError {
	return &RevisionError{
		Code:    CodePersistFailure,
		Message: "persist failed, submission rolled back",
		Cause:   cause,
	}
}

// IllegalTransition reports a ledger move outside the transition table.
func IllegalTransition(from, to string) *RevisionError {
	return &RevisionError{
		Code:    CodeIllegalTransition,
		Message: fmt.Sprintf("cannot move patch from %s to %s", from, to),
		From:    from,
		To:      to,
	}
}

// VersionConflict reports canonical drift between submission and moderation.
func VersionConflict(collection, id string, expected, actual int64) *RevisionError {
	return &RevisionError{
		Code:       CodeVersionConflict,
		Message:    fmt.Sprintf("%s %s changed since the patch was submitted (base %d, current %d)", collection, id, expected, actual),
		Collection: collection,
		ID:         id,
		Details: map[string]any{
			"base_version":    expected,
			"current_version": actual,
		},
	}
}

// NotFound reports a missing patch or entity.
func NotFound(collection, id string) *RevisionError {
	return &RevisionError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", collection, id),
		Collection: collection,
		ID:         id,
	}
}

// Forbidden reports an actor not allowed to perform the requested action.
func Forbidden(message string) *RevisionError {
	return &RevisionError{
		Code:    CodeForbidden,
		Message: message,
	}
}

// CodeOf extracts the code of a wrapped RevisionError, or "" when err is not one.
func CodeOf(err error) Code {
	var revErr *RevisionError
	if errors.As(err, &revErr) {
		return revErr.Code
	}
	return ""
}
