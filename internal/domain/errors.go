package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes workflow errors. Kinds double as message keys in
// the localized catalog.
type ErrorKind string

const (
	// KindUnauthorized indicates the actor's role may not perform the transition.
	KindUnauthorized ErrorKind = "UNAUTHORIZED"

	// KindInvalidTransition indicates (current, target) is not in the table.
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"

	// KindNotEligible indicates a trainer may not bid on the request.
	KindNotEligible ErrorKind = "NOT_ELIGIBLE"

	// KindAlreadyApplied indicates an open application already exists.
	KindAlreadyApplied ErrorKind = "ALREADY_APPLIED"

	// KindAlreadyAssigned indicates the selection lost the conditional write.
	KindAlreadyAssigned ErrorKind = "ALREADY_ASSIGNED"

	// KindEditNotAllowed indicates a content edit outside the owner/stage window.
	KindEditNotAllowed ErrorKind = "EDIT_NOT_ALLOWED"

	// KindConflictBlocked indicates a forced schedule over a high-severity conflict.
	KindConflictBlocked ErrorKind = "CONFLICT_BLOCKED"

	// KindNetworkUnavailable indicates the backing store cannot be reached.
	KindNetworkUnavailable ErrorKind = "NETWORK_UNAVAILABLE"

	// KindMaxRetriesExceeded indicates a queued action was dropped.
	KindMaxRetriesExceeded ErrorKind = "MAX_RETRIES_EXCEEDED"

	// KindNotFound indicates a referenced record does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindValidation indicates malformed input.
	KindValidation ErrorKind = "VALIDATION"
)

// Error is a workflow error with a kind for programmatic handling.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so errors.Is(err, ErrUnauthorized) works
// for any Unauthorized error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of the given kind wrapping cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrNotEligible        = &Error{Kind: KindNotEligible}
	ErrAlreadyApplied     = &Error{Kind: KindAlreadyApplied}
	ErrAlreadyAssigned    = &Error{Kind: KindAlreadyAssigned}
	ErrEditNotAllowed     = &Error{Kind: KindEditNotAllowed}
	ErrConflictBlocked    = &Error{Kind: KindConflictBlocked}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrMaxRetriesExceeded = &Error{Kind: KindMaxRetriesExceeded}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
)

// KindOf returns the kind of err, or "" if err is not a domain error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether a failed operation may succeed if repeated.
// Validation and authorization failures are final; only network
// unavailability and non-domain errors are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case "", KindNetworkUnavailable:
		return true
	}
	return false
}
