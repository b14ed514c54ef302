// Package apperr defines the error taxonomy shared across the runtime
// and the HTTP status codes each kind maps to at the facade boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories from SPEC_FULL.md §7.
type Kind string

const (
	KindBadInput         Kind = "bad_request"
	KindNotFound         Kind = "not_found"
	KindValidationError  Kind = "validation_error"
	KindPermissionDenied Kind = "permission_denied"
	KindCorrected        Kind = "corrected"
	KindRejected         Kind = "rejected"
	KindRetryable        Kind = "retryable"
	KindFatal            Kind = "internal_error"
)

// Error is a kind-tagged error usable with errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// callers can write errors.Is(err, apperr.NotFound("")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, message string) *Error { return &Error{Kind: kind, Message: message} }

// BadInput reports malformed or legacy request payloads.
func BadInput(message string) *Error { return newErr(KindBadInput, message) }

// NotFound reports an unknown session, message, or resource.
func NotFound(message string) *Error { return newErr(KindNotFound, message) }

// ValidationError reports a schema validation failure.
func ValidationError(message string) *Error { return newErr(KindValidationError, message) }

// PermissionDenied reports a rule-driven denial.
func PermissionDenied(message string) *Error { return newErr(KindPermissionDenied, message) }

// Corrected reports a rule-driven rewrite of a tool call.
func Corrected(message string) *Error { return newErr(KindCorrected, message) }

// Rejected reports a user rejection of a permission or question.
func Rejected(message string) *Error { return newErr(KindRejected, message) }

// Retryable reports a connection/timeout/429/5xx provider error.
func Retryable(message string, cause error) *Error {
	return &Error{Kind: KindRetryable, Message: message, Err: cause}
}

// Fatal reports an unexpected, non-recoverable exception.
func Fatal(message string, cause error) *Error {
	return &Error{Kind: KindFatal, Message: message, Err: cause}
}

// Wrap attaches message to cause without losing its Kind if cause is
// already an *Error; otherwise wraps it as Fatal.
func Wrap(cause error, message string) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		return &Error{Kind: existing.Kind, Message: message, Details: existing.Details, Err: cause}
	}
	return Fatal(message, cause)
}

// HTTPStatus maps an error's Kind to the HTTP status code the facade
// should return. Errors that are not *Error map to 500.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Kind {
	case KindBadInput:
		return 400
	case KindNotFound:
		return 404
	case KindValidationError:
		return 422
	case KindPermissionDenied, KindCorrected, KindRejected:
		return 409
	case KindRetryable:
		return 503
	default:
		return 500
	}
}

// Code returns the wire error code string for err, used in the HTTP
// facade's {error:{code,...}} envelope.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return string(KindFatal)
	}
	return string(e.Kind)
}
