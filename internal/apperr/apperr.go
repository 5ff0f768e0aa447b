// Package apperr defines the error taxonomy shared across services and the
// HTTP boundary. Every business failure is an *Error with a Kind; the HTTP
// layer maps kinds to status codes and never leaks internal detail for
// external-service failures.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry semantics.
type Kind int

const (
	KindValidation Kind = iota // malformed or missing input
	KindAuth                   // missing/invalid/expired credentials
	KindForbidden              // authenticated but not allowed
	KindNotFound
	KindConflict      // duplicate unique key
	KindUnprocessable // business rule violation (license unavailable, grant spent)
	KindExternal      // payment gateway or storage failure
	KindInternal
)

// Error is the service error type.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message safe to expose to callers. External failures are
// reported generically; details stay in logs.
func (e *Error) Public() string {
	if e.Kind == KindExternal {
		return "upstream service unavailable"
	}
	if e.Kind == KindInternal {
		return "internal error"
	}
	return e.Message
}

func newError(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Message: msg, err: wrapped}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func Unauthorized(msg string) *Error  { return newError(KindAuth, msg, nil) }
func Forbidden(msg string) *Error     { return newError(KindForbidden, msg, nil) }
func NotFound(msg string) *Error      { return newError(KindNotFound, msg, nil) }
func Conflict(msg string) *Error      { return newError(KindConflict, msg, nil) }
func Unprocessable(msg string) *Error { return newError(KindUnprocessable, msg, nil) }

// External wraps an upstream failure. The wrapped error is logged, never
// returned to clients.
func External(msg string, err error) *Error { return newError(KindExternal, msg, err) }

// Internal wraps an unexpected failure.
func Internal(err error) *Error { return newError(KindInternal, "internal error", err) }

// Well-known sentinel errors used by services.
var (
	ErrDuplicateEmail     = Conflict("email already registered")
	ErrInvalidCredentials = Unauthorized("invalid email or password")
	ErrInvalidToken       = Unauthorized("invalid or expired token")
	ErrInvalidSignature   = Unauthorized("invalid webhook signature")
	ErrLicenseUnavailable = Unprocessable("license not available for this beat")
	ErrGrantExpired       = Unprocessable("download grant expired")
	ErrGrantExhausted     = Unprocessable("download limit reached")
)

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// From coerces err into an *Error, wrapping foreign errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
