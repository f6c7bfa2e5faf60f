// Package arberr defines the closed error-kind taxonomy shared by every
// Arbiter component, per the error handling design: each error carries a
// stable kind, a short code and an optional cause chain.
package arberr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds. New kinds are never added ad
// hoc by a component; the taxonomy lives here.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindTimeout      Kind = "timeout"
	KindExhausted    Kind = "exhausted"
	KindInternal     Kind = "internal"
)

// Error is the concrete error type returned by every Arbiter component.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// RetryAfterMs is set only for KindRateLimited.
	RetryAfterMs int64
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, arberr.KindNotFound) style checks work by comparing
// kinds rather than identity, via the package-level Is helper below; Error
// itself only implements standard unwrapping.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func RateLimited(code, message string, retryAfterMs int64) *Error {
	return &Error{Kind: KindRateLimited, Code: code, Message: message, RetryAfterMs: retryAfterMs}
}

// KindOf extracts the Kind of err, walking the cause chain. Returns
// KindInternal if err does not carry an Arbiter kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or any error it wraps) has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error of this kind is safe to retry when the
// originating call was idempotent: only Unavailable and Timeout are
// retried, everything else is returned as-is.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether this kind must never be retried regardless of
// idempotency (validation/authz/not-found/conflict).
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindUnauthorized, KindForbidden, KindNotFound, KindConflict:
		return true
	default:
		return false
	}
}
