// Package apperr defines the error taxonomy shared by the domain packages.
//
// Every failure a caller can act on resolves to an *Error carrying a Kind
// (how the boundary should surface it) and a stable machine-readable Code.
// Domain packages expose sentinels built with New, or typed errors that
// implement Coder, so that transport layers never inspect messages.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind classifies an error for the boundary.
type Kind uint8

const (
	// KindInternal is an unexpected failure (storage outage, bug).
	KindInternal Kind = iota
	// KindNotFound means a referenced order, discount or product is missing.
	KindNotFound
	// KindValidation means the request violates a business rule.
	KindValidation
	// KindAuthentication means a signature or credential was missing or wrong.
	KindAuthentication
	// KindConfiguration means the service is misconfigured and fails closed.
	KindConfiguration
	// KindExternal means a remote dependency (payment gateway) failed.
	KindExternal
	// KindConflict means an optimistic concurrency check was lost.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConfiguration:
		return "configuration"
	case KindExternal:
		return "external"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// New returns a classified error. Sentinels are compared by identity.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Coder is implemented by typed errors that carry extra fields but still
// resolve to a classified error.
type Coder interface {
	AppError() *Error
}

// From walks the chain of err and returns the first classified error.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var c Coder
	if errors.As(err, &c) {
		return c.AppError(), true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsConflict reports whether err is an optimistic concurrency failure.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
