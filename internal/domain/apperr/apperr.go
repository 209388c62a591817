// Package apperr defines the error taxonomy shared by all domain services.
//
// Every error surfaced by a domain operation is classified into a Kind. Errors
// that carry no kind (store faults, programming errors) are Unexpected.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind classifies a domain error for callers and transports.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindInsufficientStock
	KindMethodFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindMethodFailure:
		return "method_failure"
	default:
		return "unexpected"
	}
}

// Error is a classified domain error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Kinded is implemented by typed domain errors that know their Kind.
type Kinded interface {
	ErrorKind() Kind
}

// New returns a classified error. Domain packages declare their sentinels
// with it.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation returns a KindValidation error.
func Validation(msg string) *Error { return New(KindValidation, msg) }

// NotFound returns a KindNotFound error.
func NotFound(msg string) *Error { return New(KindNotFound, msg) }

// Forbidden returns a KindForbidden error.
func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

// Conflict returns a KindConflict error.
func Conflict(msg string) *Error { return New(KindConflict, msg) }

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnexpected
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnexpected
}

// Message returns the message of the first classified error in err's chain,
// or a generic message for unexpected errors so internals are not leaked.
func Message(err error) string {
	var k Kinded
	if errors.As(err, &k) && k.ErrorKind() != KindUnexpected {
		if e, ok := k.(error); ok {
			return e.Error()
		}
	}
	return "internal error"
}

// ErrForbidden is returned when the principal may not act on a resource.
var ErrForbidden = Forbidden("not authorized to access this resource")
