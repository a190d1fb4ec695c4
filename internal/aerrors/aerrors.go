// Package aerrors defines the typed error taxonomy shared by every core
// component. Storage and transport layers produce precise kinds; callers
// higher up the stack should not translate a Kind into a different Kind —
// they may wrap with more context but must preserve it so it survives an
// errors.As/errors.Is check.
package aerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the stable error categories from the error handling design.
type Kind int

const (
	NotFound Kind = iota
	VersionConflict
	Unauthorized
	Overloaded
	Timeout
	QuorumUnavailable
	CorruptedRecord
	Partitioned
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case VersionConflict:
		return "VersionConflict"
	case Unauthorized:
		return "Unauthorized"
	case Overloaded:
		return "Overloaded"
	case Timeout:
		return "Timeout"
	case QuorumUnavailable:
		return "QuorumUnavailable"
	case CorruptedRecord:
		return "CorruptedRecord"
	case Partitioned:
		return "Partitioned"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every public operation returns on
// failure. It carries a stable code, a human message, and an optional
// retry hint, per the error handling design.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write `errors.Is(err, aerrors.New(aerrors.NotFound, ""))` or more
// idiomatically `aerrors.Is(err, aerrors.NotFound)`.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that preserves cause for
// errors.Unwrap chains, without changing the surfaced Kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRetry attaches a retry-after hint to an existing Error (copy).
func (e *Error) WithRetry(d time.Duration) *Error {
	c := *e
	c.RetryAfter = d
	return &c
}

// Is reports whether the first *Error in err's chain has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func NotFoundf(format string, a ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, a...))
}

func VersionConflictf(format string, a ...any) *Error {
	return New(VersionConflict, fmt.Sprintf(format, a...))
}

func Unauthorizedf(format string, a ...any) *Error {
	return New(Unauthorized, fmt.Sprintf(format, a...))
}

func Overloadedf(format string, a ...any) *Error {
	return New(Overloaded, fmt.Sprintf(format, a...))
}

func Timeoutf(format string, a ...any) *Error {
	return New(Timeout, fmt.Sprintf(format, a...))
}

func QuorumUnavailablef(format string, a ...any) *Error {
	return New(QuorumUnavailable, fmt.Sprintf(format, a...))
}

func CorruptedRecordf(format string, a ...any) *Error {
	return New(CorruptedRecord, fmt.Sprintf(format, a...))
}

func Partitionedf(format string, a ...any) *Error {
	return New(Partitioned, fmt.Sprintf(format, a...))
}

func Cancelledf(format string, a ...any) *Error {
	return New(Cancelled, fmt.Sprintf(format, a...))
}

func Internalf(format string, a ...any) *Error {
	return New(Internal, fmt.Sprintf(format, a...))
}
