// Package daqbuffer is the module root: it holds the handful of types
// shared across every package in the retrieval pipeline (the error domain
// type and a serializable duration), so that no other package needs to
// import a sibling just to construct an error.
package daqbuffer

import (
	"errors"
	"strings"
)

// Error is the daqbuffer error domain type.
//
// Errors coming from pipeline components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (parsing a
// frame, opening a file, querying the catalog) and intermediate stages
// should not wrap in another Error except to add additional [ErrorKind]
// information. Prefer [fmt.Errorf] with a "%w" verb over creating a
// containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// knownKind reports whether kind is one of the declared taxonomy values;
// an Error carrying anything else (a zero value, or one constructed
// outside this package) prints as "???" rather than an empty bracket.
func knownKind(kind ErrorKind) bool {
	switch kind {
	case ErrMalformed, ErrMissing, ErrTransient, ErrPartial, ErrTimeout, ErrInternal:
		return true
	default:
		return false
	}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Op == "" && e.Message == "" && e.Inner == nil {
		return ""
	}
	kindStr := "???"
	if knownKind(e.Kind) {
		kindStr = string(e.Kind)
	}
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, "["+kindStr+"]:")
	body := e.Message
	if e.Inner != nil {
		if body != "" {
			body += ": " + e.Inner.Error()
		} else {
			body = e.Inner.Error()
		}
	}
	msg := strings.Join(parts, " ")
	if body != "" {
		msg += " " + body
	}
	return msg
}

// Is enables [errors.Is] to compare against an [ErrorKind]. ErrRetryable is
// a synthetic kind usable only on the right-hand side of errors.Is: it
// matches any Error whose Kind suggests the same query might succeed on
// resubmission (a transient I/O hiccup, or a deadline that a longer
// timeoutMs might clear), the classification a caller's retry policy
// actually needs rather than the raw Kind value.
func (e *Error) Is(kind error) bool {
	if kind == ErrRetryable {
		return errors.Is(e.Kind, ErrTransient) || errors.Is(e.Kind, ErrTimeout)
	}
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents the error taxonomy of §7: malformed input, missing
// resource, transient I/O, partial cluster failure, timeout, and internal
// invariant violations.
//
// If a component is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	// ErrMalformed covers bad frame magic/CRC, bad file headers,
	// unparseable URLs, and out-of-range query parameters.
	ErrMalformed = ErrorKind("malformed")
	// ErrMissing covers unknown channels, no datafiles intersecting a
	// range, and patches unowned by the serving node.
	ErrMissing = ErrorKind("missing")
	// ErrTransient covers short socket reads and EAGAIN on file opens.
	// Nothing in this module retries an operation that fails with it;
	// [ErrRetryable] classifies it together with ErrTimeout.
	ErrTransient = ErrorKind("transient")
	// ErrPartial marks a response assembled from a subset of peers after
	// one or more fan-out targets failed.
	ErrPartial = ErrorKind("partial")
	// ErrTimeout marks a response cut short by the query deadline.
	ErrTimeout = ErrorKind("timeout")
	// ErrInternal is an unexpected invariant violation: a monotonicity
	// break, a type mismatch, or anything else that should not happen.
	ErrInternal = ErrorKind("internal")

	// ErrRetryable is never set as an Error's Kind; it exists only as the
	// right-hand side of an [errors.Is] check (see [Error.Is]).
	ErrRetryable = ErrorKind("retryable")
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
