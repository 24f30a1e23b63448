// Package syncerr defines the engine's error taxonomy. Every expected
// failure mode (auth, transient transport, remote rejection, local
// configuration, serialization) is represented as an *Error carrying a Kind,
// so call sites classify outcomes with errors.As instead of string matching.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an expected failure.
type Kind int

const (
	// KindAuth: credentials expired or invalid and not recoverable after one
	// refresh attempt. Aborts the sync pass for the affected tenant.
	KindAuth Kind = iota + 1

	// KindTransient: network I/O failure; retried once, then terminal for the
	// current resource group.
	KindTransient

	// KindRemoteRejected: non-2xx, non-401 response. Not retried.
	KindRemoteRejected

	// KindConfig: unknown resource name, missing mapper or descriptor.
	// Not retried; a local defect.
	KindConfig

	// KindSerialization: malformed payload in either direction.
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindConfig:
		return "config"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is the failure half of every transport and dispatcher result.
// Detail carries the remote diagnostic body where one exists; it must never
// contain local record payloads.
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns an Error of the given kind wrapping a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithDetail attaches a remote diagnostic body and returns the same error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from err, or 0 if err is not a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsTransient reports whether err is a transient transport failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
