// Package agencyerr classifies failures so callers can decide between
// retrying, surfacing, and failing a cycle. Collectors classify their own
// errors and record them in sync_state; only normalization and later
// phases fail cycles.
package agencyerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class buckets an error by how the loop should react to it.
type Class string

const (
	// ClassTransient covers network timeouts and upstream 5xx responses.
	// The collector retries on its next interval; nothing else reacts.
	ClassTransient Class = "transient"
	// ClassAuth covers 401/403 from a source. Recorded in sync_state so
	// the operator sees it; the collector keeps polling.
	ClassAuth Class = "auth"
	// ClassParse covers malformed upstream payloads. The offending item
	// is skipped and counted; the batch continues.
	ClassParse Class = "parse"
	// ClassInvariant covers structural breaches detected mid-derivation.
	// The phase fails and the cycle is marked failed.
	ClassInvariant Class = "invariant_violation"
	// ClassDerivation wraps normalizer step failures.
	ClassDerivation Class = "derivation"
	// ClassSnapshotWrite covers any failure in the atomic write sequence.
	ClassSnapshotWrite Class = "snapshot_write"
	// ClassUnknown is everything unclassified.
	ClassUnknown Class = "unknown"
)

// Error carries a classification alongside the underlying cause.
type Error struct {
	Class Class
	Op    string // short operation name, e.g. "xero.fetch_invoices"
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class and operation name.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(class Class, op, format string, args ...any) *Error {
	return &Error{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as retriable.
func Transient(op string, err error) *Error { return New(ClassTransient, op, err) }

// Auth wraps err as an authentication/authorization failure.
func Auth(op string, err error) *Error { return New(ClassAuth, op, err) }

// Parse wraps err as a malformed-payload failure.
func Parse(op string, err error) *Error { return New(ClassParse, op, err) }

// Invariant wraps err as a structural breach.
func Invariant(op string, err error) *Error { return New(ClassInvariant, op, err) }

// Derivation wraps err as a normalizer failure.
func Derivation(op string, err error) *Error { return New(ClassDerivation, op, err) }

// SnapshotWrite wraps err as an atomic-write failure.
func SnapshotWrite(op string, err error) *Error { return New(ClassSnapshotWrite, op, err) }

// Classify walks the error chain and returns its class. Plain context
// and net timeout errors classify as transient; anything else unwrapped
// is unknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}
	return ClassUnknown
}

// Is reports whether err carries the given class anywhere in its chain.
func Is(err error, class Class) bool { return Classify(err) == class }

// FromStatus classifies an upstream HTTP status code. 2xx returns
// ClassUnknown since a success is not an error.
func FromStatus(status int) Class {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status >= 500 || status == 408 || status == 429:
		return ClassTransient
	case status >= 400:
		return ClassParse
	default:
		return ClassUnknown
	}
}
