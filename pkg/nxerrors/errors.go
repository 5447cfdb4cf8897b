// Package nxerrors defines the typed error taxonomy shared across every
// Nexus subsystem (§7). Each error carries a Kind so callers can branch on
// failure class with errors.Is, plus an optional offset/identifier and
// wrapped cause for diagnostics.
package nxerrors

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error classes.
type Kind string

const (
	NotFound           Kind = "not_found"
	InvalidInput       Kind = "invalid_input"
	IOError            Kind = "io_error"
	Checksum           Kind = "checksum"
	WalCorrupt         Kind = "wal_corrupt"
	ProtocolError      Kind = "protocol_error"
	AllPinned          Kind = "all_pinned"
	DeadlockDetected   Kind = "deadlock_detected"
	LockTimeout        Kind = "lock_timeout"
	ReplicationTimeout Kind = "replication_timeout"
	SnapshotInProgress Kind = "snapshot_in_progress"
)

// Error is the concrete error type returned by Nexus components.
type Error struct {
	Kind    Kind
	Message string
	Offset  int64 // meaningful for WAL/replication errors; 0 otherwise
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, nxerrors.New(Kind, "")) style kind comparisons
// when the caller constructs a bare sentinel for the Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that carries cause for diagnostics while exposing a
// stable Kind to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithOffset attaches a byte offset (WAL frame, replication log position) to
// the error and returns it for chaining.
func (e *Error) WithOffset(offset int64) *Error {
	e.Offset = offset
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and reports
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
