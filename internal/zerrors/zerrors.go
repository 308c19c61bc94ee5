// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package zerrors implements the error kind taxonomy used across the write
// path: every fallible operation returns a *zerrors.Error tagged with one of
// a fixed set of Kind values, wrapping the underlying cause.
package zerrors

import (
	"errors"
	"fmt"
)

// Kind classifies the failure mode of an operation. It is a taxonomy, not a
// type hierarchy: callers compare kinds with Is, not type assertions.
type Kind int

const (
	// KindInvalidArgument marks a bad argument to a public API call.
	KindInvalidArgument Kind = iota
	// KindInvalidIndex marks an out-of-range chunk/shard/dimension index.
	KindInvalidIndex
	// KindOverflow marks an arithmetic overflow in geometry or offset math.
	KindOverflow
	// KindNotYetImplemented marks a recognized but unsupported combination
	// of settings (e.g. multiscale with non-unit interior dimensions).
	KindNotYetImplemented
	// KindInternalError marks a broken invariant: a bug, not a bad input.
	KindInternalError
	// KindOutOfMemory marks an allocation failure for a chunk/shard buffer.
	KindOutOfMemory
	// KindIoError marks a sink write/close failure.
	KindIoError
	// KindCompressionError marks a codec failure.
	KindCompressionError
	// KindInvalidSettings marks a rejected Settings value.
	KindInvalidSettings
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidIndex:
		return "invalid_index"
	case KindOverflow:
		return "overflow"
	case KindNotYetImplemented:
		return "not_yet_implemented"
	case KindInternalError:
		return "internal_error"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindIoError:
		return "io_error"
	case KindCompressionError:
		return "compression_error"
	case KindInvalidSettings:
		return "invalid_settings"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the write path.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, zerrors.IoError) via the kind sentinels below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error wrapping cause; returns nil if cause is nil.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel returns a zero-value *Error of the given kind, usable as the
// target of errors.Is(err, zerrors.IoError) without allocating per call.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// Kind sentinels for errors.Is comparisons, mirroring the teacher's
// protocol.ErrInvalidMagic-style package-level sentinel errors.
var (
	InvalidArgument   = sentinel(KindInvalidArgument)
	InvalidIndex      = sentinel(KindInvalidIndex)
	Overflow          = sentinel(KindOverflow)
	NotYetImplemented = sentinel(KindNotYetImplemented)
	InternalError     = sentinel(KindInternalError)
	OutOfMemory       = sentinel(KindOutOfMemory)
	IoError           = sentinel(KindIoError)
	CompressionError  = sentinel(KindCompressionError)
	InvalidSettings   = sentinel(KindInvalidSettings)
)

// KindOf extracts the Kind of err, if it (or something it wraps) is a
// *Error; ok is false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
