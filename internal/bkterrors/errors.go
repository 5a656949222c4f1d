// Package bkterrors defines the typed error taxonomy surfaced by the cache
// and orchestrator packages.
package bkterrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an Error so callers can branch on failure category without
// string-matching messages.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindCorruptCache    Kind = "corrupt_cache"
	KindIOFailure       Kind = "io_failure"
	KindStaleLock       Kind = "stale_lock"
	KindSpawnFailure    Kind = "spawn_failure"
	KindProgrammerError Kind = "programmer_error"
)

// Error is the error type returned by the cache and orchestrator code;
// pkg/config and pkg/util return plain errors.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Stack   []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error represents a condition the core does not
// attempt to recover from. Only ProgrammerError is fatal.
func (e *Error) Fatal() bool {
	return e.Kind == KindProgrammerError
}

// WithStack captures the current call stack into the error, skipping runtime
// frames.
func (e *Error) WithStack() *Error {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	e.Stack = stack
	return e
}

// New creates a new Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrap re-tags an existing error with a kind and message, preserving the
// chain. If err is already an *Error, its cause is preserved and only the
// message/kind are updated.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: kind, Message: message, Cause: existing.Cause, Stack: existing.Stack}
	}

	return New(kind, message, err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// RootCause walks the Unwrap chain to its end.
func RootCause(err error) error {
	for err != nil {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return err
}

// NotFound marks a cache miss. Internal only: callers should treat a
// NotFound return as "no result," never surface its message to a user.
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// CorruptCache marks a malformed on-disk layout: a non-symlink key file, a
// non-numeric TTL directory, or a deserialization failure.
func CorruptCache(message string, cause error) *Error {
	return New(KindCorruptCache, message, cause).WithStack()
}

// IOFailure marks any other filesystem error.
func IOFailure(message string, cause error) *Error {
	return New(KindIOFailure, message, cause).WithStack()
}

// StaleLock marks a cleanup lock file older than its stale threshold.
func StaleLock(message string) *Error {
	return New(KindStaleLock, message, nil).WithStack()
}

// SpawnFailure marks a subprocess that could not be launched.
func SpawnFailure(executable string, cause error) *Error {
	return New(KindSpawnFailure, fmt.Sprintf("failed to spawn %q", executable), cause).WithStack()
}

// ProgrammerError marks a condition the caller should not have triggered:
// zero TTL, a multi-element scope, a UTF-8 assertion on non-UTF-8 bytes.
func ProgrammerError(message string) *Error {
	return New(KindProgrammerError, message, nil).WithStack()
}
