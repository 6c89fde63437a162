// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is
	// already running on another goroutine, or when Close() is called on a
	// running loop.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a closed loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrInvalidCallback is returned when an operation references a callback
	// id that was never issued, has already fired (single-shot kinds), or has
	// been canceled.
	ErrInvalidCallback = errors.New("eventloop: invalid callback id")

	// ErrUnsupportedPlatform is returned by New on platforms without a
	// readiness poller implementation.
	ErrUnsupportedPlatform = errors.New("eventloop: unsupported platform")

	// errPollerClosed guards poller use after Close. The reactor never
	// touches a closed poller, so it does not escape the package.
	errPollerClosed = errors.New("eventloop: poller closed")
)

// CallbackError wraps a failure raised by a loop callback. It is what Run
// returns when a callback fails and no error handler absorbs the failure.
type CallbackError struct {
	Cause error
	ID    CallbackID
	Kind  Kind
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("eventloop: %s callback %d failed: %v", e.Kind, e.ID, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *CallbackError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking callback or microtask.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("eventloop: panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
//
// If the panic Value is not an error (e.g., a string or other type),
// returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TypeError represents an argument of the wrong shape, such as a nil
// callback or handle.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// RangeError represents a value outside of the accepted range, such as a
// negative timer duration.
type RangeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	if e.Message == "" {
		return "range error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RangeError) Unwrap() error {
	return e.Cause
}
