// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiber

import (
	"errors"

	"github.com/joeycumines/go-cooploop/eventloop"
)

// Standard errors.
var (
	// ErrFiberStarted is returned by Start on a fiber that was already started.
	ErrFiberStarted = errors.New("fiber: fiber already started")

	// ErrFiberNotSuspended is returned by Resume or Throw on a fiber that has
	// not been started.
	ErrFiberNotSuspended = errors.New("fiber: fiber is not suspended")

	// ErrFiberRunning is returned by Resume or Throw on a running fiber,
	// e.g. one attempting to resume itself.
	ErrFiberRunning = errors.New("fiber: fiber is running")

	// ErrFiberTerminated is returned by Resume or Throw on a fiber whose body
	// has returned.
	ErrFiberTerminated = errors.New("fiber: fiber has terminated")

	// ErrFiberNotTerminated is returned by Return before the body returned.
	ErrFiberNotTerminated = errors.New("fiber: fiber has not terminated")

	// ErrFiberExited is the result of a fiber whose body called
	// runtime.Goexit instead of returning.
	ErrFiberExited = errors.New("fiber: fiber body exited without returning")

	// ErrFiberDiscarded is the result of a fiber terminated by Discard, and
	// is returned by Suspend during the unwinding.
	ErrFiberDiscarded = errors.New("fiber: fiber was discarded")

	// ErrNotInFiber is returned when suspending from outside the body of the
	// fiber being suspended.
	ErrNotInFiber = errors.New("fiber: not called from within the fiber")

	// ErrSuspensionPending is returned by Suspension.Suspend when it is
	// already suspended.
	ErrSuspensionPending = errors.New("fiber: suspension already pending")

	// ErrSuspensionNotPending is returned by Suspension.Resume or
	// Suspension.Throw when there is nothing suspended to resume, including
	// when it was already resumed.
	ErrSuspensionNotPending = errors.New("fiber: suspension not pending")

	// ErrSuspensionFiberMismatch is returned by Suspension.Suspend when
	// called from a fiber other than the one that created the suspension.
	ErrSuspensionFiberMismatch = errors.New("fiber: suspension belongs to another fiber")

	// ErrSuspensionDeadlock is returned by Suspension.Suspend, outside of any
	// fiber, when the loop ran out of work before the suspension was resumed.
	ErrSuspensionDeadlock = errors.New("fiber: event loop terminated without resuming the suspension")
)

// PanicError wraps a value recovered from a panicking fiber body. It is the
// same type the event loop uses for panicking callbacks.
type PanicError = eventloop.PanicError
