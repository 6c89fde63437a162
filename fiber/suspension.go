// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiber

import (
	"context"

	"github.com/joeycumines/go-cooploop/eventloop"
)

// Suspension parks the fiber that created it (or, if created outside of any
// fiber, the caller) until resumed by some loop callback.
//
// Within a fiber, Suspend suspends the fiber, and Resume or Throw schedule
// its continuation as a Defer callback on the loop: the fiber then runs on
// behalf of that callback, and anything it returns becomes the callback's
// result. Outside of a fiber, Suspend runs the loop until resumed.
//
// A suspension may be suspended and resumed repeatedly, but every Suspend
// must be matched by exactly one Resume or Throw.
//
// Like the loop, a Suspension must only be used from the loop goroutine, or
// from a fiber running on its behalf.
type Suspension struct {
	loop    *eventloop.Loop
	fiber   *Fiber
	value   any
	err     error
	pending bool
	resumed bool
}

// NewSuspension creates a suspension for the current fiber (see Current),
// bound to l.
func NewSuspension(l *eventloop.Loop) *Suspension {
	return &Suspension{
		loop:  l,
		fiber: Current(),
	}
}

// Fiber returns the fiber the suspension belongs to, nil if it was created
// outside of any fiber.
func (s *Suspension) Fiber() *Fiber {
	return s.fiber
}

// Pending reports whether Suspend was called and has not yet been matched
// by Resume or Throw.
func (s *Suspension) Pending() bool {
	return s.pending && !s.resumed
}

// Suspend blocks until Resume or Throw, returning the value or error they
// were given. See SuspendContext.
func (s *Suspension) Suspend() (any, error) {
	return s.SuspendContext(context.Background())
}

// SuspendContext blocks until Resume or Throw, returning the value or error
// they were given.
//
// Outside of a fiber, it runs the loop with ctx until resumed. If the loop
// runs out of work first, it returns ErrSuspensionDeadlock. If Run fails,
// including after the resumption, it returns that error. Within a fiber, ctx
// is ignored: the fiber stays suspended until resumed.
func (s *Suspension) SuspendContext(ctx context.Context) (any, error) {
	if s.pending {
		return nil, ErrSuspensionPending
	}
	if Current() != s.fiber {
		return nil, ErrSuspensionFiberMismatch
	}

	s.pending = true
	s.resumed = false
	s.value, s.err = nil, nil

	if s.fiber != nil {
		// deferred, as a discarded fiber never returns from Suspend
		defer func() { s.pending = false }()
		return s.fiber.Suspend(nil)
	}

	err := s.loop.Run(ctx)
	s.pending = false
	value, resumeErr := s.value, s.err
	s.value, s.err = nil, nil
	switch {
	case err != nil:
		return nil, err
	case s.resumed:
		return value, resumeErr
	default:
		return nil, ErrSuspensionDeadlock
	}
}

// Resume makes the pending Suspend return v.
func (s *Suspension) Resume(v any) error {
	return s.complete(v, nil)
}

// Throw makes the pending Suspend return err.
func (s *Suspension) Throw(err error) error {
	return s.complete(nil, err)
}

func (s *Suspension) complete(value any, err error) error {
	if !s.pending || s.resumed {
		return ErrSuspensionNotPending
	}
	s.resumed = true

	if s.fiber == nil {
		s.value, s.err = value, err
		s.loop.Stop()
		return nil
	}

	f := s.fiber
	_, e := s.loop.Defer(func(eventloop.CallbackID) error {
		var err2 error
		if err != nil {
			_, err2 = f.Throw(err)
		} else {
			_, err2 = f.Resume(value)
		}
		return err2
	})
	if e != nil {
		s.resumed = false
	}
	return e
}
