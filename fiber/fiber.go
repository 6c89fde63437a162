// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiber

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cooploop/internal/goroutineid"
)

// State is the lifecycle state of a fiber.
//
//	StateCreated → StateRunning       [Start()]
//	StateRunning → StateSuspended     [Suspend()]
//	StateSuspended → StateRunning     [Resume(), Throw()]
//	StateRunning → StateTerminated    [body returns, panics or exits]
//	StateCreated → StateTerminated    [Discard()]
//	StateSuspended → StateTerminated  [Discard()]
type State uint32

const (
	// StateCreated indicates the fiber has not been started.
	StateCreated State = iota
	// StateRunning indicates the body is executing.
	StateRunning
	// StateSuspended indicates the body is blocked in Suspend.
	StateSuspended
	// StateTerminated indicates the body has returned.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Func is the body of a fiber. It receives the fiber, for Suspend. Its
// results are returned by the Start, Resume or Throw call during which it
// returns, and afterward by Return.
type Func func(f *Fiber) (any, error)

// message is one handoff between the driver and the fiber goroutine.
type message struct {
	value   any
	err     error
	done    bool
	discard bool
}

// Fiber is a stackful coroutine. See the package documentation.
type Fiber struct {
	fn     Func
	resume chan message // driver → fiber
	yield  chan message // fiber → driver
	result    message
	gid       atomic.Uint64
	state     atomic.Uint32
	discarded atomic.Bool
}

// fibers maps goroutine ids to the fiber running on them, for Current.
var fibers sync.Map

// New creates a fiber, in StateCreated. The body does not run until Start.
func New(fn Func) *Fiber {
	if fn == nil {
		panic("fiber: nil func")
	}
	return &Fiber{
		fn:     fn,
		resume: make(chan message),
		yield:  make(chan message),
	}
}

// Current returns the fiber whose body is executing on the calling
// goroutine, or nil if there is none.
func Current() *Fiber {
	if v, ok := fibers.Load(goroutineid.Get()); ok {
		return v.(*Fiber)
	}
	return nil
}

// Suspend suspends the current fiber. It is the equivalent of
// Current().Suspend(v), returning ErrNotInFiber if there is no current fiber.
func Suspend(v any) (any, error) {
	f := Current()
	if f == nil {
		return nil, ErrNotInFiber
	}
	return f.Suspend(v)
}

// State returns the current state. Safe for concurrent use.
func (f *Fiber) State() State {
	return State(f.state.Load())
}

// IsStarted reports whether Start has been called.
func (f *Fiber) IsStarted() bool { return f.State() != StateCreated }

// IsRunning reports whether the body is executing (and not suspended).
func (f *Fiber) IsRunning() bool { return f.State() == StateRunning }

// IsSuspended reports whether the body is blocked in Suspend.
func (f *Fiber) IsSuspended() bool { return f.State() == StateSuspended }

// IsTerminated reports whether the body has returned.
func (f *Fiber) IsTerminated() bool { return f.State() == StateTerminated }

// Start runs the body until it first suspends, returning the value passed
// to Suspend, or until it returns, returning its results. A panicking body
// results in a *PanicError, and one that calls runtime.Goexit (as
// testing.T.FailNow does) results in ErrFiberExited.
func (f *Fiber) Start() (any, error) {
	if !f.state.CompareAndSwap(uint32(StateCreated), uint32(StateRunning)) {
		return nil, ErrFiberStarted
	}
	go f.run()
	return f.await()
}

// Resume continues a suspended fiber, making its pending Suspend return v.
// It returns like Start.
func (f *Fiber) Resume(v any) (any, error) {
	if err := f.toRunning(); err != nil {
		return nil, err
	}
	f.resume <- message{value: v}
	return f.await()
}

// Throw continues a suspended fiber, making its pending Suspend return err.
// It returns like Start.
func (f *Fiber) Throw(err error) (any, error) {
	if err := f.toRunning(); err != nil {
		return nil, err
	}
	f.resume <- message{err: err}
	return f.await()
}

// Suspend blocks the body, handing v to the driver (as the result of its
// Start, Resume or Throw call) until the fiber is resumed. It must be called
// by the fiber's own body, not by a fiber nested within it.
//
// If the fiber is discarded while suspended, Suspend does not return: the
// body unwinds as if by runtime.Goexit. Deferred calls made during that
// unwinding cannot suspend again, and get ErrFiberDiscarded.
func (f *Fiber) Suspend(v any) (any, error) {
	if f.gid.Load() != goroutineid.Get() {
		return nil, ErrNotInFiber
	}
	if f.discarded.Load() {
		return nil, ErrFiberDiscarded
	}
	f.yield <- message{value: v}
	msg := <-f.resume
	if msg.discard {
		f.discarded.Store(true)
		runtime.Goexit()
	}
	return msg.value, msg.err
}

// Discard releases a fiber that will never be resumed. A suspended fiber
// holds its goroutine until it terminates, so a driver that abandons one
// must discard it.
//
// A suspended body is unwound, running its deferred calls, and the fiber
// terminates with ErrFiberDiscarded. A fiber that was never started
// terminates without running. Discarding a terminated fiber does nothing.
// Discard returns ErrFiberRunning for a running fiber, and the body's
// *PanicError if it panics while unwinding.
func (f *Fiber) Discard() error {
	if f.state.CompareAndSwap(uint32(StateCreated), uint32(StateTerminated)) {
		f.result = message{done: true, err: ErrFiberDiscarded}
		return nil
	}
	if err := f.toRunning(); err != nil {
		if errors.Is(err, ErrFiberTerminated) {
			return nil
		}
		return err
	}
	f.resume <- message{discard: true}
	if _, err := f.await(); !errors.Is(err, ErrFiberDiscarded) {
		return err
	}
	return nil
}

// Return returns the results of the body, once it has terminated.
func (f *Fiber) Return() (any, error) {
	if f.State() != StateTerminated {
		return nil, ErrFiberNotTerminated
	}
	return f.result.value, f.result.err
}

func (f *Fiber) toRunning() error {
	if f.state.CompareAndSwap(uint32(StateSuspended), uint32(StateRunning)) {
		return nil
	}
	switch f.State() {
	case StateRunning:
		return ErrFiberRunning
	case StateTerminated:
		return ErrFiberTerminated
	default:
		return ErrFiberNotSuspended
	}
}

// await blocks the driver until the body suspends or returns.
func (f *Fiber) await() (any, error) {
	msg := <-f.yield
	if msg.done {
		f.result = msg
		f.state.Store(uint32(StateTerminated))
		return msg.value, msg.err
	}
	f.state.Store(uint32(StateSuspended))
	return msg.value, nil
}

func (f *Fiber) run() {
	gid := goroutineid.Get()
	f.gid.Store(gid)
	fibers.Store(gid, f)

	// overwritten unless the body exits via runtime.Goexit
	msg := message{done: true, err: ErrFiberExited}
	defer func() {
		if r := recover(); r != nil {
			msg = message{done: true, err: &PanicError{Value: r, Stack: debug.Stack()}}
		} else if f.discarded.Load() {
			msg = message{done: true, err: ErrFiberDiscarded}
		}
		fibers.Delete(gid)
		f.yield <- msg
	}()
	msg.value, msg.err = f.fn(f)
}
