// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"os"
	"slices"
	"time"
)

// CallbackID identifies a callback registered with a [Loop]. Ids are issued
// from a monotonically increasing counter, starting at 1, and are never
// reused by the same loop.
type CallbackID uint64

// Kind is the type of a registered callback.
type Kind uint8

const (
	// KindDefer runs once, on the next tick's defer batch.
	KindDefer Kind = iota
	// KindDelay runs once, after a duration has elapsed.
	KindDelay
	// KindRepeat runs after every elapsed interval, until canceled.
	KindRepeat
	// KindReadable runs while a handle is readable, until canceled.
	KindReadable
	// KindWritable runs while a handle is writable, until canceled.
	KindWritable
	// KindSignal runs for each delivery of an OS signal, until canceled.
	KindSignal

	kindCount
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindDefer:
		return "defer"
	case KindDelay:
		return "delay"
	case KindRepeat:
		return "repeat"
	case KindReadable:
		return "readable"
	case KindWritable:
		return "writable"
	case KindSignal:
		return "signal"
	default:
		return "unknown"
	}
}

type (
	// Callback is the body of a Defer, Delay or Repeat registration. It
	// receives its own id, so it may cancel itself.
	Callback func(id CallbackID) error

	// IOCallback is the body of a readable or writable watcher.
	IOCallback func(id CallbackID, h Handle) error

	// SignalCallback is the body of a signal watcher.
	SignalCallback func(id CallbackID, sig os.Signal) error
)

// callback is the registry record of one scheduled unit of work.
type callback struct {
	fn    Callback
	ioFn  IOCallback
	sigFn SignalCallback

	// KindDelay, KindRepeat
	pending  *timerEntry
	interval time.Duration

	// KindReadable, KindWritable
	handle Handle

	// KindSignal
	signal os.Signal

	id   CallbackID
	fd   int
	kind Kind

	enabled    bool
	referenced bool
	canceled   bool

	// KindDefer: present in the defer queue
	queued bool
}

func (c *callback) direction() IOEvents {
	switch c.kind {
	case KindReadable:
		return EventRead
	case KindWritable:
		return EventWrite
	default:
		return 0
	}
}

// Info summarizes the registry, by kind and by enabled state.
type Info struct {
	Enabled      [kindCount]int
	Disabled     [kindCount]int
	Referenced   int
	Unreferenced int
}

// EnabledCount returns the number of enabled callbacks of the given kind.
func (x Info) EnabledCount(kind Kind) int {
	if kind >= kindCount {
		return 0
	}
	return x.Enabled[kind]
}

// DisabledCount returns the number of disabled callbacks of the given kind.
func (x Info) DisabledCount(kind Kind) int {
	if kind >= kindCount {
		return 0
	}
	return x.Disabled[kind]
}

// registry owns every live callback of a loop. It tracks state only; the
// scheduling side effects (timer queue, defer queue, reactor interest) are
// applied by the loop when state changes.
//
// Not safe for concurrent use: it is only touched from the loop goroutine,
// or while the loop is not running.
type registry struct {
	callbacks map[CallbackID]*callback
	info      Info

	// active counts enabled, referenced callbacks, i.e. the work that keeps
	// Run from returning.
	active int

	nextID CallbackID
}

func newRegistry() *registry {
	return &registry{
		callbacks: make(map[CallbackID]*callback),
		nextID:    1, // 0 is never issued
	}
}

// add assigns an id to cb and starts tracking it. The callback must be in
// its initial state: enabled, referenced, not canceled.
func (r *registry) add(cb *callback) CallbackID {
	cb.id = r.nextID
	r.nextID++
	cb.enabled = true
	cb.referenced = true
	r.callbacks[cb.id] = cb
	r.account(cb, 1)
	return cb.id
}

// get returns the live callback for id, or nil.
func (r *registry) get(id CallbackID) *callback {
	return r.callbacks[id]
}

// remove stops tracking cb and latches it canceled. Safe to call repeatedly.
func (r *registry) remove(cb *callback) {
	if cb.canceled {
		return
	}
	r.account(cb, -1)
	cb.canceled = true
	delete(r.callbacks, cb.id)
}

// setEnabled reports whether the state changed.
func (r *registry) setEnabled(cb *callback, enabled bool) bool {
	if cb.canceled || cb.enabled == enabled {
		return false
	}
	r.account(cb, -1)
	cb.enabled = enabled
	r.account(cb, 1)
	return true
}

// setReferenced reports whether the state changed.
func (r *registry) setReferenced(cb *callback, referenced bool) bool {
	if cb.canceled || cb.referenced == referenced {
		return false
	}
	r.account(cb, -1)
	cb.referenced = referenced
	r.account(cb, 1)
	return true
}

func (r *registry) account(cb *callback, delta int) {
	if cb.enabled {
		r.info.Enabled[cb.kind] += delta
	} else {
		r.info.Disabled[cb.kind] += delta
	}
	if cb.referenced {
		r.info.Referenced += delta
		if cb.enabled {
			r.active += delta
		}
	} else {
		r.info.Unreferenced += delta
	}
}

// alive reports whether any enabled, referenced callback remains.
func (r *registry) alive() bool {
	return r.active > 0
}

// ids returns every live id in registration order.
func (r *registry) ids() []CallbackID {
	ids := make([]CallbackID, 0, len(r.callbacks))
	for id := range r.callbacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *registry) len() int {
	return len(r.callbacks)
}
