// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// Handle is a pollable stream, i.e. anything backed by a file descriptor.
// [FD] adapts a raw descriptor. [*os.File] also satisfies it, but note that
// its Fd method switches the file to blocking mode.
//
// The loop only polls handles for readiness. Creating them, configuring
// blocking mode, and reading or writing are the caller's business; handles
// should be non-blocking, so a callback that reads "too much" sees EAGAIN
// rather than stalling the loop.
type Handle interface {
	Fd() uintptr
}

// FD adapts a raw file descriptor to [Handle].
type FD int

// Fd implements [Handle].
func (x FD) Fd() uintptr { return uintptr(x) }

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// fdWatchers is the set of watchers sharing one file descriptor.
type fdWatchers struct {
	watchers   []*callback // ascending id
	registered IOEvents    // interest currently applied to the kernel
}

// reactor multiplexes readable/writable watchers over the platform poller.
//
// Any number of watchers may share a (fd, direction) pair, and all of them
// fire. Kernel interest is the union of the directions of the enabled
// watchers on a fd, recomputed whenever a watcher is added, removed, enabled
// or disabled. Readiness is level-triggered.
type reactor struct {
	fds    map[int]*fdWatchers
	events map[int]IOEvents // per-poll scratch
	onWake func()
	ready  []*callback
	poller fastPoller
	wakeFD int
}

func (r *reactor) init(wakeFD int, maxEvents int, onWake func()) error {
	r.fds = make(map[int]*fdWatchers)
	r.events = make(map[int]IOEvents)
	r.wakeFD = wakeFD
	r.onWake = onWake
	if err := r.poller.Init(maxEvents); err != nil {
		return err
	}
	if err := r.poller.Update(wakeFD, 0, EventRead); err != nil {
		_ = r.poller.Close()
		return err
	}
	return nil
}

func (r *reactor) close() error {
	return r.poller.Close()
}

// watch adds cb, applying the new interest immediately, so an unpollable
// handle fails at registration.
func (r *reactor) watch(cb *callback) error {
	w := r.fds[cb.fd]
	if w == nil {
		w = &fdWatchers{}
		r.fds[cb.fd] = w
	}
	w.watchers = append(w.watchers, cb)
	if err := r.sync(cb.fd); err != nil {
		r.detach(w, cb)
		if len(w.watchers) == 0 {
			delete(r.fds, cb.fd)
		}
		return err
	}
	return nil
}

// unwatch removes cb. Kernel errors are ignored, as the fd may already have
// been closed by its owner.
func (r *reactor) unwatch(cb *callback) {
	w := r.fds[cb.fd]
	if w == nil {
		return
	}
	r.detach(w, cb)
	_ = r.sync(cb.fd)
}

// refresh re-applies interest after cb was enabled or disabled.
func (r *reactor) refresh(cb *callback) error {
	if r.fds[cb.fd] == nil {
		return nil
	}
	return r.sync(cb.fd)
}

func (r *reactor) detach(w *fdWatchers, cb *callback) {
	if i := slices.Index(w.watchers, cb); i >= 0 {
		w.watchers = slices.Delete(w.watchers, i, i+1)
	}
}

func (r *reactor) sync(fd int) error {
	w := r.fds[fd]
	var want IOEvents
	for _, cb := range w.watchers {
		if cb.enabled {
			want |= cb.direction()
		}
	}
	if want != w.registered {
		if err := r.poller.Update(fd, w.registered, want); err != nil && want != 0 {
			return err
		}
		w.registered = want
	}
	if len(w.watchers) == 0 {
		delete(r.fds, fd)
	}
	return nil
}

// poll blocks for up to timeout (forever if negative) and returns the ready
// watchers in ascending id order. Error and hangup conditions make every
// enabled watcher on the fd ready, so its callback observes EOF or the error
// from its own read or write.
//
// The returned slice is only valid until the next call.
func (r *reactor) poll(timeout time.Duration) ([]*callback, error) {
	r.ready = r.ready[:0]
	clear(r.events)

	_, err := r.poller.Wait(timeout, func(fd int, events IOEvents) {
		if fd == r.wakeFD {
			r.onWake()
			return
		}
		r.events[fd] |= events
	})
	if err != nil {
		return nil, err
	}

	for fd, events := range r.events {
		w := r.fds[fd]
		if w == nil {
			continue
		}
		for _, cb := range w.watchers {
			if !cb.enabled {
				continue
			}
			if events&cb.direction() != 0 || events&(EventError|EventHangup) != 0 {
				r.ready = append(r.ready, cb)
			}
		}
	}

	slices.SortFunc(r.ready, func(a, b *callback) int {
		return cmp.Compare(a.id, b.id)
	})

	return r.ready, nil
}

// timeoutMillis converts a poll timeout to the millisecond form taken by
// epoll_wait, rounding up so the loop never wakes before a timer is due.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
