// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
)

// signalForwarder relays deliveries of one signal from the os/signal
// package to the loop.
type signalForwarder struct {
	ch   chan os.Signal
	done chan struct{}
}

// signalDelivery pairs a watcher with the signal it is to be invoked for.
type signalDelivery struct {
	cb  *callback
	sig os.Signal
}

// signalSet owns the signal watchers of a loop.
//
// Watchers are only touched from the loop goroutine. Deliveries arrive on
// forwarder goroutines, are buffered under mu, and wake the loop.
type signalSet struct {
	watchers   map[os.Signal][]*callback // ascending id
	forwarders map[os.Signal]*signalForwarder
	wake       func()
	pending    []os.Signal
	ready      []signalDelivery
	wg         sync.WaitGroup
	mu         sync.Mutex
	count      atomic.Int64 // len(pending)
}

func (s *signalSet) init(wake func()) {
	s.watchers = make(map[os.Signal][]*callback)
	s.forwarders = make(map[os.Signal]*signalForwarder)
	s.wake = wake
}

// watch adds cb, subscribing to its signal if it is the first watcher.
func (s *signalSet) watch(cb *callback) {
	s.watchers[cb.signal] = append(s.watchers[cb.signal], cb)
	if _, ok := s.forwarders[cb.signal]; ok {
		return
	}
	f := &signalForwarder{
		ch:   make(chan os.Signal, 8),
		done: make(chan struct{}),
	}
	s.forwarders[cb.signal] = f
	signal.Notify(f.ch, cb.signal)
	s.wg.Add(1)
	go s.forward(f)
}

func (s *signalSet) forward(f *signalForwarder) {
	defer s.wg.Done()
	for {
		select {
		case sig := <-f.ch:
			s.mu.Lock()
			s.pending = append(s.pending, sig)
			s.count.Store(int64(len(s.pending)))
			s.mu.Unlock()
			s.wake()
		case <-f.done:
			return
		}
	}
}

// unwatch removes cb, unsubscribing from its signal if it was the last
// watcher.
func (s *signalSet) unwatch(cb *callback) {
	list := s.watchers[cb.signal]
	if i := slices.Index(list, cb); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) != 0 {
		s.watchers[cb.signal] = list
		return
	}
	delete(s.watchers, cb.signal)
	if f, ok := s.forwarders[cb.signal]; ok {
		delete(s.forwarders, cb.signal)
		signal.Stop(f.ch)
		close(f.done)
	}
}

func (s *signalSet) hasPending() bool {
	return s.count.Load() != 0
}

// take consumes the buffered deliveries, returning the watchers to invoke,
// in delivery order then ascending id. Deliveries with no enabled watcher
// are discarded. The returned slice is only valid until the next call.
func (s *signalSet) take() []signalDelivery {
	s.ready = s.ready[:0]
	if !s.hasPending() {
		return s.ready
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.count.Store(0)
	s.mu.Unlock()

	for _, sig := range pending {
		for _, cb := range s.watchers[sig] {
			if cb.enabled {
				s.ready = append(s.ready, signalDelivery{cb: cb, sig: sig})
			}
		}
	}

	return s.ready
}

// close unsubscribes from every signal and waits for the forwarders to exit.
func (s *signalSet) close() {
	for sig, f := range s.forwarders {
		delete(s.forwarders, sig)
		signal.Stop(f.ch)
		close(f.done)
	}
	clear(s.watchers)
	s.wg.Wait()
}
