// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled firing of a Delay or Repeat callback.
type timerEntry struct {
	due   time.Time
	cb    *callback
	seq   uint64
	index int // position in the heap, -1 when popped
}

// timerHeap is a min-heap of timers, ordered by due time, then by insertion
// sequence, so equal deadlines fire FIFO.
type timerHeap []*timerEntry

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// timerQueue orders pending Delay and Repeat firings.
//
// A callback has at most one live entry, referenced by callback.pending.
// Entries popped by popDue stay attached to their callback until the loop
// fires them, which is how a disable/enable (or cancel) issued mid-batch
// invalidates an already popped entry.
type timerQueue struct {
	heap timerHeap
	seq  uint64
}

// schedule inserts a new entry for cb, replacing any live one.
func (q *timerQueue) schedule(cb *callback, due time.Time) {
	q.remove(cb)
	q.seq++
	e := &timerEntry{due: due, cb: cb, seq: q.seq}
	cb.pending = e
	heap.Push(&q.heap, e)
}

// reinsert puts a popped (but unfired) entry back, keeping its original
// position in the (due, seq) order.
func (q *timerQueue) reinsert(e *timerEntry) {
	if e.index >= 0 || e.cb.pending != e {
		return
	}
	heap.Push(&q.heap, e)
}

// remove detaches the live entry of cb, if any.
func (q *timerQueue) remove(cb *callback) {
	e := cb.pending
	if e == nil {
		return
	}
	cb.pending = nil
	if e.index >= 0 {
		heap.Remove(&q.heap, e.index)
	}
}

// popDue pops every entry due at or before now, in (due, seq) order,
// appending them to buf. Nothing popped is fired here: a Repeat is only
// rescheduled after its callback runs, so it cannot re-enter this batch.
func (q *timerQueue) popDue(now time.Time, buf []*timerEntry) []*timerEntry {
	for len(q.heap) > 0 {
		if q.heap[0].due.After(now) {
			break
		}
		buf = append(buf, heap.Pop(&q.heap).(*timerEntry))
	}
	return buf
}

// nextDeadline returns the time until the earliest entry (clamped to zero),
// or false if the queue is empty.
func (q *timerQueue) nextDeadline(now time.Time) (time.Duration, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	d := q.heap[0].due.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (q *timerQueue) len() int {
	return len(q.heap)
}
