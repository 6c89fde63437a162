// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync"
	"sync/atomic"
)

// chunkSize is the number of tasks per node in the chunkedIngress linked list.
// 128 tasks * 8 bytes/task + overhead = ~1KB per chunk.
const chunkSize = 128

// chunkedIngress is a chunked linked-list queue for task submission.
//
// Thread Safety: This struct is NOT thread-safe.
// The caller must provide external synchronization (see ingress).
type chunkedIngress struct { // betteralign:ignore
	head   *chunk
	tail   *chunk
	length int
}

// chunkPool prevents GC thrashing under high load.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node in the chunked linked-list.
// It uses readPos/writePos cursors for O(1) push/pop without shifting.
type chunk struct {
	tasks   [chunkSize]func() error
	next    *chunk
	readPos int // First unread slot (index into tasks)
	pos     int // First unused slot / writePos (index into tasks)
}

// newChunk creates and returns a new chunk from the pool.
func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk returns an exhausted chunk to the pool, clearing task slots so
// the pool does not retain closures.
func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = nil
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

// push adds a task to the queue.
func (q *chunkedIngress) push(task func() error) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.tasks) {
		newTail := newChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

// pop removes and returns a task. Returns false if the queue is empty.
func (q *chunkedIngress) pop() (func() error, bool) {
	if q.head == nil || q.head.readPos >= q.head.pos {
		return nil, false
	}

	task := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	// If chunk is now exhausted, free it or reset cursors
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return task, true
		}
		oldHead := q.head
		q.head = q.head.next
		returnChunk(oldHead)
	}

	return task, true
}

// ingress is the goroutine-safe queue behind Loop.Submit.
//
// The loop takes the whole backlog at the start of a tick, so a task
// submitted by an ingress task runs on the following tick.
type ingress struct {
	tasks chunkedIngress
	mu    sync.Mutex
	// pending mirrors tasks.length, for lock-free checks by the loop.
	pending atomic.Int64
}

func (q *ingress) push(task func() error) {
	q.mu.Lock()
	q.tasks.push(task)
	q.pending.Add(1)
	q.mu.Unlock()
}

// popAll moves every queued task into buf, in submission order.
func (q *ingress) popAll(buf []func() error) []func() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		task, ok := q.tasks.pop()
		if !ok {
			break
		}
		buf = append(buf, task)
	}
	q.pending.Store(0)
	return buf
}

// unshift puts unprocessed tasks back at the head of the queue, ahead of
// anything submitted since they were taken.
func (q *ingress) unshift(tasks []func() error) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var rest []func() error
	for {
		task, ok := q.tasks.pop()
		if !ok {
			break
		}
		rest = append(rest, task)
	}
	for _, task := range tasks {
		q.tasks.push(task)
	}
	for _, task := range rest {
		q.tasks.push(task)
	}
	q.pending.Store(int64(q.tasks.length))
}

func (q *ingress) empty() bool {
	return q.pending.Load() == 0
}
