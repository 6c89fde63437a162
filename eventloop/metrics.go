// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync"
	"time"
)

// Metrics is a snapshot of the runtime statistics of a loop, as returned by
// Loop.Metrics. Collection must be enabled with WithMetrics.
//
// Example:
//
//	loop, _ := New(WithMetrics(true))
//	_ = loop.Run(ctx)
//	stats := loop.Metrics()
//	fmt.Printf("ticks: %d, P99 latency: %v\n",
//		stats.Ticks, stats.Latency.P99)
type Metrics struct {
	// Latency is the distribution of callback run times, microtasks included.
	Latency LatencyMetrics

	// Invocations counts the callbacks run, by kind.
	Invocations [kindCount]uint64

	// Ticks counts loop iterations.
	Ticks uint64

	// Microtasks counts the microtasks run.
	Microtasks uint64

	// Failures counts callbacks and microtasks that returned an error or
	// panicked, whether or not an error handler absorbed the failure.
	Failures uint64
}

// InvocationCount returns the number of callbacks of the given kind run.
func (x Metrics) InvocationCount(kind Kind) uint64 {
	if kind >= kindCount {
		return 0
	}
	return x.Invocations[kind]
}

// LatencyMetrics is a latency distribution, with percentiles estimated by
// the P-Square algorithm (constant memory, no stored samples).
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// metrics accumulates statistics on the loop goroutine. The mutex only
// exists for the benefit of Loop.Metrics, which may be called from any
// goroutine.
type metrics struct {
	latency     *pSquareMultiQuantile
	invocations [kindCount]uint64
	mu          sync.Mutex
	ticks       uint64
	microtasks  uint64
	failures    uint64
}

// percentile indexes into metrics.latency
const (
	p50 = iota
	p90
	p99
)

func newMetrics() *metrics {
	return &metrics{
		latency: newPSquareMultiQuantile(0.50, 0.90, 0.99),
	}
}

func (m *metrics) recordTick() {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *metrics) recordCallback(kind Kind, d time.Duration, failed bool) {
	m.mu.Lock()
	m.invocations[kind]++
	if failed {
		m.failures++
	}
	m.latency.Update(float64(d))
	m.mu.Unlock()
}

func (m *metrics) recordMicrotask(d time.Duration, failed bool) {
	m.mu.Lock()
	m.microtasks++
	if failed {
		m.failures++
	}
	m.latency.Update(float64(d))
	m.mu.Unlock()
}

func (m *metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Latency: LatencyMetrics{
			P50:   time.Duration(m.latency.Quantile(p50)),
			P90:   time.Duration(m.latency.Quantile(p90)),
			P99:   time.Duration(m.latency.Quantile(p99)),
			Max:   time.Duration(m.latency.Max()),
			Mean:  time.Duration(m.latency.Mean()),
			Count: m.latency.Count(),
		},
		Invocations: m.invocations,
		Ticks:       m.ticks,
		Microtasks:  m.microtasks,
		Failures:    m.failures,
	}
}
