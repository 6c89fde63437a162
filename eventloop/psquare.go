// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"math"
	"slices"
)

// pSquareQuantile estimates a single quantile of a stream in constant space,
// using the five marker P-Square algorithm (Jain and Chlamtac, CACM 28(10),
// 1985). Not safe for concurrent use.
type pSquareQuantile struct {
	p      float64
	height [5]float64 // marker heights
	pos    [5]int     // actual marker positions
	want   [5]float64 // desired marker positions
	step   [5]float64 // desired position increments
	seen   int
}

func newPSquareQuantile(p float64) *pSquareQuantile {
	p = min(max(p, 0), 1)
	return &pSquareQuantile{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (ps *pSquareQuantile) Update(x float64) {
	ps.seen++
	if ps.seen <= len(ps.height) {
		// the first five samples seed the markers
		ps.height[ps.seen-1] = x
		if ps.seen == len(ps.height) {
			slices.Sort(ps.height[:])
			ps.pos = [5]int{0, 1, 2, 3, 4}
			ps.want = [5]float64{0, 2 * ps.p, 4 * ps.p, 2 + 2*ps.p, 4}
		}
		return
	}

	var cell int
	switch {
	case x < ps.height[0]:
		ps.height[0] = x
	case x >= ps.height[4]:
		ps.height[4] = x
		cell = 3
	default:
		for cell < 3 && x >= ps.height[cell+1] {
			cell++
		}
	}

	for i := cell + 1; i < 5; i++ {
		ps.pos[i]++
	}
	for i := range ps.want {
		ps.want[i] += ps.step[i]
	}

	for i := 1; i < 4; i++ {
		d := ps.want[i] - float64(ps.pos[i])
		if !(d >= 1 && ps.pos[i+1]-ps.pos[i] > 1) && !(d <= -1 && ps.pos[i-1]-ps.pos[i] < -1) {
			continue
		}
		sign := 1
		if d < 0 {
			sign = -1
		}
		if h := ps.parabolic(i, sign); ps.height[i-1] < h && h < ps.height[i+1] {
			ps.height[i] = h
		} else {
			ps.height[i] = ps.linear(i, sign)
		}
		ps.pos[i] += sign
	}
}

func (ps *pSquareQuantile) parabolic(i, sign int) float64 {
	d := float64(sign)
	n, lo, hi := float64(ps.pos[i]), float64(ps.pos[i-1]), float64(ps.pos[i+1])
	q, qLo, qHi := ps.height[i], ps.height[i-1], ps.height[i+1]
	return q + d/(hi-lo)*((n-lo+d)*(qHi-q)/(hi-n)+(hi-n-d)*(q-qLo)/(n-lo))
}

func (ps *pSquareQuantile) linear(i, sign int) float64 {
	j := i + sign
	return ps.height[i] + float64(sign)*(ps.height[j]-ps.height[i])/float64(ps.pos[j]-ps.pos[i])
}

// Quantile returns the current estimate. Until the markers are seeded it
// picks the nearest rank from the samples seen so far.
func (ps *pSquareQuantile) Quantile() float64 {
	switch {
	case ps.seen == 0:
		return 0
	case ps.seen < len(ps.height):
		sorted := slices.Clone(ps.height[:ps.seen])
		slices.Sort(sorted)
		return sorted[int(float64(ps.seen-1)*ps.p)]
	}
	return ps.height[2]
}

// pSquareMultiQuantile feeds one stream to several estimators, tracking the
// sum, count and maximum alongside.
type pSquareMultiQuantile struct {
	estimators []*pSquareQuantile
	sum        float64
	count      int
	max        float64
}

func newPSquareMultiQuantile(percentiles ...float64) *pSquareMultiQuantile {
	m := &pSquareMultiQuantile{
		estimators: make([]*pSquareQuantile, len(percentiles)),
		max:        -math.MaxFloat64,
	}
	for i, p := range percentiles {
		m.estimators[i] = newPSquareQuantile(p)
	}
	return m
}

func (m *pSquareMultiQuantile) Update(x float64) {
	m.count++
	m.sum += x
	m.max = max(m.max, x)
	for _, est := range m.estimators {
		est.Update(x)
	}
}

// Quantile returns the estimate for the i-th percentile passed to the
// constructor, or 0 if i is out of range.
func (m *pSquareMultiQuantile) Quantile(i int) float64 {
	if i < 0 || i >= len(m.estimators) {
		return 0
	}
	return m.estimators[i].Quantile()
}

func (m *pSquareMultiQuantile) Count() int {
	return m.count
}

func (m *pSquareMultiQuantile) Max() float64 {
	if m.count == 0 {
		return 0
	}
	return m.max
}

func (m *pSquareMultiQuantile) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}
