// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package goroutineid reads the id of the calling goroutine.
//
// The id is parsed from the header line of [runtime.Stack], which is stable
// ("goroutine N [status]:") across every supported Go release. It is used to
// answer ownership questions ("is this the loop goroutine?", "is this the
// fiber's goroutine?"), never for scheduling.
package goroutineid

import (
	"runtime"
)

const prefix = "goroutine "

// Get returns the current goroutine's id, or 0 if it could not be parsed.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	if n <= len(prefix) {
		return 0
	}
	var id uint64
	for i := len(prefix); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
