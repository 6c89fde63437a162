// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package fiber provides stackful coroutines ("fibers") that integrate with
// the single-threaded [eventloop.Loop].
//
// A [Fiber] runs its body on a dedicated goroutine, but never concurrently
// with the code driving it: control is handed back and forth over unbuffered
// channels, so exactly one of the two runs at any time. Start, Resume and
// Throw block until the body either suspends or returns, exchanging a value
// in each direction.
//
//	f := fiber.New(func(f *fiber.Fiber) (any, error) {
//		v, err := f.Suspend("ping")
//		if err != nil {
//			return nil, err
//		}
//		return v.(string) + "!", nil
//	})
//	v, _ := f.Start()       // "ping"
//	v, _ = f.Resume("pong") // "pong!"
//
// Because the body blocks its driver, a fiber resumed from a loop callback
// may safely use the loop, exactly as the callback itself could.
//
// A suspended fiber holds its goroutine, and its entry in the table behind
// [Current], until it terminates. Drivers that stop resuming a fiber must
// release it with [Fiber.Discard].
//
// A [Suspension] is the bridge to the loop: a one-shot handle that parks the
// current fiber (or, outside of any fiber, runs the loop) until some
// callback resumes it.
package fiber
