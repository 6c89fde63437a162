// Package examples contains runnable example programs demonstrating
// the eventloop and fiber packages.
//
// # Examples
//
// The examples directory contains the following subdirectories:
//
//   - 01_basic_usage: Defer, Delay, Repeat and microtask ordering
//   - 02_fibers: Fibers suspended on the loop, via fiber.Suspension
//   - 03_timers: Timer patterns including debouncing
//   - 04_shutdown: Signals, Stop, and context cancellation
//   - 05_streams: Readiness-based I/O on a pipe (Linux and macOS)
//
// # Running Examples
//
// Each example can be run from the repository root:
//
//	go run ./eventloop/examples/01_basic_usage/
//	go run ./eventloop/examples/02_fibers/
//	go run ./eventloop/examples/03_timers/
//	go run ./eventloop/examples/04_shutdown/
//	go run ./eventloop/examples/05_streams/
//
// Set EVENTLOOP_DEBUG=1 to see the loop's debug logs on stderr.
package examples
