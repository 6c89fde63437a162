// Package eventloop provides a single-threaded, cooperative event loop for
// Go, featuring deferred callbacks, timers, microtasks, OS signals, and
// readiness-based I/O polling.
//
// # Architecture
//
// The event loop is built around a [Loop] core that owns every registered
// callback, identified by a [CallbackID]. Callbacks come in six kinds
// ([Kind]): one-shot [Loop.Defer] and [Loop.Delay], and persistent
// [Loop.Repeat], [Loop.OnReadable], [Loop.OnWritable] and [Loop.OnSignal].
// Any of them may be canceled ([Loop.Cancel]), disabled and re-enabled
// ([Loop.Disable], [Loop.Enable]), or unreferenced ([Loop.Unreference]) so
// that it no longer keeps [Loop.Run] alive.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms, in
// level-triggered mode:
//   - macOS: kqueue
//   - Linux: epoll
//
// Other platforms are not supported; [New] returns [ErrUnsupportedPlatform].
//
// # Thread Safety
//
// The loop is single-threaded. Callbacks run one at a time, to completion,
// on the goroutine that called [Loop.Run], and the registration methods
// must only be called from that goroutine (or while the loop is stopped).
// The exceptions are:
//   - [Loop.Submit], which queues work from any goroutine, waking the loop
//   - [Loop.Stop], [Loop.State] and [Loop.Metrics]
//
// # Execution Model
//
// Task ordering within each tick:
//  1. Submitted tasks ([Loop.Submit])
//  2. The defer batch present at tick start, FIFO
//  3. Due timers, earliest deadline first (FIFO for ties)
//  4. I/O poll, then ready watchers in registration order
//  5. Signal watchers, for signals delivered since the last tick
//
// Microtasks ([Loop.Queue]) are drained after each callback. The poll only
// blocks when none of the above is pending, for at most the time until the
// next timer.
//
// A callback failure (error or panic) stops [Loop.Run], which returns it as
// a [*CallbackError]; callbacks not yet reached stay registered. Install
// [WithErrorHandler] to keep running instead.
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	loop.Defer(func(eventloop.CallbackID) error {
//	    fmt.Println("deferred")
//	    return nil
//	})
//	loop.Delay(50*time.Millisecond, func(eventloop.CallbackID) error {
//	    fmt.Println("delayed")
//	    return nil
//	})
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package eventloop
