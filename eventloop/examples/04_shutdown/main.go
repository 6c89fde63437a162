// Example: Shutdown Handling
//
// This example demonstrates the ways Run returns:
// - Stop, from a signal watcher or another goroutine
// - Context cancellation
// - A failing callback, with and without an error handler
//
// Run with: go run ./eventloop/examples/04_shutdown/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/joeycumines/go-cooploop/eventloop"
)

func main() {
	signalExample()
	contextCancellationExample()
	errorExample()
}

func signalExample() {
	fmt.Println("\n=== Stop on Signal ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	ticks := 0
	loop.Repeat(50*time.Millisecond, func(eventloop.CallbackID) error {
		ticks++
		fmt.Printf("Working (%d)\n", ticks)
		return nil
	})

	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		id, _ := loop.OnSignal(sig, func(_ eventloop.CallbackID, sig os.Signal) error {
			fmt.Printf("Received %v, stopping\n", sig)
			loop.Stop()
			return nil
		})
		// the watchers alone should not keep the loop alive
		loop.Unreference(id)
	}

	// simulate Ctrl+C after a while
	go func() {
		time.Sleep(220 * time.Millisecond)
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(os.Interrupt)
	}()

	err := loop.Run(context.Background())
	fmt.Printf("Run returned %v, after %d ticks\n", err, ticks)
}

func contextCancellationExample() {
	fmt.Println("\n=== Context Cancellation ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	loop.Repeat(50*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Interval tick")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	fmt.Printf("Run returned: %v\n", err)

	// the interval is still registered: Run may be called again
	fmt.Println("Callbacks left:", len(loop.Identifiers()))
}

func errorExample() {
	fmt.Println("\n=== Callback Failures ===")

	errBroken := errors.New(`broken`)

	loop, _ := eventloop.New()
	loop.Defer(func(eventloop.CallbackID) error { return errBroken })
	err := loop.Run(context.Background())
	var cbErr *eventloop.CallbackError
	if errors.As(err, &cbErr) {
		fmt.Printf("Run failed: %s callback %d: %v\n", cbErr.Kind, cbErr.ID, cbErr.Cause)
	}
	loop.Close()

	failures := 0
	loop, _ = eventloop.New(eventloop.WithErrorHandler(func(err error) error {
		failures++
		fmt.Println("Handled:", err)
		return nil
	}))
	defer loop.Close()
	loop.Defer(func(eventloop.CallbackID) error { return errBroken })
	loop.Defer(func(eventloop.CallbackID) error { panic(`oh no`) })
	loop.Defer(func(eventloop.CallbackID) error {
		fmt.Println("Still running")
		return nil
	})
	err = loop.Run(context.Background())
	fmt.Printf("Run returned %v, with %d failures handled\n", err, failures)
}
