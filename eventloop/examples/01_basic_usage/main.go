// Example: Basic Event Loop Usage
//
// This example demonstrates the fundamental usage of the event loop:
// - Creating a loop, with a structured logger
// - Deferring callbacks, and the order they run in
// - Delayed and repeating timers
// - Microtasks
//
// Run with: go run ./eventloop/examples/01_basic_usage/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-cooploop/eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func newLogger() *logiface.Logger[logiface.Event] {
	level := logiface.LevelInformational
	if os.Getenv(`EVENTLOOP_DEBUG`) != `` {
		level = logiface.LevelDebug
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func main() {
	loop, err := eventloop.New(
		eventloop.WithLogger(newLogger()),
		eventloop.WithName(`basic`),
	)
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	// Deferred callbacks run in registration order, on the next tick.
	for i := 1; i <= 3; i++ {
		loop.Defer(func(id eventloop.CallbackID) error {
			fmt.Printf("Defer %d (id %d)\n", i, id)
			return nil
		})
	}

	// A callback deferred by a deferred callback waits for the next tick.
	loop.Defer(func(eventloop.CallbackID) error {
		fmt.Println("Defer 4: deferring another")
		_, err := loop.Defer(func(eventloop.CallbackID) error {
			fmt.Println("Defer 5: ran on the following tick")
			return nil
		})
		return err
	})

	// Microtasks run as soon as the current callback returns.
	loop.Defer(func(eventloop.CallbackID) error {
		loop.Queue(func() error {
			fmt.Println("Microtask: after Defer 6, before Defer 7")
			return nil
		})
		fmt.Println("Defer 6: queued a microtask")
		return nil
	})
	loop.Defer(func(eventloop.CallbackID) error {
		fmt.Println("Defer 7")
		return nil
	})

	loop.Delay(100*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Delay: fired after 100ms")
		return nil
	})

	// A repeating timer keeps the loop alive until it cancels itself.
	count := 0
	loop.Repeat(30*time.Millisecond, func(id eventloop.CallbackID) error {
		count++
		fmt.Printf("Repeat: tick %d\n", count)
		if count == 5 {
			loop.Cancel(id)
		}
		return nil
	})

	// Run returns once nothing referenced remains.
	if err := loop.Run(context.Background()); err != nil {
		fmt.Printf("Run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Loop finished: no more work")
}
