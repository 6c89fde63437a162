// Example: Fibers
//
// This example demonstrates fibers integrated with the event loop:
// - Suspending a fiber until a timer resumes it
// - Several fibers interleaving on one loop
// - Errors thrown into a suspended fiber
// - Suspending the main goroutine, which runs the loop
//
// Run with: go run ./eventloop/examples/02_fibers/
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-cooploop/eventloop"
	"github.com/joeycumines/go-cooploop/fiber"
)

// sleep suspends the current fiber (or runs the loop, from main) for d.
func sleep(loop *eventloop.Loop, d time.Duration) error {
	s := fiber.NewSuspension(loop)
	if _, err := loop.Delay(d, func(eventloop.CallbackID) error {
		return s.Resume(nil)
	}); err != nil {
		return err
	}
	_, err := s.Suspend()
	return err
}

// async starts fn as a fiber, from a deferred callback.
func async(loop *eventloop.Loop, fn func() error) {
	f := fiber.New(func(*fiber.Fiber) (any, error) {
		return nil, fn()
	})
	loop.Defer(func(eventloop.CallbackID) error {
		_, err := f.Start()
		return err
	})
}

func main() {
	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	for i, name := range []string{`alice`, `bob`, `carol`} {
		async(loop, func() error {
			for step := 1; step <= 3; step++ {
				if err := sleep(loop, time.Duration(i+1)*25*time.Millisecond); err != nil {
					return err
				}
				fmt.Printf("%s: step %d\n", name, step)
			}
			return nil
		})
	}

	errTimeout := errors.New(`timed out`)
	async(loop, func() error {
		s := fiber.NewSuspension(loop)
		loop.Delay(50*time.Millisecond, func(eventloop.CallbackID) error {
			return s.Throw(errTimeout)
		})
		if _, err := s.Suspend(); errors.Is(err, errTimeout) {
			fmt.Println("dave: caught", err)
		}
		return nil
	})

	// Outside of any fiber, suspending runs the loop until resumed.
	fmt.Println("main: sleeping")
	if err := sleep(loop, 100*time.Millisecond); err != nil {
		fmt.Printf("main: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("main: woke up, fibers still pending")

	// Suspending again, with nothing left to resume it, reports a deadlock
	// once the remaining fibers are done.
	_, err = fiber.NewSuspension(loop).Suspend()
	fmt.Printf("main: %v\n", err)
}
