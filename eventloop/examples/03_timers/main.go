// Example: Timer Patterns
//
// This example demonstrates timer patterns built on Delay and Repeat:
// - Debouncing a burst of events
// - Pausing and resuming a repeating timer
// - Unreferenced timers, which do not keep the loop alive
//
// Run with: go run ./eventloop/examples/03_timers/
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-cooploop/eventloop"
)

// debouncer runs fn once no call to trigger happened for wait.
type debouncer struct {
	loop    *eventloop.Loop
	fn      func()
	pending eventloop.CallbackID
	wait    time.Duration
}

func (d *debouncer) trigger() {
	d.loop.Cancel(d.pending)
	d.pending, _ = d.loop.Delay(d.wait, func(eventloop.CallbackID) error {
		d.fn()
		return nil
	})
}

func main() {
	debounceExample()
	pauseResumeExample()
	unreferencedExample()
}

func debounceExample() {
	fmt.Println("\n=== Debounce ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	d := &debouncer{
		loop: loop,
		wait: 50 * time.Millisecond,
		fn:   func() { fmt.Println("Debounced: saving") },
	}

	// five keystrokes, 20ms apart: only the last one saves
	for i := 0; i < 5; i++ {
		loop.Delay(time.Duration(i)*20*time.Millisecond, func(eventloop.CallbackID) error {
			fmt.Printf("Keystroke %d\n", i+1)
			d.trigger()
			return nil
		})
	}

	_ = loop.Run(context.Background())
}

func pauseResumeExample() {
	fmt.Println("\n=== Pause and Resume ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	start := time.Now()
	ticks := 0
	ticker, _ := loop.Repeat(20*time.Millisecond, func(id eventloop.CallbackID) error {
		ticks++
		fmt.Printf("Tick %d at %v\n", ticks, time.Since(start).Round(10*time.Millisecond))
		if ticks == 6 {
			loop.Cancel(id)
		}
		return nil
	})

	loop.Delay(50*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Pausing")
		return loop.Disable(ticker)
	})
	loop.Delay(150*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Resuming")
		return loop.Enable(ticker)
	})

	_ = loop.Run(context.Background())
}

func unreferencedExample() {
	fmt.Println("\n=== Unreferenced Timers ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	heartbeat, _ := loop.Repeat(10*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Heartbeat")
		return nil
	})
	loop.Unreference(heartbeat)

	loop.Delay(35*time.Millisecond, func(eventloop.CallbackID) error {
		fmt.Println("Work done")
		return nil
	})

	_ = loop.Run(context.Background())
	fmt.Println("Run returned, with the heartbeat still registered:", loop.IsEnabled(heartbeat))
}
