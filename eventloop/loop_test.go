// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DeferOrder(t *testing.T) {
	loop := newTestLoop(t)

	var order []int
	for i := 0; i < 5; i++ {
		_, err := loop.Defer(func(CallbackID) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoop_NestedDeferRunsNextTick(t *testing.T) {
	loop := newTestLoop(t)

	type entry struct {
		name string
		tick uint64
	}
	var order []entry

	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, entry{"a", loop.tickCount})
		_, err := loop.Defer(func(CallbackID) error {
			order = append(order, entry{"c", loop.tickCount})
			return nil
		})
		return err
	})
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, entry{"b", loop.tickCount})
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	require.Len(t, order, 3)
	assert.Equal(t, "a", order[0].name)
	assert.Equal(t, "b", order[1].name)
	assert.Equal(t, "c", order[2].name)
	assert.Equal(t, order[0].tick, order[1].tick)
	assert.Equal(t, order[0].tick+1, order[2].tick)
}

func TestLoop_DeferBeforeTimers(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	_, _ = loop.Delay(0, func(CallbackID) error {
		order = append(order, "delay")
		return nil
	})
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, "defer")
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"defer", "delay"}, order)
}

func TestLoop_DelayTiming(t *testing.T) {
	loop := newTestLoop(t)

	const (
		delay = 100 * time.Millisecond
		slack = 150 * time.Millisecond
	)
	start := time.Now()
	var elapsed time.Duration
	_, err := loop.Delay(delay, func(CallbackID) error {
		elapsed = time.Since(start)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, delay+slack)
}

func TestLoop_DelayOrderByDueTime(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	_, _ = loop.Delay(30*time.Millisecond, func(CallbackID) error {
		order = append(order, "30ms")
		return nil
	})
	_, _ = loop.Delay(10*time.Millisecond, func(CallbackID) error {
		order = append(order, "10ms")
		return nil
	})
	_, _ = loop.Delay(20*time.Millisecond, func(CallbackID) error {
		order = append(order, "20ms")
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.Equal(t, []string{"10ms", "20ms", "30ms"}, order)
}

func TestLoop_RepeatCancel(t *testing.T) {
	loop := newTestLoop(t)

	var count int
	id, err := loop.Repeat(10*time.Millisecond, func(id CallbackID) error {
		count++
		if count == 3 {
			loop.Cancel(id)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.Equal(t, 3, count)
	assert.False(t, loop.IsEnabled(id))
	assert.Empty(t, loop.Identifiers())
}

func TestLoop_RepeatCancelWithPendingWork(t *testing.T) {
	loop := newTestLoop(t)

	var count int
	_, err := loop.Repeat(10*time.Millisecond, func(id CallbackID) error {
		count++
		if count == 3 {
			loop.Cancel(id)
		}
		return nil
	})
	require.NoError(t, err)

	// outlives the repeat, so the loop keeps ticking after the cancel
	var delayed bool
	_, err = loop.Delay(100*time.Millisecond, func(CallbackID) error {
		delayed = true
		assert.Equal(t, 3, count)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.True(t, delayed)
	assert.Equal(t, 3, count)
}

func TestLoop_RepeatDoesNotRefireWithinBatch(t *testing.T) {
	loop := newTestLoop(t)

	var ticks []uint64
	_, err := loop.Repeat(0, func(id CallbackID) error {
		ticks = append(ticks, loop.tickCount)
		if len(ticks) == 3 {
			loop.Cancel(id)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	require.Len(t, ticks, 3)
	assert.Less(t, ticks[0], ticks[1])
	assert.Less(t, ticks[1], ticks[2])
}

func TestLoop_CancelBeforeRun(t *testing.T) {
	loop := newTestLoop(t)

	var called bool
	id, err := loop.Defer(func(CallbackID) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	loop.Cancel(id)
	loop.Cancel(id) // idempotent
	loop.Cancel(9999)

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.False(t, called)
}

func TestLoop_CancelDelayBeforeRun(t *testing.T) {
	loop := newTestLoop(t)

	var called, timer bool
	id, err := loop.Delay(0, func(CallbackID) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	loop.Cancel(id)

	_, err = loop.Delay(50*time.Millisecond, func(CallbackID) error {
		timer = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.False(t, called)
	assert.True(t, timer)
	assert.False(t, loop.IsEnabled(id))
}

func TestLoop_CancelDueTimerFromEarlierTimer(t *testing.T) {
	loop := newTestLoop(t)

	var second CallbackID
	var called bool
	_, _ = loop.Delay(0, func(CallbackID) error {
		loop.Cancel(second)
		return nil
	})
	second, _ = loop.Delay(0, func(CallbackID) error {
		called = true
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.False(t, called)
}

func TestLoop_SingleShotIDInvalidInsideBody(t *testing.T) {
	loop := newTestLoop(t)

	var kindErr error
	_, _ = loop.Defer(func(id CallbackID) error {
		_, kindErr = loop.Kind(id)
		loop.Cancel(id) // no-op
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.ErrorIs(t, kindErr, ErrInvalidCallback)
}

func TestLoop_CallbackErrorPropagates(t *testing.T) {
	loop := newTestLoop(t)

	errBoom := errors.New("boom")
	var ran []string
	failing, _ := loop.Defer(func(CallbackID) error {
		ran = append(ran, "failing")
		return errBoom
	})
	_, _ = loop.Defer(func(CallbackID) error {
		ran = append(ran, "next")
		return nil
	})

	err := runWithTimeout(t, loop, time.Second)
	require.ErrorIs(t, err, errBoom)
	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, failing, cbErr.ID)
	assert.Equal(t, KindDefer, cbErr.Kind)
	assert.Equal(t, []string{"failing"}, ran)

	// the unreached callback stays registered
	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"failing", "next"}, ran)
}

func TestLoop_TimerErrorKeepsRemainingTimers(t *testing.T) {
	loop := newTestLoop(t)

	errBoom := errors.New("boom")
	var ran []string
	_, _ = loop.Delay(0, func(CallbackID) error {
		ran = append(ran, "first")
		return errBoom
	})
	_, _ = loop.Delay(0, func(CallbackID) error {
		ran = append(ran, "second")
		return nil
	})

	require.ErrorIs(t, runWithTimeout(t, loop, time.Second), errBoom)
	assert.Equal(t, []string{"first"}, ran)

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestLoop_FailingRepeatStaysScheduled(t *testing.T) {
	loop := newTestLoop(t)

	errBoom := errors.New("boom")
	var count int
	id, _ := loop.Repeat(time.Millisecond, func(id CallbackID) error {
		count++
		if count == 1 {
			return errBoom
		}
		loop.Cancel(id)
		return nil
	})

	require.ErrorIs(t, runWithTimeout(t, loop, time.Second), errBoom)
	assert.True(t, loop.IsEnabled(id))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 2, count)
}

func TestLoop_PanicBecomesPanicError(t *testing.T) {
	loop := newTestLoop(t)

	_, _ = loop.Defer(func(CallbackID) error {
		panic("kaboom")
	})

	err := runWithTimeout(t, loop, time.Second)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestLoop_ErrorHandlerAbsorbsFailures(t *testing.T) {
	errBoom := errors.New("boom")
	var handled []error
	loop := newTestLoop(t, WithErrorHandler(func(err error) error {
		handled = append(handled, err)
		return nil
	}))

	var ran bool
	_, _ = loop.Defer(func(CallbackID) error { return errBoom })
	_, _ = loop.Defer(func(CallbackID) error {
		ran = true
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.True(t, ran)
	require.Len(t, handled, 1)
	assert.ErrorIs(t, handled[0], errBoom)
}

func TestLoop_ErrorHandlerCanStopRun(t *testing.T) {
	errStop := errors.New("stop")
	loop := newTestLoop(t, WithErrorHandler(func(err error) error {
		return errStop
	}))

	_, _ = loop.Defer(func(CallbackID) error { return errors.New("boom") })

	assert.ErrorIs(t, runWithTimeout(t, loop, time.Second), errStop)
}

func TestLoop_Microtasks(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, "a")
		return loop.Queue(func() error {
			order = append(order, "m1")
			return loop.Queue(func() error {
				order = append(order, "m2")
				return nil
			})
		})
	})
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, "b")
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"a", "m1", "m2", "b"}, order)
}

func TestLoop_MicrotaskQueuedBeforeRun(t *testing.T) {
	loop := newTestLoop(t)

	var ran bool
	require.NoError(t, loop.Queue(func() error {
		ran = true
		return nil
	}))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.True(t, ran)
}

func TestLoop_EnableDisableDefer(t *testing.T) {
	loop := newTestLoop(t)

	var called int
	id, _ := loop.Defer(func(CallbackID) error {
		called++
		return nil
	})
	require.NoError(t, loop.Disable(id))
	assert.False(t, loop.IsEnabled(id))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 0, called)

	require.NoError(t, loop.Enable(id))
	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 1, called)

	assert.ErrorIs(t, loop.Enable(id), ErrInvalidCallback)
	assert.ErrorIs(t, loop.Disable(id), ErrInvalidCallback)
}

func TestLoop_DisableEnableKeepsDeferPosition(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	a, _ := loop.Defer(func(CallbackID) error {
		order = append(order, "a")
		return nil
	})
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, "b")
		return nil
	})
	require.NoError(t, loop.Disable(a))
	require.NoError(t, loop.Enable(a))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestLoop_DisabledTimerDoesNotFire(t *testing.T) {
	loop := newTestLoop(t)

	var fired int
	timer, _ := loop.Delay(time.Millisecond, func(CallbackID) error {
		fired++
		return nil
	})
	_, _ = loop.Defer(func(CallbackID) error {
		return loop.Disable(timer)
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, loop.Info().DisabledCount(KindDelay))

	require.NoError(t, loop.Enable(timer))
	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, loop.Info().DisabledCount(KindDelay))
}

func TestLoop_DisableFromOwnRepeat(t *testing.T) {
	loop := newTestLoop(t)

	var count int
	id, _ := loop.Repeat(time.Millisecond, func(id CallbackID) error {
		count++
		return loop.Disable(id)
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, 1, count)
	assert.False(t, loop.IsEnabled(id))
	kind, err := loop.Kind(id)
	require.NoError(t, err)
	assert.Equal(t, KindRepeat, kind)
}

func TestLoop_UnreferencedDoesNotKeepAlive(t *testing.T) {
	loop := newTestLoop(t)

	var ticks int
	repeat, _ := loop.Repeat(time.Millisecond, func(CallbackID) error {
		ticks++
		return nil
	})
	require.NoError(t, loop.Unreference(repeat))
	assert.False(t, loop.IsReferenced(repeat))

	var done bool
	_, _ = loop.Delay(30*time.Millisecond, func(CallbackID) error {
		done = true
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.True(t, done)
	assert.Greater(t, ticks, 0)
	assert.True(t, loop.IsEnabled(repeat))

	info := loop.Info()
	assert.Equal(t, 1, info.EnabledCount(KindRepeat))
	assert.Equal(t, 0, info.Referenced)
	assert.Equal(t, 1, info.Unreferenced)

	require.NoError(t, loop.Reference(repeat))
	assert.True(t, loop.IsReferenced(repeat))
	loop.Cancel(repeat)
	assert.ErrorIs(t, loop.Reference(repeat), ErrInvalidCallback)
	assert.ErrorIs(t, loop.Unreference(repeat), ErrInvalidCallback)
}

func TestLoop_UnreferencedOnlyReturnsImmediately(t *testing.T) {
	loop := newTestLoop(t)

	id, _ := loop.Delay(time.Hour, noop)
	require.NoError(t, loop.Unreference(id))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
}

func TestLoop_Introspection(t *testing.T) {
	loop := newTestLoop(t)

	d, _ := loop.Defer(noop)
	dl, _ := loop.Delay(time.Hour, noop)
	r, _ := loop.Repeat(time.Hour, noop)

	assert.Equal(t, []CallbackID{d, dl, r}, loop.Identifiers())
	assert.Less(t, d, dl)
	assert.Less(t, dl, r)

	kind, err := loop.Kind(dl)
	require.NoError(t, err)
	assert.Equal(t, KindDelay, kind)
	assert.Equal(t, "delay", kind.String())

	require.NoError(t, loop.Disable(r))
	info := loop.Info()
	assert.Equal(t, 1, info.EnabledCount(KindDefer))
	assert.Equal(t, 1, info.EnabledCount(KindDelay))
	assert.Equal(t, 0, info.EnabledCount(KindRepeat))
	assert.Equal(t, 1, info.DisabledCount(KindRepeat))
	assert.Equal(t, 3, info.Referenced)

	loop.Cancel(d)
	loop.Cancel(dl)
	loop.Cancel(r)
	assert.Empty(t, loop.Identifiers())
	assert.Equal(t, Info{}, loop.Info())
}

func TestLoop_UsageErrors(t *testing.T) {
	loop := newTestLoop(t)

	_, err := loop.Delay(-time.Second, noop)
	var rangeErr *RangeError
	assert.ErrorAs(t, err, &rangeErr)

	_, err = loop.Repeat(-time.Second, noop)
	assert.ErrorAs(t, err, &rangeErr)

	var typeErr *TypeError
	_, err = loop.Defer(nil)
	assert.ErrorAs(t, err, &typeErr)
	_, err = loop.OnReadable(nil, func(CallbackID, Handle) error { return nil })
	assert.ErrorAs(t, err, &typeErr)
	_, err = loop.OnSignal(nil, func(CallbackID, os.Signal) error { return nil })
	assert.ErrorAs(t, err, &typeErr)
	assert.ErrorAs(t, loop.Queue(nil), &typeErr)
	assert.ErrorAs(t, loop.Submit(nil), &typeErr)

	_, err = loop.Kind(12345)
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestLoop_RunIsReusable(t *testing.T) {
	loop := newTestLoop(t)

	for i := 0; i < 3; i++ {
		var ran bool
		_, _ = loop.Defer(func(CallbackID) error {
			ran = true
			return nil
		})
		require.NoError(t, runWithTimeout(t, loop, time.Second))
		assert.True(t, ran)
		assert.Equal(t, StateAwake, loop.State())
	}
}

func TestLoop_ReentrantRun(t *testing.T) {
	loop := newTestLoop(t)

	var runErr error
	_, _ = loop.Defer(func(CallbackID) error {
		runErr = loop.Run(context.Background())
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.ErrorIs(t, runErr, ErrReentrantRun)
}

func TestLoop_RunAlreadyRunning(t *testing.T) {
	loop := newTestLoop(t)

	keepAlive, _ := loop.Repeat(time.Hour, noop)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return loop.State() == StateSleeping }, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, loop.Run(context.Background()), ErrLoopAlreadyRunning)
	assert.ErrorIs(t, loop.Close(), ErrLoopAlreadyRunning)

	require.NoError(t, loop.Submit(func() error {
		loop.Cancel(keepAlive)
		return nil
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not return")
	}
}

func TestLoop_SubmitWakesBlockedPoll(t *testing.T) {
	loop := newTestLoop(t)

	keepAlive, _ := loop.Repeat(time.Hour, noop)

	var ran atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = loop.Submit(func() error {
			ran.Store(true)
			loop.Cancel(keepAlive)
			return nil
		})
	}()

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.True(t, ran.Load())
}

func TestLoop_SubmitBeforeRun(t *testing.T) {
	loop := newTestLoop(t)

	var order []string
	_, _ = loop.Defer(func(CallbackID) error {
		order = append(order, "defer")
		return nil
	})
	require.NoError(t, loop.Submit(func() error {
		order = append(order, "submit")
		return nil
	}))

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []string{"submit", "defer"}, order)
}

func TestLoop_SubmitErrorKeepsRemainingTasks(t *testing.T) {
	loop := newTestLoop(t)

	errBoom := errors.New("boom")
	var ran []int
	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Submit(func() error {
			ran = append(ran, i)
			if i == 0 {
				return errBoom
			}
			return nil
		}))
	}

	require.ErrorIs(t, runWithTimeout(t, loop, time.Second), errBoom)
	assert.Equal(t, []int{0}, ran)

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.Equal(t, []int{0, 1, 2}, ran)
}

func TestLoop_Stop(t *testing.T) {
	loop := newTestLoop(t)

	var count int
	id, _ := loop.Repeat(time.Millisecond, func(CallbackID) error {
		count++
		if count == 3 {
			loop.Stop()
		}
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.Equal(t, 3, count)
	assert.True(t, loop.IsEnabled(id))

	// Stop is not sticky
	loop.Stop()
	loop.Cancel(id)
	require.NoError(t, runWithTimeout(t, loop, time.Second))
}

func TestLoop_StopFromAnotherGoroutine(t *testing.T) {
	loop := newTestLoop(t)

	_, _ = loop.Repeat(time.Hour, noop)

	go func() {
		for loop.State() != StateSleeping {
			time.Sleep(time.Millisecond)
		}
		loop.Stop()
	}()

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
}

func TestLoop_ContextCancel(t *testing.T) {
	loop := newTestLoop(t)

	_, _ = loop.Repeat(time.Hour, noop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoop_Close(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	_, _ = loop.Defer(noop)
	require.NoError(t, loop.Close())
	assert.Equal(t, StateTerminated, loop.State())

	assert.ErrorIs(t, loop.Close(), ErrLoopTerminated)
	assert.ErrorIs(t, loop.Run(context.Background()), ErrLoopTerminated)
	_, err = loop.Defer(noop)
	assert.ErrorIs(t, err, ErrLoopTerminated)
	_, err = loop.Delay(time.Second, noop)
	assert.ErrorIs(t, err, ErrLoopTerminated)
	assert.ErrorIs(t, loop.Submit(func() error { return nil }), ErrLoopTerminated)
	assert.ErrorIs(t, loop.Queue(func() error { return nil }), ErrLoopTerminated)
}

func TestLoop_CloseFromCallback(t *testing.T) {
	loop := newTestLoop(t)

	var closeErr error
	_, _ = loop.Defer(func(CallbackID) error {
		closeErr = loop.Close()
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.ErrorIs(t, closeErr, ErrLoopAlreadyRunning)
}

func TestLoop_Now(t *testing.T) {
	clock := newFakeClock()
	loop := newTestLoop(t, WithClock(clock))

	tickTime := clock.Now()
	var inside time.Time
	_, _ = loop.Defer(func(CallbackID) error {
		clock.Advance(time.Minute)
		inside = loop.Now()
		return nil
	})

	require.NoError(t, runWithTimeout(t, loop, time.Second))
	assert.True(t, inside.Equal(tickTime), "expected cached tick time, got %v", inside)
	assert.True(t, loop.Now().Equal(tickTime.Add(time.Minute)))
}

func TestLoop_Name(t *testing.T) {
	named := newTestLoop(t, WithName("worker"))
	assert.Equal(t, "worker", named.Name())

	a := newTestLoop(t)
	b := newTestLoop(t)
	assert.NotEmpty(t, a.Name())
	assert.NotEqual(t, a.Name(), b.Name())
}
