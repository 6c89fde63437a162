// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"encoding/binary"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-cooploop/internal/goroutineid"
	"github.com/joeycumines/logiface"
)

// Loop is a single-threaded, cooperative event loop.
//
// Each iteration ("tick") runs, in order: tasks from Submit, the batch of
// Defer callbacks present at tick start, every due Delay and Repeat timer,
// then polls for I/O (blocking only when nothing else is pending) and runs
// the ready readable and writable watchers, followed by signal watchers.
// Microtasks (see Queue) run after each callback.
//
// Run returns once no enabled, referenced callbacks remain. The loop may be
// run again afterward.
//
// Thread Safety: apart from Submit, Stop, State and Metrics, methods must be
// called from the goroutine running the loop (i.e. from callbacks), or while
// the loop is not running.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	state *FastState

	registry *registry
	timers   timerQueue
	reactor  reactor
	signals  signalSet
	ingress  ingress

	// defers holds *callback, in registration order
	defers *queue.Queue
	// microtasks holds func() error
	microtasks *queue.Queue

	clock        Clock
	logger       *logiface.Logger[logiface.Event]
	errorHandler ErrorHandler
	metrics      *metrics
	slowLimiter  *catrate.Limiter

	name string

	// now is the time cached at the start of the current tick, or when Run
	// last returned
	now time.Time

	// per-tick scratch
	dueBuf     []*timerEntry
	ingressBuf []func() error
	ioBuf      []*callback

	slowThreshold time.Duration
	tickCount     uint64

	loopGoroutineID atomic.Uint64
	stopRequested   atomic.Bool
	wakePending     atomic.Bool

	// wakeMu guards the wake fds against Close
	wakeMu      sync.RWMutex
	wakeFD      int
	wakeWriteFD int
	wakeClosed  bool
}

// New creates a new event loop, ready to run.
func New(opts ...LoopOption) (*Loop, error) {
	options, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFD, wakeWriteFD, err := createWakeFd(0, efdCloexec|efdNonblock)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		state:         NewFastState(),
		registry:      newRegistry(),
		defers:        queue.New(),
		microtasks:    queue.New(),
		clock:         options.clock,
		logger:        options.logger,
		errorHandler:  options.errorHandler,
		slowThreshold: options.slowCallbackThreshold,
		name:          options.name,
		wakeFD:        wakeFD,
		wakeWriteFD:   wakeWriteFD,
	}
	if l.name == `` {
		l.name = uuid.NewString()
	}
	if options.metricsEnabled {
		l.metrics = newMetrics()
	}
	if l.slowThreshold > 0 {
		l.slowLimiter = newSlowCallbackLimiter()
	}
	l.now = l.clock.Now()

	if err := l.reactor.init(wakeFD, options.maxPollEvents, l.drainWakeUpPipe); err != nil {
		_ = l.closeWakeFDs()
		return nil, err
	}
	l.signals.init(l.wakeIfSleeping)

	return l, nil
}

// Name returns the loop name, as attached to its log events.
func (l *Loop) Name() string {
	return l.name
}

// State returns the current lifecycle state. Safe for concurrent use.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Now returns the time cached at the start of the current tick, when called
// from the goroutine running the loop. Any other caller, including a fiber
// body running on behalf of a loop callback, gets the clock's current time.
func (l *Loop) Now() time.Time {
	if l.isLoopThread() {
		return l.now
	}
	return l.clock.Now()
}

// Metrics returns a snapshot of the loop statistics, or the zero value if
// metrics are not enabled. Safe for concurrent use.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	return l.metrics.snapshot()
}

// Defer schedules fn to run once, in the next tick's defer batch. Defers
// registered while a batch is running wait for the following tick.
func (l *Loop) Defer(fn Callback) (CallbackID, error) {
	if err := l.checkRegister(fn == nil); err != nil {
		return 0, err
	}
	cb := &callback{kind: KindDefer, fn: fn}
	id := l.registry.add(cb)
	l.pushDefer(cb)
	return id, nil
}

// Delay schedules fn to run once, after d has elapsed.
func (l *Loop) Delay(d time.Duration, fn Callback) (CallbackID, error) {
	if err := l.checkRegister(fn == nil); err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, &RangeError{Message: "eventloop: negative delay"}
	}
	cb := &callback{kind: KindDelay, fn: fn, interval: d}
	id := l.registry.add(cb)
	l.timers.schedule(cb, l.clock.Now().Add(d))
	return id, nil
}

// Repeat schedules fn to run every interval, until canceled. The next run is
// scheduled after each run completes, relative to the tick it ran in.
func (l *Loop) Repeat(interval time.Duration, fn Callback) (CallbackID, error) {
	if err := l.checkRegister(fn == nil); err != nil {
		return 0, err
	}
	if interval < 0 {
		return 0, &RangeError{Message: "eventloop: negative interval"}
	}
	cb := &callback{kind: KindRepeat, fn: fn, interval: interval}
	id := l.registry.add(cb)
	l.timers.schedule(cb, l.clock.Now().Add(interval))
	return id, nil
}

// OnReadable runs fn on every tick where h is readable (or has hung up or
// failed), until canceled.
func (l *Loop) OnReadable(h Handle, fn IOCallback) (CallbackID, error) {
	return l.watch(KindReadable, h, fn)
}

// OnWritable runs fn on every tick where h is writable (or has hung up or
// failed), until canceled.
func (l *Loop) OnWritable(h Handle, fn IOCallback) (CallbackID, error) {
	return l.watch(KindWritable, h, fn)
}

func (l *Loop) watch(kind Kind, h Handle, fn IOCallback) (CallbackID, error) {
	if err := l.checkRegister(fn == nil); err != nil {
		return 0, err
	}
	if h == nil {
		return 0, &TypeError{Message: "eventloop: nil handle"}
	}
	cb := &callback{kind: kind, ioFn: fn, handle: h, fd: int(h.Fd())}
	id := l.registry.add(cb)
	if err := l.reactor.watch(cb); err != nil {
		l.registry.remove(cb)
		return 0, err
	}
	return id, nil
}

// OnSignal runs fn for each delivery of sig to the process, until canceled.
// While any watcher for sig exists, the signal is not delivered to its
// default handler.
func (l *Loop) OnSignal(sig os.Signal, fn SignalCallback) (CallbackID, error) {
	if err := l.checkRegister(fn == nil); err != nil {
		return 0, err
	}
	if sig == nil {
		return 0, &TypeError{Message: "eventloop: nil signal"}
	}
	cb := &callback{kind: KindSignal, sigFn: fn, signal: sig}
	id := l.registry.add(cb)
	l.signals.watch(cb)
	return id, nil
}

// Queue schedules a microtask, to run as soon as the current callback
// returns, before any other callback. Microtasks queued by microtasks run in
// the same drain. Called outside of a callback, the microtask runs at the
// start of the next Run, ahead of any tick.
func (l *Loop) Queue(fn func() error) error {
	if err := l.checkRegister(fn == nil); err != nil {
		return err
	}
	l.microtasks.Add(fn)
	return nil
}

// Submit schedules fn to run on the loop goroutine, at the start of the next
// tick. It is safe to call from any goroutine, and wakes a blocked loop.
// Tasks submitted while the loop is not running wait for the next Run.
func (l *Loop) Submit(fn func() error) error {
	if fn == nil {
		return &TypeError{Message: "eventloop: nil callback"}
	}
	if l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	l.ingress.push(fn)
	l.wakeIfSleeping()
	return nil
}

// Cancel permanently removes a callback. The callback will not be invoked
// again, even if it was already found ready in the current tick. Unknown or
// already canceled ids are ignored.
func (l *Loop) Cancel(id CallbackID) {
	cb := l.registry.get(id)
	if cb == nil {
		return
	}
	l.registry.remove(cb)
	switch cb.kind {
	case KindDelay, KindRepeat:
		l.timers.remove(cb)
	case KindReadable, KindWritable:
		l.reactor.unwatch(cb)
	case KindSignal:
		l.signals.unwatch(cb)
	}
}

// Enable resumes a disabled callback. Timers restart their full delay or
// interval from now. Enabling an enabled callback does nothing.
func (l *Loop) Enable(id CallbackID) error {
	cb := l.registry.get(id)
	if cb == nil {
		return ErrInvalidCallback
	}
	if !l.registry.setEnabled(cb, true) {
		return nil
	}
	switch cb.kind {
	case KindDefer:
		if !cb.queued {
			l.pushDefer(cb)
		}
	case KindDelay, KindRepeat:
		l.timers.schedule(cb, l.clock.Now().Add(cb.interval))
	case KindReadable, KindWritable:
		if err := l.reactor.refresh(cb); err != nil {
			l.registry.setEnabled(cb, false)
			return err
		}
	}
	return nil
}

// Disable suspends a callback, without canceling it. A disabled callback
// does not keep Run alive.
func (l *Loop) Disable(id CallbackID) error {
	cb := l.registry.get(id)
	if cb == nil {
		return ErrInvalidCallback
	}
	if !l.registry.setEnabled(cb, false) {
		return nil
	}
	switch cb.kind {
	case KindDelay, KindRepeat:
		l.timers.remove(cb)
	case KindReadable, KindWritable:
		_ = l.reactor.refresh(cb)
	}
	return nil
}

// Reference marks a callback as keeping Run alive, which is the default.
func (l *Loop) Reference(id CallbackID) error {
	cb := l.registry.get(id)
	if cb == nil {
		return ErrInvalidCallback
	}
	l.registry.setReferenced(cb, true)
	return nil
}

// Unreference marks a callback as not keeping Run alive. It still runs
// whenever the loop does.
func (l *Loop) Unreference(id CallbackID) error {
	cb := l.registry.get(id)
	if cb == nil {
		return ErrInvalidCallback
	}
	l.registry.setReferenced(cb, false)
	return nil
}

// Identifiers returns the ids of every registered callback, in
// registration order.
func (l *Loop) Identifiers() []CallbackID {
	return l.registry.ids()
}

// Kind returns the kind of a registered callback.
func (l *Loop) Kind(id CallbackID) (Kind, error) {
	cb := l.registry.get(id)
	if cb == nil {
		return 0, ErrInvalidCallback
	}
	return cb.kind, nil
}

// IsEnabled reports whether id is registered and enabled.
func (l *Loop) IsEnabled(id CallbackID) bool {
	cb := l.registry.get(id)
	return cb != nil && cb.enabled
}

// IsReferenced reports whether id is registered and referenced.
func (l *Loop) IsReferenced(id CallbackID) bool {
	cb := l.registry.get(id)
	return cb != nil && cb.referenced
}

// Info summarizes the registered callbacks.
func (l *Loop) Info() Info {
	return l.registry.info
}

// Run processes ticks until no enabled, referenced callbacks remain, then
// returns nil.
//
// Run returns early with the first callback failure (see WithErrorHandler),
// with nil after Stop, or with ctx.Err() once ctx is done. Callbacks that
// were not reached remain registered, and run on the next Run.
func (l *Loop) Run(ctx context.Context) (err error) {
	if l.isLoopThread() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.IsTerminal() {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.loopGoroutineID.Store(goroutineid.Get())
	defer func() {
		l.now = l.clock.Now()
		l.stopRequested.Store(false)
		l.loopGoroutineID.Store(0)
		l.state.Store(StateAwake)
		l.logRunStop(err)
	}()

	l.logRunStart()

	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-done:
				l.wake()
			case <-stop:
			}
		}()
		defer wg.Wait()
		defer close(stop)
	}

	// left over from a previous Run, or queued before it
	if err := l.drainMicrotasks(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.stopRequested.Load() {
			return nil
		}
		l.now = l.clock.Now()
		if !l.hasWork() {
			return nil
		}
		if err := l.tick(ctx); err != nil {
			return err
		}
	}
}

// Stop requests the running loop to return nil once the current tick
// completes. Safe for concurrent use. Does nothing if the loop is not running.
func (l *Loop) Stop() {
	if !l.state.IsRunning() {
		return
	}
	l.stopRequested.Store(true)
	l.wakeIfSleeping()
}

// Close releases the loop's kernel resources. The loop must not be running.
// Pending callbacks are discarded, and every later operation fails with
// ErrLoopTerminated.
func (l *Loop) Close() error {
	if !l.state.TryTransition(StateAwake, StateTerminated) {
		if l.state.IsTerminal() {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.signals.close()
	err := l.reactor.close()
	if e := l.closeWakeFDs(); err == nil {
		err = e
	}
	if err != nil {
		l.logCloseError(err)
	}
	return err
}

func (l *Loop) checkRegister(nilFn bool) error {
	if nilFn {
		return &TypeError{Message: "eventloop: nil callback"}
	}
	if l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	return nil
}

func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && id == goroutineid.Get()
}

func (l *Loop) pushDefer(cb *callback) {
	cb.queued = true
	l.defers.Add(cb)
}

// hasWork reports whether Run should keep going.
func (l *Loop) hasWork() bool {
	return l.registry.alive() ||
		!l.ingress.empty() ||
		l.microtasks.Length() != 0
}

// tick runs a single loop iteration.
func (l *Loop) tick(ctx context.Context) error {
	l.tickCount++
	if l.metrics != nil {
		l.metrics.recordTick()
	}

	if err := l.runIngress(); err != nil {
		return err
	}

	if err := l.runDefers(); err != nil {
		return err
	}

	l.now = l.clock.Now()
	if err := l.runTimers(); err != nil {
		return err
	}

	ready, err := l.poll(ctx)
	if err != nil {
		l.logPollError(err)
		return err
	}

	l.ioBuf = append(l.ioBuf[:0], ready...)
	if err := l.runWatchers(); err != nil {
		return err
	}

	return l.runSignals()
}

func (l *Loop) runIngress() error {
	if l.ingress.empty() {
		return nil
	}
	tasks := l.ingress.popAll(l.ingressBuf[:0])
	defer func() {
		clear(tasks)
		l.ingressBuf = tasks[:0]
	}()
	for i, task := range tasks {
		if err := l.runTask(task); err != nil {
			l.ingress.unshift(tasks[i+1:])
			return err
		}
	}
	return nil
}

// runDefers drains the defer batch present at the time of the call.
// Disabled defers are dropped from the queue, to be re-queued by Enable.
func (l *Loop) runDefers() error {
	for n := l.defers.Length(); n > 0; n-- {
		cb := l.defers.Remove().(*callback)
		cb.queued = false
		if cb.canceled || !cb.enabled {
			continue
		}
		l.registry.remove(cb)
		if err := l.invoke(cb, func() error { return cb.fn(cb.id) }); err != nil {
			return err
		}
	}
	return nil
}

// runTimers fires every timer due as of the tick time. The due set is
// popped before any callback runs, so Repeat callbacks (rescheduled after
// they run) and timers registered by callbacks wait for a later tick.
func (l *Loop) runTimers() error {
	due := l.timers.popDue(l.now, l.dueBuf[:0])
	defer func() {
		clear(due)
		l.dueBuf = due[:0]
	}()

	for i, e := range due {
		cb := e.cb
		if cb.pending != e || cb.canceled || !cb.enabled {
			// stale: canceled, disabled or rescheduled since it was popped
			continue
		}
		cb.pending = nil

		var err error
		if cb.kind == KindDelay {
			l.registry.remove(cb)
			err = l.invoke(cb, func() error { return cb.fn(cb.id) })
		} else {
			err = l.invoke(cb, func() error { return cb.fn(cb.id) })
			if !cb.canceled && cb.enabled && cb.pending == nil {
				l.timers.schedule(cb, l.now.Add(cb.interval))
			}
		}

		if err != nil {
			for _, rest := range due[i+1:] {
				l.timers.reinsert(rest)
			}
			return err
		}
	}

	return nil
}

func (l *Loop) runWatchers() error {
	defer clear(l.ioBuf)
	for _, cb := range l.ioBuf {
		if cb.canceled || !cb.enabled {
			continue
		}
		if err := l.invoke(cb, func() error { return cb.ioFn(cb.id, cb.handle) }); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) runSignals() error {
	for _, d := range l.signals.take() {
		cb, sig := d.cb, d.sig
		if cb.canceled || !cb.enabled {
			continue
		}
		if err := l.invoke(cb, func() error { return cb.sigFn(cb.id, sig) }); err != nil {
			return err
		}
	}
	return nil
}

// pollTimeout returns zero when work is already pending, else the time until
// the next timer, else -1 (block) if referenced work remains.
func (l *Loop) pollTimeout(ctx context.Context) time.Duration {
	if l.defers.Length() != 0 ||
		l.microtasks.Length() != 0 ||
		!l.ingress.empty() ||
		l.signals.hasPending() ||
		l.stopRequested.Load() ||
		ctx.Err() != nil {
		return 0
	}
	if d, ok := l.timers.nextDeadline(l.clock.Now()); ok {
		return d
	}
	if l.registry.alive() {
		return -1
	}
	return 0
}

func (l *Loop) poll(ctx context.Context) ([]*callback, error) {
	timeout := l.pollTimeout(ctx)
	if timeout == 0 || !l.state.TryTransition(StateRunning, StateSleeping) {
		return l.reactor.poll(0)
	}

	// Submit and Stop only wake a sleeping loop: check again, now that
	// they can observe StateSleeping.
	if !l.ingress.empty() || l.signals.hasPending() || l.stopRequested.Load() {
		timeout = 0
	}

	ready, err := l.reactor.poll(timeout)
	l.state.TryTransition(StateSleeping, StateRunning)
	return ready, err
}

// runTask runs an ingress task, followed by any microtasks it queued.
func (l *Loop) runTask(task func() error) error {
	if err := safeExecute(task); err != nil {
		if err = l.handleFailure(err); err != nil {
			return err
		}
	}
	return l.drainMicrotasks()
}

// invoke runs a callback, followed by any microtasks it queued.
func (l *Loop) invoke(cb *callback, fn func() error) error {
	var start time.Time
	timed := l.metrics != nil || l.slowLimiter != nil
	if timed {
		start = l.clock.Now()
	}

	err := safeExecute(fn)

	if timed {
		d := l.clock.Now().Sub(start)
		if l.metrics != nil {
			l.metrics.recordCallback(cb.kind, d, err != nil)
		}
		if l.slowLimiter != nil && d > l.slowThreshold {
			l.logSlowCallback(cb, d)
		}
	}

	if err != nil {
		if err = l.handleFailure(&CallbackError{Cause: err, ID: cb.id, Kind: cb.kind}); err != nil {
			return err
		}
	}

	return l.drainMicrotasks()
}

func (l *Loop) drainMicrotasks() error {
	for l.microtasks.Length() != 0 {
		fn := l.microtasks.Remove().(func() error)

		var start time.Time
		if l.metrics != nil {
			start = l.clock.Now()
		}

		err := safeExecute(fn)

		if l.metrics != nil {
			l.metrics.recordMicrotask(l.clock.Now().Sub(start), err != nil)
		}

		if err != nil {
			if err = l.handleFailure(err); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleFailure returns the error Run should return, or nil if the error
// handler absorbed the failure.
func (l *Loop) handleFailure(err error) error {
	if l.errorHandler == nil {
		l.logCallbackFailure(err, false)
		return err
	}
	l.logCallbackFailure(err, true)
	return l.errorHandler(err)
}

// safeExecute runs fn, converting a panic into a *PanicError.
func safeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// wakeIfSleeping wakes the loop if it is blocked in poll.
func (l *Loop) wakeIfSleeping() {
	if l.state.Load() == StateSleeping {
		l.wake()
	}
}

// wake makes the current (or next) poll return immediately.
// Deduplicated: writes at most once per drain.
func (l *Loop) wake() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}

	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.wakeClosed {
		return
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = writeFD(l.wakeWriteFD, buf[:])
}

// drainWakeUpPipe empties the wake fd, called by the reactor when it polls
// readable.
func (l *Loop) drainWakeUpPipe() {
	var buf [64]byte
	for {
		n, err := readFD(l.wakeFD, buf[:])
		if err != nil || n <= 0 {
			break
		}
	}
	l.wakePending.Store(false)
}

func (l *Loop) closeWakeFDs() error {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeClosed {
		return nil
	}
	l.wakeClosed = true
	err := closeFD(l.wakeFD)
	if l.wakeWriteFD != l.wakeFD {
		if e := closeFD(l.wakeWriteFD); err == nil {
			err = e
		}
	}
	return err
}
