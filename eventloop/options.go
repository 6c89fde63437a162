// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/trickstertwo/xclock"
)

const (
	// defaultMaxPollEvents is the size of the poller's event buffer.
	defaultMaxPollEvents = 256

	// defaultSlowCallbackThreshold is the callback duration above which a
	// warning is logged.
	defaultSlowCallbackThreshold = 100 * time.Millisecond
)

// Clock is the loop's time source. It must be monotonic.
type Clock interface {
	Now() time.Time
}

// ErrorHandler receives callback failures, when installed via
// WithErrorHandler. Returning nil absorbs the failure and the loop continues;
// returning an error stops Run, which returns that error.
type ErrorHandler func(err error) error

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger                *logiface.Logger[logiface.Event]
	clock                 Clock
	errorHandler          ErrorHandler
	name                  string
	slowCallbackThreshold time.Duration
	maxPollEvents         int
	metricsEnabled        bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger to the loop. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock sets the time source used for timers and the cached tick time.
// Defaults to xclock.Default().
func WithClock(clock Clock) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if clock == nil {
			return &TypeError{Message: "eventloop: nil clock"}
		}
		opts.clock = clock
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
// This adds a clock read and an estimator update per callback.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithErrorHandler installs a handler for callback failures. Without one,
// the first failure stops Run, which returns it.
func WithErrorHandler(handler ErrorHandler) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.errorHandler = handler
		return nil
	}}
}

// WithSlowCallbackThreshold sets the duration above which a callback is
// reported, at warning level, as slow. Zero disables the check.
func WithSlowCallbackThreshold(threshold time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if threshold < 0 {
			return &RangeError{Message: "eventloop: negative slow callback threshold"}
		}
		opts.slowCallbackThreshold = threshold
		return nil
	}}
}

// WithMaxPollEvents sets the maximum number of kernel events retrieved per
// poll. Further ready events are picked up by the next poll.
func WithMaxPollEvents(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return &RangeError{Message: "eventloop: max poll events must be positive"}
		}
		opts.maxPollEvents = n
		return nil
	}}
}

// WithName sets the loop name attached to its log events. Defaults to a
// random UUID.
func WithName(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.name = name
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		slowCallbackThreshold: defaultSlowCallbackThreshold,
		maxPollEvents:         defaultMaxPollEvents,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.clock == nil {
		cfg.clock = xclock.Default()
	}
	return cfg, nil
}
