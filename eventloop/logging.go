// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// slowCallbackRates bounds the slow callback warnings logged, per kind.
var slowCallbackRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

func newSlowCallbackLimiter() *catrate.Limiter {
	return catrate.NewLimiter(slowCallbackRates)
}

// All logging helpers are safe to call with a nil logger.

func (l *Loop) logRunStart() {
	l.logger.Debug().
		Str(`loop`, l.name).
		Int(`callbacks`, l.registry.len()).
		Log(`eventloop: run started`)
}

func (l *Loop) logRunStop(err error) {
	b := l.logger.Debug()
	if err != nil {
		b = b.Err(err)
	}
	b.Str(`loop`, l.name).
		Uint64(`ticks`, l.tickCount).
		Int(`callbacks`, l.registry.len()).
		Log(`eventloop: run stopped`)
}

func (l *Loop) logCallbackFailure(err error, handled bool) {
	l.logger.Debug().
		Err(err).
		Str(`loop`, l.name).
		Bool(`handled`, handled).
		Log(`eventloop: callback failed`)
}

// logSlowCallback reports a callback that ran for longer than the
// configured threshold, rate limited per kind.
func (l *Loop) logSlowCallback(cb *callback, d time.Duration) {
	b := l.logger.Warning()
	if !b.Enabled() {
		return
	}
	if _, ok := l.slowLimiter.Allow(cb.kind); !ok {
		b.Release()
		return
	}
	b.Str(`loop`, l.name).
		Uint64(`id`, uint64(cb.id)).
		Stringer(`kind`, cb.kind).
		Dur(`duration`, d).
		Dur(`threshold`, l.slowThreshold).
		Log(`eventloop: slow callback`)
}

func (l *Loop) logPollError(err error) {
	l.logger.Err().
		Err(err).
		Str(`loop`, l.name).
		Log(`eventloop: poll failed`)
}

func (l *Loop) logCloseError(err error) {
	l.logger.Err().
		Err(err).
		Str(`loop`, l.name).
		Log(`eventloop: close failed`)
}
