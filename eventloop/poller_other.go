//go:build !linux && !darwin

package eventloop

import "time"

// fastPoller is unavailable on this platform; New fails with
// ErrUnsupportedPlatform.
type fastPoller struct{}

func (p *fastPoller) Init(maxEvents int) error { return ErrUnsupportedPlatform }

func (p *fastPoller) Close() error { return nil }

func (p *fastPoller) Update(fd int, old, events IOEvents) error { return ErrUnsupportedPlatform }

func (p *fastPoller) Wait(timeout time.Duration, fn func(fd int, events IOEvents)) (int, error) {
	return 0, ErrUnsupportedPlatform
}
