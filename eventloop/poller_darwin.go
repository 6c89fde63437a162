//go:build darwin

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// fastPoller is the level-triggered kqueue backend (Darwin).
//
// Only the reactor touches it, and only from the goroutine driving the loop,
// so it carries no locks.
type fastPoller struct { // betteralign:ignore
	_        [sizeOfCacheLine]byte     // Cache line padding before kq //nolint:unused
	kq       int32                     // kqueue file descriptor
	_        [sizeOfCacheLine - 4]byte // Padding to isolate eventBuf //nolint:unused
	eventBuf []unix.Kevent_t           // Preallocated, sized by WithMaxPollEvents
	closed   bool
}

// Init initializes the kqueue instance.
func (p *fastPoller) Init(maxEvents int) error {
	if p.closed {
		return errPollerClosed
	}

	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)

	if maxEvents <= 0 {
		maxEvents = defaultMaxPollEvents
	}
	p.eventBuf = make([]unix.Kevent_t, maxEvents)

	return nil
}

// Close closes the kqueue instance. It is idempotent.
func (p *fastPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

// Update moves the interest set of fd from old to events. Filters that are
// no longer wanted are deleted (ignoring errors, the fd may be gone), then
// the new ones are added.
func (p *fastPoller) Update(fd int, old, events IOEvents) error {
	if p.closed {
		return errPollerClosed
	}

	if old&^events != 0 {
		delKevents := eventsToKevents(fd, old&^events, unix.EV_DELETE)
		if len(delKevents) > 0 {
			_, _ = unix.Kevent(int(p.kq), delKevents, nil, nil)
		}
	}

	if events&^old != 0 {
		addKevents := eventsToKevents(fd, events&^old, unix.EV_ADD|unix.EV_ENABLE)
		if len(addKevents) > 0 {
			if _, err := unix.Kevent(int(p.kq), addKevents, nil, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

// Wait polls for I/O events, calling fn for each one. A negative timeout
// blocks until an event arrives. An interrupted wait reports no events.
// Returns the number of events processed.
func (p *fastPoller) Wait(timeout time.Duration, fn func(fd int, events IOEvents)) (int, error) {
	if p.closed {
		return 0, errPollerClosed
	}

	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fn(int(p.eventBuf[i].Ident), keventToEvents(&p.eventBuf[i]))
	}

	return n, nil
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

// keventToEvents converts kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	return events
}
