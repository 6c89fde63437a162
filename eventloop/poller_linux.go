//go:build linux

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// fastPoller is the level-triggered epoll backend (Linux).
//
// Only the reactor touches it, and only from the goroutine driving the loop,
// so unlike a shared poller it carries no locks.
type fastPoller struct { // betteralign:ignore
	_        [sizeOfCacheLine]byte     // Cache line padding //nolint:unused
	epfd     int32                     // epoll file descriptor
	_        [sizeOfCacheLine - 4]byte // Pad to cache line //nolint:unused
	eventBuf []unix.EpollEvent         // Preallocated, sized by WithMaxPollEvents
	closed   bool
}

// Init initializes the epoll instance.
func (p *fastPoller) Init(maxEvents int) error {
	if p.closed {
		return errPollerClosed
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)

	if maxEvents <= 0 {
		maxEvents = defaultMaxPollEvents
	}
	p.eventBuf = make([]unix.EpollEvent, maxEvents)

	return nil
}

// Close closes the epoll instance. It is idempotent.
func (p *fastPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

// Update moves the interest set of fd from old to events, adding, modifying
// or deleting the epoll registration as required.
func (p *fastPoller) Update(fd int, old, events IOEvents) error {
	if p.closed {
		return errPollerClosed
	}

	if events == 0 {
		err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return err
	}

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}

	if old == 0 {
		err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev)
		if err == unix.EEXIST {
			err = unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
		}
		return err
	}

	err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
	if err == unix.ENOENT {
		// the fd was closed and reused behind our back
		err = unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev)
	}
	return err
}

// Wait polls for I/O events, calling fn for each one. A negative timeout
// blocks until an event arrives. An interrupted wait reports no events.
// Returns the number of events processed.
func (p *fastPoller) Wait(timeout time.Duration, fn func(fd int, events IOEvents)) (int, error) {
	if p.closed {
		return 0, errPollerClosed
	}

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fn(int(p.eventBuf[i].Fd), epollToEvents(p.eventBuf[i].Events))
	}

	return n, nil
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
