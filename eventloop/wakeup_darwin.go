// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package eventloop

import (
	"golang.org/x/sys/unix"
)

// Darwin has no eventfd: the wake fd is a self-pipe, always created
// non-blocking and close-on-exec, so the flags are ignored.
const (
	efdCloexec  = unix.O_CLOEXEC
	efdNonblock = unix.O_NONBLOCK
)

// createWakeFd returns the read and write ends of a self-pipe.
func createWakeFd(_ uint, _ int) (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}
