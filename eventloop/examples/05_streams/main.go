//go:build linux || darwin

// Example: Streams
//
// This example demonstrates readiness-based I/O:
// - A writable watcher feeding a non-blocking pipe
// - A readable watcher draining it, until end of file
//
// Run with: go run ./eventloop/examples/05_streams/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joeycumines/go-cooploop/eventloop"
	"golang.org/x/sys/unix"
)

func main() {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		panic(err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			panic(err)
		}
	}
	r, w := eventloop.FD(fds[0]), eventloop.FD(fds[1])
	defer unix.Close(fds[0])

	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	lines := []string{"alpha\n", "beta\n", "gamma\n"}
	loop.OnWritable(w, func(id eventloop.CallbackID, h eventloop.Handle) error {
		if len(lines) == 0 {
			loop.Cancel(id)
			fmt.Println("writer: done, closing")
			return unix.Close(int(h.Fd()))
		}
		n, err := unix.Write(int(h.Fd()), []byte(lines[0]))
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("writer: wrote %d bytes\n", n)
		lines = lines[1:]
		return nil
	})

	total := 0
	loop.OnReadable(r, func(id eventloop.CallbackID, h eventloop.Handle) error {
		buf := make([]byte, 4)
		n, err := unix.Read(int(h.Fd()), buf)
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("reader: end of file after %d bytes\n", total)
			loop.Cancel(id)
			return nil
		}
		total += n
		fmt.Printf("reader: %q\n", buf[:n])
		return nil
	})

	if err := loop.Run(context.Background()); err != nil {
		fmt.Printf("Run failed: %v\n", err)
		os.Exit(1)
	}
}
