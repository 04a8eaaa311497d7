//go:build linux

package pipeline

import (
	"golang.org/x/sys/unix"
)

// eventfdWaker wakes a blocked poll via an eventfd, the same
// primitive eventloop's wakeup_linux.go uses to break its poller out of a
// blocking wait from another goroutine.
type eventfdWaker struct {
	fd int
}

func newWakerImpl() wakerImpl {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		// eventfd creation failing on linux means we're out of file
		// descriptors; fall back to the portable channel waker rather
		// than propagating an error through a constructor that cannot
		// return one.
		return newChanWaker()
	}
	return &eventfdWaker{fd: fd}
}

func (w *eventfdWaker) Wake() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *eventfdWaker) Wait(done <-chan struct{}) {
	pfd := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := unix.Poll(pfd, 50)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n > 0 {
			drainEventfd(w.fd)
			return
		}
	}
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *eventfdWaker) Close() error {
	return unix.Close(w.fd)
}
