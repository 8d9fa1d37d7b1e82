// Package ioloop implements the readiness-driven event loop that drives
// every connection's read and write engines: a small fixed-size pool of
// worker threads, each running its own epoll instance cooperatively over
// the connections pinned to it, waking at the nearer of the next readiness
// event or the next retransmit deadline.
package ioloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollSet wraps one epoll instance: the file descriptor interest set a
// single worker polls.
type epollSet struct {
	fd int
}

func newEpollSet() (*epollSet, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ioloop: epoll_create1: %w", err)
	}
	return &epollSet{fd: fd}, nil
}

// add registers fd for events, tagging the event with fd itself so Wait can
// report which descriptor became ready without a reverse lookup.
func (e *epollSet) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// modify changes the interest set for an already-registered fd, the path
// used to arm/disarm EPOLLOUT once a connection's write queue drains.
func (e *epollSet) modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// remove drops fd from the interest set. Safe to call on an fd the kernel
// has already forgotten (e.g. because the fd was closed) — the resulting
// ENOENT/EBADF is not an error a caller needs to act on.
func (e *epollSet) remove(fd int) {
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until an event arrives or timeoutMs elapses (-1 blocks
// indefinitely), returning the ready events.
func (e *epollSet) wait(events []unix.EpollEvent, timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(e.fd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("ioloop: epoll_wait: %w", err)
	}
	return events[:n], nil
}

func (e *epollSet) close() error {
	return unix.Close(e.fd)
}
