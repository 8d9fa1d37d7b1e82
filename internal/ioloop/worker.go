package ioloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/pkg/transport"
)

// Listener is one bound, listening socket a worker polls for incoming
// connections, tagged with the protocol new connections accepted from it
// should speak.
type Listener struct {
	Fd    int
	Proto transport.ProtoTag
}

// AcceptHandler is invoked on a worker's own goroutine for every new
// connection accepted from a registered Listener. Implementations
// typically wrap fd in a *transport.Connection and hand it to a Pool for
// assignment (possibly to a different worker).
type AcceptHandler func(fd int, proto transport.ProtoTag, peerAddr string)

// ReadHandler receives the decoded events produced by one ReadReady call,
// e.g. routing a decoded SIS UNIDATA_REQUEST or DTS Frame to the bridge.
type ReadHandler func(c *transport.Connection, events []any)

// Worker drives one epoll instance over the connections and listeners
// assigned to it. A connection is pinned to exactly one worker for its
// lifetime; per-connection state is therefore single-threaded once
// assigned.
type Worker struct {
	id  int
	ep  *epollSet
	log *slog.Logger

	onRead ReadHandler

	mu         sync.Mutex
	listeners  map[int]acceptEntry
	conns      map[int]*transport.Connection
	writeArmed map[int]bool
	timers     *timerSet

	wakeFd int // eventfd written by Stop to unblock a pending epoll_wait

	wg sync.WaitGroup
}

type acceptEntry struct {
	listener *Listener
	handler  AcceptHandler
}

// NewWorker constructs a Worker identified by id (used only in logging).
// onRead is called with every event ReadReady decodes off any connection
// this worker owns.
func NewWorker(id int, log *slog.Logger, onRead ReadHandler) (*Worker, error) {
	ep, err := newEpollSet()
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		ep.close()
		return nil, err
	}
	if err := ep.add(wakeFd, unix.EPOLLIN); err != nil {
		ep.close()
		unix.Close(wakeFd)
		return nil, err
	}
	return &Worker{
		id:         id,
		ep:         ep,
		log:        log,
		onRead:     onRead,
		listeners:  map[int]acceptEntry{},
		conns:      map[int]*transport.Connection{},
		writeArmed: map[int]bool{},
		timers:     newTimerSet(),
		wakeFd:     wakeFd,
	}, nil
}

// RegisterListener arms l for EPOLLIN so incoming connections are accepted
// on this worker's goroutine and handed to handler.
func (w *Worker) RegisterListener(l *Listener, handler AcceptHandler) error {
	w.mu.Lock()
	w.listeners[l.Fd] = acceptEntry{listener: l, handler: handler}
	w.mu.Unlock()
	return w.ep.add(l.Fd, unix.EPOLLIN)
}

// AssignConnection pins c to this worker, arming EPOLLIN immediately.
// timer may be nil if c's protocol has no timer-driven retransmission.
func (w *Worker) AssignConnection(c *transport.Connection, timer TimerSource) error {
	w.mu.Lock()
	w.conns[c.Fd] = c
	if timer != nil {
		w.timers.register(c.Fd, timer)
	}
	w.mu.Unlock()
	return w.ep.add(c.Fd, unix.EPOLLIN)
}

// RemoveConnection unpins c from this worker. It does not close c.
func (w *Worker) RemoveConnection(c *transport.Connection) {
	w.mu.Lock()
	delete(w.conns, c.Fd)
	delete(w.writeArmed, c.Fd)
	w.timers.unregister(c.Fd)
	w.mu.Unlock()
	w.ep.remove(c.Fd)
}

// ArmWrite enables EPOLLOUT on fd, used once data is enqueued on a
// previously-idle connection's write queue.
func (w *Worker) ArmWrite(fd int) error {
	w.mu.Lock()
	armed := w.writeArmed[fd]
	w.writeArmed[fd] = true
	w.mu.Unlock()
	if armed {
		return nil
	}
	return w.ep.modify(fd, unix.EPOLLIN|unix.EPOLLOUT)
}

// disarmWrite removes EPOLLOUT once a connection's write queue drains
// fully, so the worker doesn't spin on a writable-but-idle socket.
func (w *Worker) disarmWrite(fd int) {
	w.mu.Lock()
	armed := w.writeArmed[fd]
	w.writeArmed[fd] = false
	w.mu.Unlock()
	if armed {
		w.ep.modify(fd, unix.EPOLLIN)
	}
}

// Run executes the worker's readiness loop until ctx is cancelled. Call
// this inside its own goroutine; Stop (via context cancellation, or a
// direct wake) unblocks a pending epoll_wait promptly.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	events := make([]unix.EpollEvent, 64)
	for {
		if ctx.Err() != nil {
			return
		}
		timeout := w.timers.nextTimeoutMs(time.Now())
		ready, err := w.ep.wait(events, timeout)
		if err != nil {
			w.logError("epoll_wait failed", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		w.timers.fireExpired(time.Now())

		for _, ev := range ready {
			fd := int(ev.Fd)
			if fd == w.wakeFd {
				var buf [8]byte
				unix.Read(w.wakeFd, buf[:])
				continue
			}
			w.dispatch(fd, ev.Events)
		}
	}
}

func (w *Worker) dispatch(fd int, events uint32) {
	w.mu.Lock()
	entry, isListener := w.listeners[fd]
	c, isConn := w.conns[fd]
	w.mu.Unlock()

	switch {
	case isListener:
		w.acceptLoop(entry)
	case isConn:
		w.dispatchConn(c, events)
	default:
		// Stale event for an fd already removed from both maps; drop it.
	}
}

func (w *Worker) acceptLoop(entry acceptEntry) {
	for {
		fd, sa, err := unix.Accept4(entry.listener.Fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				w.logError("accept failed", err)
			}
			return
		}
		entry.handler(fd, entry.listener.Proto, peerAddrString(sa))
	}
}

func (w *Worker) dispatchConn(c *transport.Connection, events uint32) {
	if events&unix.EPOLLIN != 0 {
		result := transport.ReadReady(c)
		if len(result.Events) > 0 && w.onRead != nil {
			w.onRead(c, result.Events)
		}
		if result.Closed {
			w.closeAndRemove(c)
			return
		}
	}
	if events&unix.EPOLLOUT != 0 {
		result := transport.WriteReady(c)
		if result.Closed {
			w.closeAndRemove(c)
			return
		}
		if !result.Paused {
			w.disarmWrite(c.Fd)
		}
	}
}

func (w *Worker) closeAndRemove(c *transport.Connection) {
	w.RemoveConnection(c)
	if err := c.Close(); err != nil {
		w.logError("error closing connection", err)
	}
}

// Stop unblocks a pending epoll_wait so Run notices ctx cancellation
// promptly instead of waiting out the current timer deadline.
func (w *Worker) Stop() {
	var one [8]byte
	one[0] = 1
	unix.Write(w.wakeFd, one[:])
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) logError(msg string, err error) {
	if w.log != nil {
		w.log.Error(msg, "worker", w.id, "err", err)
	}
}

func peerAddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return formatInet4(a)
	case *unix.SockaddrInet6:
		return formatInet6(a)
	default:
		return "unknown"
	}
}
