package transport

import (
	"log/slog"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

// Connection is a raw non-blocking socket plus everything the read/write
// engines need to drive it: the protocol it speaks, its current
// in-progress read PDU, its outbound queues, and running counters. A
// Connection is pinned to one worker for its lifetime: after
// construction, only that worker's read/write engine invocations touch
// cur/toWrite/inWrite without the mutex, except for cross-worker enqueue
// via Enqueue.
//
// The fd is a raw file descriptor rather than a net.Conn so the read and
// write engines can observe EAGAIN/EINTR directly, matching the
// readiness-driven, non-blocking I/O model the event loop assumes.
type Connection struct {
	ID       xid.ID
	Fd       int
	Proto    ProtoTag
	PeerAddr string

	cache *pdu.WorkerCache
	log   *slog.Logger

	mu      sync.Mutex
	cur     *pdu.PDU
	toWrite []*outPDU // FIFO of complete PDUs awaiting their first write
	inWrite []*outPDU // LIFO of PDUs with bytes partially on the wire

	BytesIn, BytesOut uint64
	PDUsIn, PDUsOut   uint64

	closed bool
}

// NewConnection wraps fd for proto, drawing PDUs from cache. fd must
// already be set non-blocking (unix.SetNonblock).
func NewConnection(fd int, proto ProtoTag, peerAddr string, cache *pdu.WorkerCache, log *slog.Logger) *Connection {
	return &Connection{
		ID:       xid.New(),
		Fd:       fd,
		Proto:    proto,
		PeerAddr: peerAddr,
		cache:    cache,
		log:      log,
	}
}

// outPDU pairs a fully-built outbound PDU with how much of it has already
// been written, the per-PDU iov cursor the write engine rewinds on a
// partial vectored write.
type outPDU struct {
	p       *pdu.PDU
	written int
}

// bytes returns the unwritten remainder of the PDU's wire representation.
func (o *outPDU) bytes() []byte { return o.p.Bytes()[o.written:] }

// Enqueue appends a fully-built outbound PDU to the to_write queue. Safe
// to call from any worker; dequeue (in the write engine) happens only on
// the owning worker.
func (c *Connection) Enqueue(p *pdu.PDU) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toWrite = append(c.toWrite, &outPDU{p: p})
}

// EnqueueBytes wraps raw wire bytes (as built by an Encode* function) in a
// pool PDU and enqueues it, the path used by the bridge and protocol
// responders that only have `[]byte` to send.
func (c *Connection) EnqueueBytes(wire []byte) {
	p := c.cache.Get()
	n := copy(p.Avail(), wire)
	p.Advance(n)
	p.SetDeclaredSize(n)
	c.Enqueue(p)
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases every queued and in-flight PDU back to the pool, marks
// the connection closed, and closes the underlying fd. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, o := range c.toWrite {
		c.cache.Release(o.p)
	}
	for _, o := range c.inWrite {
		c.cache.Release(o.p)
	}
	c.toWrite = nil
	c.inWrite = nil
	if c.cur != nil {
		c.cache.Release(c.cur)
		c.cur = nil
	}
	fd := c.Fd
	c.mu.Unlock()
	return unix.Close(fd)
}
