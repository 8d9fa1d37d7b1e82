package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

// ErrUnregisteredProtocol is returned when a connection's protocol tag has
// no decoder registered, a programming error.
var ErrUnregisteredProtocol = errors.New("transport: no decoder registered for protocol")

// ReadResult reports what ReadReady observed for the caller (the event
// loop) to act on.
type ReadResult struct {
	// Closed is true if the connection should be torn down (EOF, an
	// unrecoverable I/O error, or a protocol CloseConnection/Fatal result).
	Closed bool
	// Events holds every fully-decoded event produced by this call,
	// across however many complete PDUs arrived in one readiness burst.
	Events []any
}

// ReadReady runs one readiness-triggered read-and-decode pass for c:
// allocate a current PDU if none is pinned, read into its available span,
// then decode-loop while enough bytes have arrived, splitting a fresh PDU
// off any surplus that runs past the current PDU's declared length.
func ReadReady(c *Connection) ReadResult {
	entry, ok := lookupProtocol(c.Proto)
	if !ok {
		c.logError("no decoder registered", ErrUnregisteredProtocol)
		return ReadResult{Closed: true}
	}

	c.mu.Lock()
	if c.cur == nil {
		c.cur = c.cache.Get()
	}
	cur := c.cur
	c.mu.Unlock()

	var allEvents []any
	for {
		n, err := unix.Read(c.Fd, cur.Avail())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				break // drained for now; armed for the next readiness event
			}
			c.logError("read error, closing connection", err)
			return ReadResult{Closed: true, Events: allEvents}
		}
		if n == 0 {
			return ReadResult{Closed: true, Events: allEvents} // peer closed the stream
		}
		cur.Advance(n)
		c.BytesIn += uint64(n)

		events, closed := decodeLoop(c, entry, &cur)
		allEvents = append(allEvents, events...)
		if closed {
			return ReadResult{Closed: true, Events: allEvents}
		}
		if len(cur.Avail()) == 0 {
			// The PDU's arena is exhausted but decode still wants more
			// bytes than it can hold; this happens when a PDU's declared
			// length (or a protocol's registered minLen) exceeds the pool's
			// PDU capacity. The connection is closed.
			c.logError("PDU arena exhausted before decode satisfied", fmt.Errorf("capacity %d", cur.Cap()))
			return ReadResult{Closed: true, Events: allEvents}
		}
	}

	c.mu.Lock()
	c.cur = cur
	c.mu.Unlock()
	return ReadResult{Events: allEvents}
}

// decodeLoop invokes the registered decoder while enough bytes have
// arrived, handling the overflow-split case where a decode call consumes
// less than everything currently buffered because a fresh PDU began
// mid-buffer. *curp is updated in place to whichever PDU is current when
// the loop returns (decodeLoop does not take c.mu: it runs only on c's
// owning worker).
func decodeLoop(c *Connection, entry protoEntry, curp **pdu.PDU) (events []any, closed bool) {
	for {
		cur := *curp
		if cur.Len() < entry.minLen {
			return events, false
		}

		event, result := entry.decode(cur, c.log)
		kind, need, reason := result.Classify()

		switch kind {
		case pdu.KindFatal:
			c.logError("fatal decode error", errors.New(reason))
			return events, true
		case pdu.KindCloseConnection:
			c.logWarn("closing connection on validation failure", reason)
			return events, true
		case pdu.KindDiscard:
			c.logWarn("discarding PDU", reason)
			c.cache.Release(cur)
			*curp = c.cache.Get()
			return events, false
		}

		// KindOk.
		if n, more := need.IsMore(); more {
			cur.SetNeed(n)
			return events, false
		}

		// Need satisfied: the PDU is fully decoded.
		if event != nil {
			events = append(events, event)
		}
		c.PDUsIn++

		declared := cur.DeclaredSize()
		if declared >= 0 && cur.Len() > declared {
			next := c.cache.Get()
			pdu.CopySurplus(cur, next)
			c.cache.Release(cur)
			*curp = next
			continue // the surplus may already contain a full next PDU
		}

		c.cache.Release(cur)
		*curp = c.cache.Get()
	}
}

func (c *Connection) logError(msg string, err error) {
	if c.log != nil {
		c.log.Error(msg, "conn", c.ID, "err", err)
	}
}

func (c *Connection) logWarn(msg, reason string) {
	if c.log != nil {
		c.log.Warn(msg, "conn", c.ID, "reason", reason)
	}
}
