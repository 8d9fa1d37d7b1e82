package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// maxIOV clamps the per-call scatter/gather segment count well under any
// platform's actual IOV_MAX, bounding a single write call's batch size.
const maxIOV = 16

// WriteResult reports what WriteReady observed.
type WriteResult struct {
	// Closed is true if the connection should be torn down following an
	// unrecoverable write error.
	Closed bool
	// Paused is true if the socket returned EAGAIN: the caller should
	// leave the connection armed for write-readiness and not retry until
	// the next event.
	Paused bool
}

// WriteReady drains as much of c's to_write/in_write queues as the socket
// will currently accept: any PDU left partially written from a prior call
// lives in in_write; build a scatter/gather vector spanning in_write then
// to_write (up to maxIOV segments), issue one vectored write, and rewind
// whichever PDU was only partially written.
func WriteReady(c *Connection) WriteResult {
	for {
		c.mu.Lock()
		batch := make([]*outPDU, 0, maxIOV)
		batch = append(batch, c.inWrite...)
		for _, o := range c.toWrite {
			if len(batch) >= maxIOV {
				break
			}
			batch = append(batch, o)
		}
		if len(batch) == 0 {
			c.mu.Unlock()
			return WriteResult{}
		}
		iovs := make([][]byte, len(batch))
		for i, o := range batch {
			iovs[i] = o.bytes()
		}
		c.mu.Unlock()

		n, err := unix.Writev(c.Fd, iovs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return WriteResult{Paused: true}
			}
			return WriteResult{Closed: true}
		}
		c.BytesOut += uint64(n)
		c.rewindAndRequeue(batch, n)
	}
}

// rewindAndRequeue folds a vectored write of n bytes, issued over batch,
// back into the connection's queues. A vectored write drains its iovs
// strictly in order, so at most one entry in batch is left partially
// written; everything before it is fully drained (released to the pool)
// and everything from it onward (partial or fully untouched) is put back,
// in its original relative order, with any partially-written entry moved
// to in_write and the rest restored to the front of to_write. Returns
// whether the queue may still have more ready to send (a full batch
// drained with no remainder).
func (c *Connection) rewindAndRequeue(batch []*outPDU, n int) bool {
	remaining := n
	splitIdx := len(batch)
	for i, o := range batch {
		avail := len(o.bytes())
		if remaining >= avail {
			remaining -= avail
			o.written += avail
			continue
		}
		if remaining > 0 {
			o.written += remaining
		}
		splitIdx = i
		break
	}
	fullyWritten := batch[:splitIdx]
	pending := batch[splitIdx:]

	c.mu.Lock()
	inWriteLen := len(c.inWrite)
	consumedFromToWrite := len(batch) - inWriteLen
	if consumedFromToWrite < 0 {
		consumedFromToWrite = 0
	}
	if consumedFromToWrite > len(c.toWrite) {
		consumedFromToWrite = len(c.toWrite)
	}
	c.toWrite = c.toWrite[consumedFromToWrite:]

	switch {
	case len(pending) == 0:
		c.inWrite = nil
	case pending[0].written > 0:
		c.inWrite = []*outPDU{pending[0]}
		c.toWrite = append(append([]*outPDU{}, pending[1:]...), c.toWrite...)
	default:
		c.inWrite = nil
		c.toWrite = append(append([]*outPDU{}, pending...), c.toWrite...)
	}
	drainedFully := len(pending) == 0
	c.mu.Unlock()

	for _, o := range fullyWritten {
		c.PDUsOut++
		c.cache.Release(o.p)
	}
	return drainedFully
}
