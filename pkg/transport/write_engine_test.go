package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

func newTestConnForWrite(t *testing.T, fd int) *Connection {
	t.Helper()
	pool := pdu.NewPool(64)
	cache := pdu.NewWorkerCache(pool, 4)
	return NewConnection(fd, ProtoTestPing, "test-peer", cache, nil)
}

func enqueueBytes(t *testing.T, c *Connection, b []byte) {
	t.Helper()
	c.EnqueueBytes(b)
}

func drainPipe(t *testing.T, readFd int, want int) []byte {
	t.Helper()
	out := make([]byte, 0, want)
	buf := make([]byte, want)
	for len(out) < want {
		n, err := unix.Read(readFd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			require.NoError(t, err)
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestWriteReadyDrainsSingleFullBatch(t *testing.T) {
	readFd, writeFd := nonblockingPipe(t)
	conn := newTestConnForWrite(t, writeFd)

	enqueueBytes(t, conn, []byte("hello"))
	enqueueBytes(t, conn, []byte("world"))

	result := WriteReady(conn)
	assert.False(t, result.Closed)
	assert.False(t, result.Paused)

	got := drainPipe(t, readFd, len("hello")+len("world"))
	assert.Equal(t, "helloworld", string(got))
	assert.Equal(t, uint64(2), conn.PDUsOut)
}

// TestWriteReadyPausesThenResumesOnFullPipe fills the pipe's buffer past
// capacity so WriteReady reports Paused with bytes still queued, then
// verifies a second call (after the reader drains space) finishes sending
// every byte, in order, with nothing duplicated or lost.
func TestWriteReadyPausesThenResumesOnFullPipe(t *testing.T) {
	readFd, writeFd := nonblockingPipe(t)
	conn := newTestConnForWrite(t, writeFd)

	pool := pdu.NewPool(70000)
	cache := pdu.NewWorkerCache(pool, 4)
	conn.cache = cache

	// Linux pipes default to a 64KiB buffer; three oversized PDUs guarantee
	// at least one write call saturates it before every byte is queued.
	big := make([]byte, 40000)
	for i := range big {
		big[i] = byte(i)
	}
	enqueueBytes(t, conn, big)
	enqueueBytes(t, conn, big)
	enqueueBytes(t, conn, big)

	first := WriteReady(conn)
	assert.False(t, first.Closed)

	total := len(big) * 3
	received := 0
	buf := make([]byte, 8192)
	for received < total {
		n, err := unix.Read(readFd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				// Give the writer another chance to push its remainder now
				// that the reader has freed pipe buffer space.
				second := WriteReady(conn)
				require.False(t, second.Closed)
				continue
			}
			require.NoError(t, err)
		}
		for i := 0; i < n; i++ {
			want := byte((received + i) % 40000)
			require.Equal(t, want, buf[i], "byte %d out of order or corrupted", received+i)
		}
		received += n
	}
	assert.Equal(t, total, received)
	assert.Equal(t, uint64(3), conn.PDUsOut)
}

func TestWriteReadyReturnsClosedOnBrokenPipe(t *testing.T) {
	readFd, writeFd := nonblockingPipe(t)
	require.NoError(t, unix.Close(readFd))

	conn := newTestConnForWrite(t, writeFd)
	enqueueBytes(t, conn, []byte("x"))

	result := WriteReady(conn)
	assert.True(t, result.Closed)
}

func TestWriteReadyNoopWhenQueueEmpty(t *testing.T) {
	_, writeFd := nonblockingPipe(t)
	conn := newTestConnForWrite(t, writeFd)

	result := WriteReady(conn)
	assert.False(t, result.Closed)
	assert.False(t, result.Paused)
	assert.Equal(t, uint64(0), conn.PDUsOut)
}

func TestRewindAndRequeuePreservesOrderOnPartialWrite(t *testing.T) {
	_, writeFd := nonblockingPipe(t)
	conn := newTestConnForWrite(t, writeFd)

	pool := pdu.NewPool(64)
	cache := pdu.NewWorkerCache(pool, 4)
	conn.cache = cache

	mk := func(s string) *outPDU {
		p := cache.Get()
		n := copy(p.Avail(), []byte(s))
		p.Advance(n)
		p.SetDeclaredSize(n)
		return &outPDU{p: p}
	}

	x := mk("XXXXX") // 5 bytes, will be partially written
	y := mk("YY")
	z := mk("ZZ")
	batch := []*outPDU{x, y, z}

	// Simulate a vectored write that only got 3 of x's 5 bytes through.
	more := conn.rewindAndRequeue(batch, 3)
	assert.False(t, more)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.inWrite, 1)
	assert.Same(t, x, conn.inWrite[0])
	assert.Equal(t, 3, conn.inWrite[0].written)
	require.Len(t, conn.toWrite, 2)
	assert.Same(t, y, conn.toWrite[0])
	assert.Same(t, z, conn.toWrite[1])
}
