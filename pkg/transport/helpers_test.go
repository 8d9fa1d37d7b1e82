package transport

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

// testDecode implements a minimal one-byte-length-prefixed framing for
// transport-layer tests: buf[0] is the total PDU length (header plus
// body), buf[1:] is the body returned verbatim as the decoded event.
func testDecode(p *pdu.PDU, log *slog.Logger) (any, pdu.Result) {
	buf := p.Bytes()
	if len(buf) < 1 {
		return nil, pdu.Ok(pdu.NeedBytes(1))
	}
	total := int(buf[0])
	if total < 1 {
		return nil, pdu.Discard("test: zero-length frame")
	}
	p.SetDeclaredSize(total)
	if len(buf) < total {
		return nil, pdu.Ok(pdu.NeedBytes(total - len(buf)))
	}
	body := append([]byte(nil), buf[1:total]...)
	return body, pdu.Ok(pdu.NeedDone())
}

// testFrame builds one testDecode-compatible wire frame.
func testFrame(body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(1 + len(body))
	copy(out[1:], body)
	return out
}

// writeAll writes all of b to fd, retrying on EINTR/EAGAIN (the pipe
// write end used in tests has ample buffer for the small test payloads).
func writeAll(fd int, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Write(fd, b[total:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

// nonblockingPipe returns a connected pair of raw, non-blocking file
// descriptors (read end, write end), closed automatically at test cleanup.
func nonblockingPipe(t *testing.T) (readFd, writeFd int) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	readFd = int(r.Fd())
	writeFd = int(w.Fd())
	require.NoError(t, unix.SetNonblock(readFd, true))
	require.NoError(t, unix.SetNonblock(writeFd, true))
	return readFd, writeFd
}
