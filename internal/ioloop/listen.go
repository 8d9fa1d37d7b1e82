package ioloop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/pkg/transport"
)

// ListenTCP binds and listens on iface:port, returning a raw non-blocking
// listening fd wrapped as a Listener tagged with proto. iface may be empty
// (any address) or a dotted-quad/hostname resolvable to one.
func ListenTCP(iface string, port int, proto transport.ProtoTag) (*Listener, error) {
	addr := fmt.Sprintf("%s:%d", iface, port)
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("ioloop: resolve %s: %w", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ioloop: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioloop: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioloop: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioloop: listen %s: %w", addr, err)
	}

	return &Listener{Fd: fd, Proto: proto}, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.Fd)
}
