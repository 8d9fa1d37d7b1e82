package ioloop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func formatInet4(a *unix.SockaddrInet4) string {
	ip := net.IP(a.Addr[:])
	return fmt.Sprintf("%s:%d", ip.String(), a.Port)
}

func formatInet6(a *unix.SockaddrInet6) string {
	ip := net.IP(a.Addr[:])
	return fmt.Sprintf("[%s]:%d", ip.String(), a.Port)
}
