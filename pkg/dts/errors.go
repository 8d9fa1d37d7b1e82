package dts

import "errors"

var (
	// ErrInvalidCPDUSize is returned when a C_PDU submitted for transmission
	// is empty or exceeds MaxCPDU.
	ErrInvalidCPDUSize = errors.New("dts: C_PDU size must be in (0, 4096]")
	// ErrWindowFull is returned when the ARQ transmit window has no room
	// for another outstanding segment.
	ErrWindowFull = errors.New("dts: ARQ transmit window full")
)
