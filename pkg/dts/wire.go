// Package dts implements the peer-facing Data Transfer Sublayer protocol:
// D_PDU framing with dual CRC-16 verification, Non-ARQ segmentation and
// reassembly over a C_PDU identifier space, and ARQ sliding-window
// transmission with sequence acknowledgement bitmaps.
package dts

import (
	"encoding/binary"
	"log/slog"

	"github.com/hfradio/stanag5066d/internal/addr"
	"github.com/hfradio/stanag5066d/internal/crc"
	"github.com/hfradio/stanag5066d/internal/pdu"
)

// Sync identifies a D_PDU at frame start (the "Maury-Styles" preamble).
var Sync = [2]byte{0x90, 0xEB}

// DType is the D_PDU type carried in the upper nibble of byte 2.
type DType byte

const (
	DataOnly        DType = 0
	AckOnly         DType = 1
	DataAck         DType = 2
	Reset           DType = 3
	EDataOnly       DType = 4
	EAckOnly        DType = 5
	Management      DType = 6
	NonARQ          DType = 7
	ExpeditedNonARQ DType = 8
	Warning         DType = 15
)

// Valid reports whether d is a recognized D_TYPE; 9..14 are reserved and a
// framing error if received.
func (d DType) Valid() bool {
	switch d {
	case DataOnly, AckOnly, DataAck, Reset, EDataOnly, EAckOnly, Management, NonARQ, ExpeditedNonARQ, Warning:
		return true
	default:
		return false
	}
}

func (d DType) carriesPayloadDirectly() bool {
	switch d {
	case DataOnly, DataAck, EDataOnly, NonARQ, ExpeditedNonARQ:
		return true
	default:
		return false
	}
}

// Limits from the wire format.
const (
	MaxAddrLen  = 7
	MinHdrLen   = 4
	MaxHdrLen   = 31
	MaxSegment  = 800
	MaxCPDU     = 4096
	MaxCPDUID   = 4095
	MaxWindow   = 127
	fixedHeader = 6 // sync(2) + dtype/eow(1) + eow-low(1) + eot(1) + addr_size|hdr_len(1)
)

// Segment first/last flags, carried in the ARQ type-specific header's flags byte.
const (
	SegFirstOnly byte = 0x80
	SegLastOnly  byte = 0x40
	SegSingle    byte = 0xC0
	SegInterior  byte = 0x00
)

// Edge flags, carried in the ARQ type-specific header's edge byte.
const (
	EdgeUpper byte = 0x80
	EdgeLower byte = 0x40
)

// Frame is one fully decoded D_PDU, a tagged union over the fields each
// D_TYPE populates.
type Frame struct {
	DType     DType
	EOW       uint16
	EOT       byte
	SrcAddr   []byte
	DstAddr   []byte
	Expedited bool

	// DataOnly / DataAck / EDataOnly
	Seq         byte
	IsUpperEdge bool
	IsLowerEdge bool
	First       bool
	Last        bool
	SegOffset   uint16

	// AckOnly / DataAck / EAckOnly
	HasAck       bool
	AckLowerEdge byte
	AckBitmap    []byte

	// Reset
	ResetTxLWE byte
	ResetRxLWE byte

	// NonARQ / ExpeditedNonARQ
	CPDUID       uint16
	TotalSize    uint16
	SegOffset16  uint16
	RxWindowHint uint16

	Payload []byte
}

// Decode runs one decode step over p's buffered bytes following the same
// need-driven contract as the SIS decoder: Ok(NeedBytes(n)) while more
// header or payload bytes are required, Ok with Need satisfied and a
// populated Frame once a complete D_PDU has arrived, or Discard for any
// framing/validation failure (DTS failures are silent discards; ARQ or
// re-reception recovers them, per the error policy).
func Decode(p *pdu.PDU, log *slog.Logger) (*Frame, pdu.Result) {
	buf := p.Bytes()

	if len(buf) < fixedHeader {
		return nil, pdu.Ok(pdu.NeedBytes(fixedHeader - len(buf)))
	}
	if buf[0] != Sync[0] || buf[1] != Sync[1] {
		return nil, pdu.Discard("dts: sync mismatch")
	}

	dtype := DType(buf[2] >> 4)
	if !dtype.Valid() {
		return nil, pdu.Discard("dts: reserved D_TYPE")
	}
	eow := uint16(buf[2]&0x0F)<<8 | uint16(buf[3])
	eot := buf[4]
	addrSize := int(buf[5] >> 5)
	hdrLen := int(buf[5] & 0x1F)
	if addrSize > MaxAddrLen {
		return nil, pdu.Discard("dts: addr_size out of range")
	}
	if hdrLen < MinHdrLen || hdrLen > MaxHdrLen {
		return nil, pdu.Discard("dts: hdr_len out of range")
	}

	addrBytes := 0
	if addrSize > 0 {
		addrBytes = addr.RequiredBytes(addrSize, addrSize)
	}
	headerEnd := fixedHeader + addrBytes + hdrLen
	if len(buf) < headerEnd {
		return nil, pdu.Ok(pdu.NeedBytes(headerEnd - len(buf)))
	}

	typeHdr := buf[fixedHeader+addrBytes : headerEnd]
	payloadLen, err := payloadLenFor(dtype, typeHdr)
	if err != "" {
		return nil, pdu.Discard(err)
	}

	total := headerEnd + payloadLen + 2
	if payloadLen > 0 {
		total += 2
	}
	p.SetDeclaredSize(total)
	if len(buf) < total {
		return nil, pdu.Ok(pdu.NeedBytes(total - len(buf)))
	}

	headerCRC := crc.Sum16(buf[:headerEnd])
	gotHeaderCRC := binary.BigEndian.Uint16(buf[headerEnd+payloadLen : headerEnd+payloadLen+2])
	if uint16(headerCRC) != gotHeaderCRC {
		return nil, pdu.Discard("dts: header CRC mismatch")
	}

	var payload []byte
	if payloadLen > 0 {
		payload = append([]byte(nil), buf[headerEnd:headerEnd+payloadLen]...)
		payloadCRC := crc.Sum16(payload)
		gotPayloadCRC := binary.BigEndian.Uint16(buf[total-2 : total])
		if uint16(payloadCRC) != gotPayloadCRC {
			return nil, pdu.Discard("dts: payload CRC mismatch")
		}
	}

	var srcAddr, dstAddr []byte
	if addrSize > 0 {
		srcAddr, dstAddr, _ = addr.Unpack(buf[fixedHeader:fixedHeader+addrBytes], addrSize, addrSize)
	}

	f := &Frame{
		DType:     dtype,
		EOW:       eow,
		EOT:       eot,
		SrcAddr:   srcAddr,
		DstAddr:   dstAddr,
		Payload:   payload,
		Expedited: dtype == EDataOnly || dtype == EAckOnly || dtype == ExpeditedNonARQ,
	}
	if reason := fillTypeSpecific(f, dtype, typeHdr); reason != "" {
		return nil, pdu.Discard(reason)
	}
	if log != nil {
		log.Debug("dts: decoded frame", "dtype", dtype, "payload_len", payloadLen)
	}
	return f, pdu.Ok(pdu.NeedDone())
}

func payloadLenFor(dtype DType, typeHdr []byte) (int, string) {
	switch dtype {
	case DataOnly, DataAck, EDataOnly:
		if len(typeHdr) < 7 {
			return 0, "dts: ARQ type header too short"
		}
		n := int(binary.BigEndian.Uint16(typeHdr[5:7]))
		return n, ""
	case NonARQ, ExpeditedNonARQ:
		if len(typeHdr) < 10 {
			return 0, "dts: non-ARQ type header too short"
		}
		n := int(binary.BigEndian.Uint16(typeHdr[0:2]))
		if n <= 0 || n > MaxSegment {
			return 0, "dts: segment size out of range"
		}
		return n, ""
	case AckOnly, EAckOnly, Reset, Management, Warning:
		return 0, ""
	default:
		return 0, "dts: unhandled D_TYPE"
	}
}

func fillTypeSpecific(f *Frame, dtype DType, typeHdr []byte) string {
	switch dtype {
	case DataOnly, EDataOnly:
		return fillARQData(f, typeHdr)
	case DataAck:
		if reason := fillARQData(f, typeHdr); reason != "" {
			return reason
		}
		return fillAck(f, typeHdr[7:])
	case AckOnly, EAckOnly:
		return fillAck(f, typeHdr)
	case Reset:
		if len(typeHdr) < 2 {
			return "dts: RESET header too short"
		}
		f.ResetTxLWE = typeHdr[0]
		f.ResetRxLWE = typeHdr[1]
		return ""
	case NonARQ, ExpeditedNonARQ:
		f.CPDUID = binary.BigEndian.Uint16(typeHdr[2:4]) & 0x0FFF
		f.TotalSize = binary.BigEndian.Uint16(typeHdr[4:6])
		f.SegOffset16 = binary.BigEndian.Uint16(typeHdr[6:8])
		f.RxWindowHint = binary.BigEndian.Uint16(typeHdr[8:10])
		if f.CPDUID > MaxCPDUID {
			return "dts: C_PDU id out of range"
		}
		if f.TotalSize == 0 || int(f.TotalSize) > MaxCPDU {
			return "dts: total C_PDU size out of range"
		}
		if int(f.SegOffset16)+len(f.Payload) > int(f.TotalSize) {
			return "dts: segment offset exceeds declared total size"
		}
		return ""
	case Management, Warning:
		return ""
	default:
		return "dts: unhandled D_TYPE"
	}
}

func fillARQData(f *Frame, typeHdr []byte) string {
	if len(typeHdr) < 7 {
		return "dts: ARQ type header too short"
	}
	f.Seq = typeHdr[0]
	f.IsUpperEdge = typeHdr[1]&EdgeUpper != 0
	f.IsLowerEdge = typeHdr[1]&EdgeLower != 0
	flags := typeHdr[2]
	f.First = flags&SegFirstOnly != 0
	f.Last = flags&SegLastOnly != 0
	if flags == SegInterior {
		f.First, f.Last = false, false
	}
	f.SegOffset = binary.BigEndian.Uint16(typeHdr[3:5])
	return ""
}

func fillAck(f *Frame, ackHdr []byte) string {
	if len(ackHdr) < 2 {
		return "dts: ACK header too short"
	}
	bitmapLen := int(ackHdr[1])
	if len(ackHdr) < 2+bitmapLen {
		return "dts: ACK bitmap shorter than declared"
	}
	f.HasAck = true
	f.AckLowerEdge = ackHdr[0]
	f.AckBitmap = append([]byte(nil), ackHdr[2:2+bitmapLen]...)
	return ""
}
