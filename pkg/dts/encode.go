package dts

import (
	"encoding/binary"

	"github.com/hfradio/stanag5066d/internal/addr"
	"github.com/hfradio/stanag5066d/internal/crc"
)

// buildFrame assembles the common D_PDU envelope (sync, D_TYPE/EOW/EOT,
// addr_size/hdr_len, nibble-packed addresses, type-specific header,
// payload) and appends the header CRC-16 and, when payload is non-empty,
// the payload CRC-16. The wire's single addr_size field applies to both
// addresses, so srcAddr and dstAddr must have equal length.
func buildFrame(dtype DType, eow uint16, eot byte, srcAddr, dstAddr []byte, typeHdr, payload []byte) []byte {
	addrSize := len(srcAddr)
	var addrBytes []byte
	if addrSize > 0 {
		addrBytes, _ = addr.Pack(srcAddr, dstAddr)
	}
	hdrLen := len(typeHdr)

	out := make([]byte, 0, fixedHeader+len(addrBytes)+hdrLen+len(payload)+4)
	out = append(out, Sync[0], Sync[1])
	out = append(out, byte(dtype)<<4|byte(eow>>8&0x0F), byte(eow))
	out = append(out, eot)
	out = append(out, byte(addrSize)<<5|byte(hdrLen))
	out = append(out, addrBytes...)
	out = append(out, typeHdr...)
	headerCRC := crc.Sum16(out)
	out = append(out, payload...)

	var crcBuf [2]byte
	binary.BigEndian.PutUint16(crcBuf[:], uint16(headerCRC))
	out = append(out, crcBuf[:]...)

	if len(payload) > 0 {
		payloadCRC := crc.Sum16(payload)
		binary.BigEndian.PutUint16(crcBuf[:], uint16(payloadCRC))
		out = append(out, crcBuf[:]...)
	}
	return out
}

func arqDataHeader(seq byte, isUpper, isLower bool, first, last bool, segOffset uint16, payloadLen int) []byte {
	h := make([]byte, 7)
	h[0] = seq
	var edge byte
	if isUpper {
		edge |= EdgeUpper
	}
	if isLower {
		edge |= EdgeLower
	}
	h[1] = edge
	var flags byte
	switch {
	case first && last:
		flags = SegSingle
	case first:
		flags = SegFirstOnly
	case last:
		flags = SegLastOnly
	default:
		flags = SegInterior
	}
	h[2] = flags
	binary.BigEndian.PutUint16(h[3:5], segOffset)
	binary.BigEndian.PutUint16(h[5:7], uint16(payloadLen))
	return h
}

func ackHeader(lowerEdge byte, bitmap []byte) []byte {
	h := make([]byte, 2+len(bitmap))
	h[0] = lowerEdge
	h[1] = byte(len(bitmap))
	copy(h[2:], bitmap)
	return h
}

// EncodeDataOnly builds a DATA_ONLY (or EDATA_ONLY, via expedited) D_PDU
// for one ARQ segment.
func EncodeDataOnly(expedited bool, eow uint16, eot byte, srcAddr, dstAddr []byte, seq byte, isUpper, isLower, first, last bool, segOffset uint16, payload []byte) []byte {
	dtype := DataOnly
	if expedited {
		dtype = EDataOnly
	}
	typeHdr := arqDataHeader(seq, isUpper, isLower, first, last, segOffset, len(payload))
	return buildFrame(dtype, eow, eot, srcAddr, dstAddr, typeHdr, payload)
}

// EncodeDataAck builds a DATA_ACK D_PDU: one ARQ segment plus a piggy-backed
// acknowledgement block.
func EncodeDataAck(eow uint16, eot byte, srcAddr, dstAddr []byte, seq byte, isUpper, isLower, first, last bool, segOffset uint16, payload []byte, ackLowerEdge byte, ackBitmap []byte) []byte {
	typeHdr := append(arqDataHeader(seq, isUpper, isLower, first, last, segOffset, len(payload)), ackHeader(ackLowerEdge, ackBitmap)...)
	return buildFrame(DataAck, eow, eot, srcAddr, dstAddr, typeHdr, payload)
}

// EncodeAckOnly builds an ACK_ONLY (or EACK_ONLY, via expedited) D_PDU.
func EncodeAckOnly(expedited bool, eow uint16, eot byte, srcAddr, dstAddr []byte, lowerEdge byte, bitmap []byte) []byte {
	dtype := AckOnly
	if expedited {
		dtype = EAckOnly
	}
	typeHdr := ackHeader(lowerEdge, bitmap)
	for len(typeHdr) < MinHdrLen {
		typeHdr = append(typeHdr, 0)
	}
	return buildFrame(dtype, eow, eot, srcAddr, dstAddr, typeHdr, nil)
}

// EncodeReset builds a RESET/WIN_RESYNC D_PDU.
func EncodeReset(srcAddr, dstAddr []byte, newTxLWE, newRxLWE byte) []byte {
	typeHdr := []byte{newTxLWE, newRxLWE, 0, 0}
	return buildFrame(Reset, 0, 0, srcAddr, dstAddr, typeHdr, nil)
}

// EncodeNonARQSegment builds a NON_ARQ (or EXPEDITED_NON_ARQ, via expedited)
// D_PDU carrying one segment of a connectionless C_PDU.
func EncodeNonARQSegment(expedited bool, srcAddr, dstAddr []byte, cpduID, totalSize, offset, rxWindowHint uint16, payload []byte) []byte {
	dtype := NonARQ
	if expedited {
		dtype = ExpeditedNonARQ
	}
	typeHdr := make([]byte, 10)
	binary.BigEndian.PutUint16(typeHdr[0:2], uint16(len(payload)))
	binary.BigEndian.PutUint16(typeHdr[2:4], cpduID&0x0FFF)
	binary.BigEndian.PutUint16(typeHdr[4:6], totalSize)
	binary.BigEndian.PutUint16(typeHdr[6:8], offset)
	binary.BigEndian.PutUint16(typeHdr[8:10], rxWindowHint)
	return buildFrame(dtype, 0, 0, srcAddr, dstAddr, typeHdr, payload)
}
