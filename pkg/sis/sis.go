// Package sis implements the client-facing Subnetwork Interface Sublayer
// primitive protocol: BIND/UNBIND/UNIDATA request and indication framing,
// SAP and length validation, and the closed decode-result contract shared
// with the DTS engine via internal/pdu.
package sis

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

// Preamble identifies a SIS PDU at frame start.
var Preamble = [3]byte{0x90, 0xEB, 0x00}

const (
	headerLen = 5 // preamble(3) + length(2)

	// MinPDULen and MaxPDULen bound a complete SIS PDU, preamble through body.
	MinPDULen = 5
	MaxPDULen = 8192

	// BroadcastMTU bounds a UNIDATA_REQUEST's U_PDU payload.
	BroadcastMTU = 4096
)

// PrimitiveType is the SIS primitive opcode at offset 5.
type PrimitiveType byte

const (
	BindRequest       PrimitiveType = 0x01
	UnbindRequest     PrimitiveType = 0x02
	BindAccepted      PrimitiveType = 0x03
	BindRejected      PrimitiveType = 0x04
	UnbindIndication  PrimitiveType = 0x05
	UnidataRequest    PrimitiveType = 0x14
	UnidataIndication PrimitiveType = 0x15
)

var primitiveNames = map[PrimitiveType]string{
	BindRequest:       "BIND_REQUEST",
	UnbindRequest:     "UNBIND_REQUEST",
	BindAccepted:      "BIND_ACCEPTED",
	BindRejected:      "BIND_REJECTED",
	UnbindIndication:  "UNBIND_INDICATION",
	UnidataRequest:    "UNIDATA_REQUEST",
	UnidataIndication: "UNIDATA_INDICATION",
}

func (p PrimitiveType) String() string {
	if name, ok := primitiveNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", byte(p))
}

// Transmission modes for UNIDATA primitives.
const (
	ModeARQ byte = iota
	ModeNonARQ
	ModeBroadcast
)

// BindRequestBody carries a client's BIND_REQUEST fields.
type BindRequestBody struct {
	SAP         int
	Rank        byte
	ServiceType uint16
}

// UnidataRequestBody carries a client's UNIDATA_REQUEST fields.
type UnidataRequestBody struct {
	DestSAP          int
	DestAddress      [4]byte
	DeliveryMode     byte
	TransmissionMode byte
	Payload          []byte
}

// BindAcceptedBody carries the daemon's BIND_ACCEPTED response fields, as
// seen from the client side of the connection.
type BindAcceptedBody struct {
	SAP  int
	Rank byte
	MTU  int
}

// UnidataIndicationBody carries the daemon's UNIDATA_INDICATION fields, as
// seen from the client side of the connection.
type UnidataIndicationBody struct {
	DestSAP          int
	DestAddress      [4]byte
	SrcAddress       [4]byte
	DeliveryMode     byte
	TransmissionMode byte
	Payload          []byte
}

// Event is the decoded result of one complete SIS PDU. Decode is used from
// both sides of the connection, so Event is a tagged union over every
// primitive type this package frames: a daemon decodes BindRequest/
// UnidataRequest from a client, and a client decodes BindAccepted/
// BindRejected/UnbindIndication/UnidataIndication from the daemon.
type Event struct {
	Type              PrimitiveType
	Bind              *BindRequestBody
	Unidata           *UnidataRequestBody
	BindAccepted      *BindAcceptedBody
	UnidataIndication *UnidataIndicationBody
}

// Decode runs one decode step over p's buffered bytes, following the
// read engine's need-driven contract: it returns Ok(NeedBytes(n)) while
// more header or body bytes are required, Ok with Need fully satisfied
// and a populated Event once a complete PDU has arrived, or
// Discard/CloseConnection per the SIS error policy.
func Decode(p *pdu.PDU, log *slog.Logger) (*Event, pdu.Result) {
	buf := p.Bytes()

	if len(buf) < headerLen {
		return nil, pdu.Ok(pdu.NeedBytes(headerLen - len(buf)))
	}
	if buf[0] != Preamble[0] || buf[1] != Preamble[1] || buf[2] != Preamble[2] {
		return nil, pdu.CloseConnection("sis: preamble mismatch")
	}

	length := int(binary.BigEndian.Uint16(buf[3:5]))
	total := headerLen + length
	if total < MinPDULen || total > MaxPDULen {
		return nil, pdu.CloseConnection("sis: declared length out of range")
	}
	p.SetDeclaredSize(total)
	if len(buf) < total {
		return nil, pdu.Ok(pdu.NeedBytes(total - len(buf)))
	}

	if length < 1 {
		return nil, pdu.CloseConnection("sis: zero-length primitive body")
	}
	primType := PrimitiveType(buf[headerLen])
	body := buf[headerLen+1 : total]

	switch primType {
	case BindRequest:
		return decodeBindRequest(body)
	case UnbindRequest:
		return &Event{Type: UnbindRequest}, pdu.Ok(pdu.NeedDone())
	case UnidataRequest:
		return decodeUnidataRequest(body)
	case BindAccepted:
		return decodeBindAccepted(body)
	case BindRejected:
		return &Event{Type: BindRejected}, pdu.Ok(pdu.NeedDone())
	case UnbindIndication:
		return &Event{Type: UnbindIndication}, pdu.Ok(pdu.NeedDone())
	case UnidataIndication:
		return decodeUnidataIndication(body)
	default:
		if log != nil {
			log.Warn("sis: unknown primitive, discarding", "type", primType)
		}
		return nil, pdu.Discard(fmt.Sprintf("sis: unknown primitive 0x%02x", byte(primType)))
	}
}

func decodeBindRequest(body []byte) (*Event, pdu.Result) {
	if len(body) < 3 {
		return nil, pdu.CloseConnection("sis: BIND_REQUEST body too short")
	}
	sap := int(body[0] >> 4)
	if sap > 15 {
		return nil, pdu.CloseConnection("sis: SAP out of range")
	}
	rank := body[0] & 0x0F
	serviceType := binary.BigEndian.Uint16(body[1:3])
	return &Event{Type: BindRequest, Bind: &BindRequestBody{SAP: sap, Rank: rank, ServiceType: serviceType}}, pdu.Ok(pdu.NeedDone())
}

func decodeUnidataRequest(body []byte) (*Event, pdu.Result) {
	const minHeader = 11 // destSAP(1) + destAddr(4) + deliveryMode(1) + transMode(1) + reserved(2) + length(2)
	if len(body) < minHeader {
		return nil, pdu.CloseConnection("sis: UNIDATA_REQUEST header too short")
	}
	destSAP := int(body[0] & 0x0F)
	if destSAP > 15 {
		return nil, pdu.CloseConnection("sis: destination SAP out of range")
	}
	var destAddr [4]byte
	copy(destAddr[:], body[1:5])
	deliveryMode := body[5]
	transMode := body[6]
	uLen := int(binary.BigEndian.Uint16(body[9:11]))
	if uLen > BroadcastMTU {
		return nil, pdu.Discard("sis: U_PDU length exceeds broadcast MTU")
	}
	if len(body) < minHeader+uLen {
		return nil, pdu.CloseConnection("sis: U_PDU body shorter than declared length")
	}
	payload := append([]byte(nil), body[minHeader:minHeader+uLen]...)
	return &Event{Type: UnidataRequest, Unidata: &UnidataRequestBody{
		DestSAP:          destSAP,
		DestAddress:      destAddr,
		DeliveryMode:     deliveryMode,
		TransmissionMode: transMode,
		Payload:          payload,
	}}, pdu.Ok(pdu.NeedDone())
}

func decodeBindAccepted(body []byte) (*Event, pdu.Result) {
	if len(body) < 3 {
		return nil, pdu.CloseConnection("sis: BIND_ACCEPTED body too short")
	}
	sap := int(body[0] >> 4)
	rank := body[0] & 0x0F
	mtu := int(binary.BigEndian.Uint16(body[1:3]))
	return &Event{Type: BindAccepted, BindAccepted: &BindAcceptedBody{SAP: sap, Rank: rank, MTU: mtu}}, pdu.Ok(pdu.NeedDone())
}

func decodeUnidataIndication(body []byte) (*Event, pdu.Result) {
	const minHeader = 13 // destSAP(1) + destAddr(4) + srcAddr(4) + deliveryMode(1) + transMode(1) + len(2)
	if len(body) < minHeader {
		return nil, pdu.CloseConnection("sis: UNIDATA_INDICATION header too short")
	}
	destSAP := int(body[0] & 0x0F)
	var destAddr, srcAddr [4]byte
	copy(destAddr[:], body[1:5])
	copy(srcAddr[:], body[5:9])
	deliveryMode := body[9]
	transMode := body[10]
	uLen := int(binary.BigEndian.Uint16(body[11:13]))
	if len(body) < 13+uLen {
		return nil, pdu.CloseConnection("sis: UNIDATA_INDICATION body shorter than declared length")
	}
	payload := append([]byte(nil), body[13:13+uLen]...)
	return &Event{Type: UnidataIndication, UnidataIndication: &UnidataIndicationBody{
		DestSAP:          destSAP,
		DestAddress:      destAddr,
		SrcAddress:       srcAddr,
		DeliveryMode:     deliveryMode,
		TransmissionMode: transMode,
		Payload:          payload,
	}}, pdu.Ok(pdu.NeedDone())
}

// EncodeBindRequest builds a client's BIND_REQUEST PDU.
func EncodeBindRequest(sap int, rank byte, serviceType uint16) []byte {
	body := make([]byte, 4)
	body[0] = byte(sap<<4) | (rank & 0x0F)
	binary.BigEndian.PutUint16(body[1:3], serviceType)
	return frame(BindRequest, body)
}

// EncodeUnbindRequest builds a client's UNBIND_REQUEST PDU.
func EncodeUnbindRequest() []byte {
	return frame(UnbindRequest, nil)
}

// EncodeUnidataRequest builds a client's UNIDATA_REQUEST PDU carrying one
// outbound U_PDU.
func EncodeUnidataRequest(destSAP int, destAddr [4]byte, deliveryMode, transMode byte, payload []byte) []byte {
	body := make([]byte, 0, 11+len(payload))
	body = append(body, byte(destSAP&0x0F))
	body = append(body, destAddr[:]...)
	body = append(body, deliveryMode, transMode)
	body = append(body, 0, 0) // reserved
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(payload)))
	body = append(body, lenBuf...)
	body = append(body, payload...)
	return frame(UnidataRequest, body)
}

// EncodeBindAccepted builds a BIND_ACCEPTED PDU containing the claimed SAP
// and the negotiated MTU.
func EncodeBindAccepted(sap int, rank byte, mtu int) []byte {
	body := make([]byte, 3)
	body[0] = byte(sap<<4) | (rank & 0x0F)
	binary.BigEndian.PutUint16(body[1:3], uint16(mtu))
	return frame(BindAccepted, body)
}

// EncodeBindRejected builds a BIND_REJECTED PDU with no body.
func EncodeBindRejected() []byte {
	return frame(BindRejected, nil)
}

// EncodeUnbindIndication builds an UNBIND_INDICATION PDU with no body.
func EncodeUnbindIndication() []byte {
	return frame(UnbindIndication, nil)
}

// EncodeUnidataIndication builds a UNIDATA_INDICATION PDU carrying a
// reassembled C_PDU's payload and routing metadata.
func EncodeUnidataIndication(destSAP int, srcAddr, destAddr [4]byte, deliveryMode, transMode byte, payload []byte) []byte {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(payload)))

	body := make([]byte, 0, 13+len(payload))
	body = append(body, byte(destSAP&0x0F))
	body = append(body, destAddr[:]...)
	body = append(body, srcAddr[:]...)
	body = append(body, deliveryMode, transMode)
	body = append(body, lenBuf...)
	body = append(body, payload...)
	return frame(UnidataIndication, body)
}

func frame(primType PrimitiveType, body []byte) []byte {
	length := 1 + len(body)
	out := make([]byte, headerLen+length)
	copy(out[0:3], Preamble[:])
	binary.BigEndian.PutUint16(out[3:5], uint16(length))
	out[5] = byte(primType)
	copy(out[6:], body)
	return out
}
