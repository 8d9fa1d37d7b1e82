// Package bridge implements the stateless SIS↔DTS mapper: an inbound
// UNIDATA_REQUEST from a SIS client becomes one or more C_PDU segments on
// the DTS transmit side (Non-ARQ or ARQ per transmission mode); a C_PDU
// reassembled by the DTS engine becomes a UNIDATA_INDICATION delivered to
// whichever connection owns the destination SAP.
package bridge

import (
	"errors"
	"log/slog"

	"github.com/hfradio/stanag5066d/pkg/dts"
	"github.com/hfradio/stanag5066d/pkg/sap"
	"github.com/hfradio/stanag5066d/pkg/sis"
)

var (
	// ErrSAPNotBound is returned when a UNIDATA_REQUEST names a destination
	// SAP with no bound connection, or a reassembled C_PDU's destination
	// SAP has no connection to deliver to.
	ErrSAPNotBound = errors.New("bridge: destination SAP not bound")
	// ErrPayloadTooLarge is returned when a UNIDATA_REQUEST's U_PDU exceeds
	// the destination SAP's negotiated MTU. DeliverCPDU does not check the
	// MTU.
	ErrPayloadTooLarge = errors.New("bridge: payload exceeds negotiated MTU")
	// ErrUnsupportedMode is returned for a transmission mode the bridge
	// does not implement a transmit path for.
	ErrUnsupportedMode = errors.New("bridge: unsupported transmission mode")
)

// PeerSession is the subset of *dts.Session the bridge drives on the
// transmit side, named so tests can supply a fake.
type PeerSession interface {
	TransmitARQ(payload []byte) error
	TransmitNonARQ(payload []byte, expedited bool) error
}

// Deliverer hands an encoded SIS PDU to a client connection's write queue.
// The connection registry in pkg/transport implements this by enqueueing
// onto the owning connection's to_write queue.
type Deliverer interface {
	Deliver(owner any, wire []byte)
}

// Bridge is the stateless mapper tying the SIS and DTS engines together.
// It holds no per-exchange state of its own — all state lives in the SAP
// table and the DTS sessions it is handed.
type Bridge struct {
	saps *sap.Table
	log  *slog.Logger
}

// New constructs a Bridge over the daemon's shared SAP table.
func New(saps *sap.Table, log *slog.Logger) *Bridge {
	return &Bridge{saps: saps, log: log}
}

// HandleUnidataRequest routes one client UNIDATA_REQUEST onto the named
// peer session's DTS transmit path, enforcing the bridge's three
// invariants: the destination SAP must be bound, the payload must fit the
// negotiated MTU, and the transmission mode must be one the bridge
// supports.
func (b *Bridge) HandleUnidataRequest(req *sis.UnidataRequestBody, peer PeerSession) error {
	if _, ok := b.saps.Lookup(req.DestSAP); !ok {
		return ErrSAPNotBound
	}
	mtu, ok := b.saps.LookupMTU(req.DestSAP)
	if !ok {
		return ErrSAPNotBound
	}
	if len(req.Payload) > mtu {
		return ErrPayloadTooLarge
	}

	switch req.TransmissionMode {
	case sis.ModeARQ:
		return peer.TransmitARQ(req.Payload)
	case sis.ModeNonARQ:
		return peer.TransmitNonARQ(req.Payload, false)
	case sis.ModeBroadcast:
		return peer.TransmitNonARQ(req.Payload, false)
	default:
		return ErrUnsupportedMode
	}
}

// DeliverCPDU routes one C_PDU reassembled by the DTS engine to the SIS
// client bound to destSAP, building a UNIDATA_INDICATION and handing it to
// the connection registry's Deliverer. srcAddr/dstAddr are the 4-byte SIS
// addresses carried in the indication; deliveryMode/transMode echo the
// values the sender used. Returns ErrSAPNotBound if nothing is bound.
func (b *Bridge) DeliverCPDU(destSAP int, srcAddr, dstAddr [4]byte, deliveryMode, transMode byte, payload []byte, out Deliverer) error {
	owner, ok := b.saps.Lookup(destSAP)
	if !ok {
		if b.log != nil {
			b.log.Warn("bridge: reassembled C_PDU has no bound destination SAP", "sap", destSAP)
		}
		return ErrSAPNotBound
	}
	wire := sis.EncodeUnidataIndication(destSAP, srcAddr, dstAddr, deliveryMode, transMode, payload)
	out.Deliver(owner, wire)
	return nil
}

// AddressFromSlice packs the low 4 bytes of a variable-length DTS nibble
// address into the fixed 4-byte SIS address field, zero-extending on the
// left when the DTS address is shorter.
func AddressFromSlice(addr []byte) [4]byte {
	var out [4]byte
	if len(addr) >= 4 {
		copy(out[:], addr[len(addr)-4:])
		return out
	}
	copy(out[4-len(addr):], addr)
	return out
}

var _ PeerSession = (*dts.Session)(nil)
