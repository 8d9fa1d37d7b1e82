// Package transport implements the connection-agnostic substrate shared
// by every protocol this daemon speaks: the connection registry, the
// need-driven read engine, and the scatter/gather write engine. Protocols
// (SIS, DTS, and any auxiliary decoder) plug in via RegisterProtocol
// instead of the read/write engines knowing about them directly.
package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

// ProtoTag identifies which protocol a connection's current PDU is framed
// under, mirroring the listener grammar's <proto> token.
type ProtoTag int

const (
	ProtoSIS ProtoTag = iota
	ProtoDTS
	ProtoSMTP
	ProtoHTTP
	ProtoTestPing
	ProtoListen
)

func (p ProtoTag) String() string {
	switch p {
	case ProtoSIS:
		return "sis"
	case ProtoDTS:
		return "dts"
	case ProtoSMTP:
		return "smtp"
	case ProtoHTTP:
		return "http"
	case ProtoTestPing:
		return "test_ping"
	case ProtoListen:
		return "listen"
	default:
		return "unknown"
	}
}

// DecodeFunc is the shape every protocol decoder exposes to the read
// engine: given the connection's current PDU, return the decoded event
// (nil unless the Result is Ok with Need satisfied) and the closed Result
// describing what the read engine should do next.
type DecodeFunc func(p *pdu.PDU, log *slog.Logger) (event any, result pdu.Result)

type protoEntry struct {
	decode DecodeFunc
	minLen int
}

var (
	registryMu sync.Mutex
	registry   = map[ProtoTag]protoEntry{}
)

// RegisterProtocol binds tag to decode and its minimum complete-PDU
// length. minLen must be strictly positive — a zero or negative minimum
// would let the overflow-split handler in the read engine loop forever
// carving zero-length PDUs out of a single buffer. A non-positive minLen is
// a programmer error caught at registration, not a runtime condition.
func RegisterProtocol(tag ProtoTag, decode DecodeFunc, minLen int) {
	if minLen <= 0 {
		panic(fmt.Sprintf("transport: RegisterProtocol(%s): minLen must be strictly positive, got %d", tag, minLen))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = protoEntry{decode: decode, minLen: minLen}
}

func lookupProtocol(tag ProtoTag) (protoEntry, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[tag]
	return e, ok
}

// unregisterAllForTest clears the registry; only the test suite in this
// package calls it, to keep registration tests independent.
func unregisterAllForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[ProtoTag]protoEntry{}
}
