// Package pdu implements the pool-allocated PDU buffer model shared by the
// SIS and DTS engines: a fixed-capacity byte arena with safe cursor
// bookkeeping, the closed decode-result types that replace early-exit
// return codes, and a two-tier free-list allocator.
package pdu

import "fmt"

// Kind tags what role a PDU plays in the request/response linkage.
type Kind int

const (
	// KindPlain is a PDU with no request/response linkage (most DTS D_PDUs).
	KindPlain Kind = iota
	// KindRequest is a PDU that may elicit one or more response PDUs,
	// tracked in Reals.
	KindRequest
	// KindResponse is a PDU emitted in answer to a Request, linked back via Req.
	KindResponse
)

// PDU is the quantum of I/O: a fixed-capacity arena plus the cursors that
// track how much of it is valid, parsed, and still required. In the
// pointer-arithmetic original this was `m`/`ap`/`scan`/`lim` into a shared
// buffer; here those become explicit slice indices into arena, always
// relative to offset 0 (m is always 0 for a pool-owned buffer).
type PDU struct {
	arena []byte

	ap   int // end of valid (read-from-socket) bytes
	scan int // parser cursor
	size int // declared total length once known; -1 if not yet known
	need int // bytes required before the next decode invocation; 0 = fully consumed

	kind  Kind
	Req   *PDU   // the request this PDU answers, if Kind == KindResponse
	Reals []*PDU // responses attached to this request, if Kind == KindRequest

	Proto string // optional protocol tag label; the transport layer leaves it empty and Reset clears it
}

func newPDU(capacity int) *PDU {
	return &PDU{arena: make([]byte, capacity)}
}

func (p *PDU) reset() {
	p.ap = 0
	p.scan = 0
	p.size = -1
	p.need = 1
	p.kind = KindPlain
	p.Req = nil
	p.Reals = nil
	p.Proto = ""
}

// Cap returns the arena's fixed capacity.
func (p *PDU) Cap() int { return len(p.arena) }

// Len returns the number of valid (read) bytes, ap - m.
func (p *PDU) Len() int { return p.ap }

// Bytes returns the valid bytes read so far, [m, ap).
func (p *PDU) Bytes() []byte { return p.arena[:p.ap] }

// Avail returns the writable remainder of the arena, [ap, lim).
func (p *PDU) Avail() []byte { return p.arena[p.ap:] }

// Advance records that n bytes were written into Avail(), moving ap forward.
func (p *PDU) Advance(n int) {
	p.ap += n
	if p.ap > len(p.arena) {
		panic(fmt.Sprintf("pdu: Advance(%d) overruns capacity %d at ap=%d", n, len(p.arena), p.ap-n))
	}
}

// Scan returns the parser cursor.
func (p *PDU) Scan() int { return p.scan }

// SetScan moves the parser cursor forward.
func (p *PDU) SetScan(n int) { p.scan = n }

// DeclaredSize returns the PDU's self-declared total length, or -1 if unknown.
func (p *PDU) DeclaredSize() int { return p.size }

// SetDeclaredSize records the PDU's self-declared total length once decoded
// from its length-prefix field.
func (p *PDU) SetDeclaredSize(n int) { p.size = n }

// Need reports how many more bytes must arrive before the registered
// decoder can be invoked again. Zero means fully consumed.
func (p *PDU) Need() int { return p.need }

// SetNeed updates the bytes-required count; this is the sole coupling point
// between the transport-agnostic read engine and a protocol's framing logic.
func (p *PDU) SetNeed(n int) { p.need = n }

// Kind reports the PDU's request/response role.
func (p *PDU) Kind() Kind { return p.kind }

// SetKind sets the PDU's request/response role.
func (p *PDU) SetKind(k Kind) { p.kind = k }

// AttachResponse links resp as a response to the request p: resp.Req = p,
// and resp is appended to p.Reals. p must be KindRequest (set by the
// caller before linking).
func (p *PDU) AttachResponse(resp *PDU) {
	resp.Req = p
	resp.kind = KindResponse
	p.Reals = append(p.Reals, resp)
}

// CopySurplus copies the bytes read past this PDU's declared length into a
// freshly-acquired PDU from the same pool, per the overflow-split handling
// in the read engine: the surplus bytes are the start of the next PDU.
func CopySurplus(from *PDU, into *PDU) {
	surplus := from.arena[from.size:from.ap]
	n := copy(into.arena, surplus)
	into.ap = n
}
