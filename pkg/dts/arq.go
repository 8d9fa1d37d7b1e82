package dts

// isNewer reports whether s is strictly newer than ref under the 8-bit
// modular sequence space, using the "forward distance <= 127 is newer"
// convention that keeps comparisons unambiguous for windows bounded at 127.
func isNewer(ref, s byte) bool {
	d := byte(s - ref)
	return d > 0 && d <= MaxWindow
}

// txEntry tracks one outstanding ARQ-transmitted D_PDU awaiting
// acknowledgement.
type txEntry struct {
	Seq      byte
	Frame    []byte
	Acked    bool
	Attempts int
}

// TxWindow is the transmit side of one peer's ARQ sliding window: the
// lower (oldest unacknowledged) and upper (next to allocate) edges, and
// the 256-slot non-owning tracking array keyed by sequence.
type TxWindow struct {
	LWE  byte
	UWE  byte
	pdus [256]*txEntry
}

// Full reports whether the transmit window has reached its maximum span
// of 127 outstanding sequences.
func (w *TxWindow) Full() bool {
	return int(byte(w.UWE-w.LWE)) >= MaxWindow
}

// Alloc reserves the next sequence number for a new outbound segment,
// failing if the window is full.
func (w *TxWindow) Alloc(e *txEntry) (seq byte, ok bool) {
	if w.Full() {
		return 0, false
	}
	seq = w.UWE
	e.Seq = seq
	w.pdus[seq] = e
	w.UWE++
	return seq, true
}

// ApplyAck folds a received ACK block (the peer's reported lower edge and
// remaining-window bitmap) into the transmit window: sequences named in
// the bitmap are marked acknowledged, and tx_lwe advances across the
// longest contiguous acknowledged run starting at the current lwe,
// releasing each freed entry.
func (w *TxWindow) ApplyAck(newLowerEdge byte, bitmap []byte) []*txEntry {
	var freed []*txEntry

	for w.LWE != newLowerEdge && isNewer(w.LWE, newLowerEdge) {
		if e := w.pdus[w.LWE]; e != nil {
			freed = append(freed, e)
			w.pdus[w.LWE] = nil
		}
		w.LWE++
	}

	width := int(byte(w.UWE - w.LWE))
	for i := 0; i < width && i < len(bitmap)*8; i++ {
		if bitmap[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		seq := byte(int(w.LWE) + i)
		if e := w.pdus[seq]; e != nil {
			e.Acked = true
		}
	}

	for w.LWE != w.UWE {
		e := w.pdus[w.LWE]
		if e == nil {
			w.LWE++
			continue
		}
		if !e.Acked {
			break
		}
		freed = append(freed, e)
		w.pdus[w.LWE] = nil
		w.LWE++
	}
	return freed
}

// Pending returns every currently unacknowledged entry, for retransmission.
func (w *TxWindow) Pending() []*txEntry {
	var out []*txEntry
	for s := w.LWE; s != w.UWE; s++ {
		if e := w.pdus[s]; e != nil && !e.Acked {
			out = append(out, e)
		}
	}
	return out
}

// rxSlot holds one received-but-not-yet-reassembled ARQ segment.
type rxSlot struct {
	present bool
	first   bool
	last    bool
	payload []byte
}

// RxWindow is the receive side of one peer's ARQ sliding window:
// lower/upper edges, a per-sequence reception bitmap (implied by
// slots[i].present), and in-progress multi-segment C_PDU reassembly.
type RxWindow struct {
	LWE   byte
	UWE   byte
	slots [256]rxSlot

	building      []byte
	buildingStart bool
}

func (w *RxWindow) width() int { return int(byte(w.UWE - w.LWE)) }

// Accept processes one received ARQ data segment at sequence seq. It
// returns any C_PDUs completed as a result (a multi-segment C_PDU only
// completes once its Last segment arrives and every preceding segment
// from rx_lwe is contiguously present), the current ACK bitmap to report
// back to the sender, and whether the segment was discarded as a stale
// retransmission or duplicate.
func (w *RxWindow) Accept(seq byte, first, last bool, payload []byte) (complete [][]byte, ackBitmap []byte, lwe byte, discarded bool) {
	fd := byte(seq - w.LWE)

	if fd >= 128 {
		return nil, w.bitmap(), w.LWE, true
	}
	if int(fd) < w.width() {
		if w.slots[seq].present {
			return nil, w.bitmap(), w.LWE, true
		}
	} else {
		if int(fd) >= MaxWindow {
			return nil, w.bitmap(), w.LWE, true
		}
		w.UWE = byte(seq) + 1
	}

	w.slots[seq] = rxSlot{present: true, first: first, last: last, payload: append([]byte(nil), payload...)}

	for w.slots[w.LWE].present {
		slot := w.slots[w.LWE]
		w.building = append(w.building, slot.payload...)
		finishedLast := slot.last
		w.slots[w.LWE] = rxSlot{}
		w.LWE++
		if finishedLast {
			complete = append(complete, w.building)
			w.building = nil
		}
	}
	return complete, w.bitmap(), w.LWE, false
}

func (w *RxWindow) bitmap() []byte {
	width := w.width()
	out := make([]byte, (width+7)/8)
	for i := 0; i < width; i++ {
		seq := byte(int(w.LWE) + i)
		if w.slots[seq].present {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// PeerState is the per-peer DTS connection state machine.
type PeerState int

const (
	StateIdle PeerState = iota
	StateConnected
	StateResetPending
	StateClosing
)

func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateResetPending:
		return "RESET_PENDING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}
