package dts

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// reassemblySlot tracks one in-progress connectionless C_PDU: its declared
// total size, the accumulating buffer, and a bit-per-byte reception
// bitmap (kept at byte granularity to match segment offsets and lengths
// that don't align to any coarser boundary).
type reassemblySlot struct {
	totalSize int
	buf       []byte
	received  []bool
	count     int
}

// Reassembler holds the bounded (up to 4096-slot) Non-ARQ C_PDU reassembly
// table for one peer, backed by a capacity-bounded LRU so a misbehaving or
// stalled peer cannot exhaust memory with abandoned partial C_PDUs.
type Reassembler struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewReassembler creates a reassembly table holding up to capacity
// in-progress C_PDUs (capacity should not exceed MaxCPDUID+1).
func NewReassembler(capacity int) *Reassembler {
	cache, err := lru.New(capacity)
	if err != nil {
		panic(err)
	}
	return &Reassembler{cache: cache}
}

// Accept folds one received segment into the reassembly table for cpduID.
// It returns the complete C_PDU bytes and delivered=true exactly once, the
// instant the reception bitmap becomes fully set; otherwise delivered is
// false. discardReason is non-empty when the segment is inconsistent with
// the slot's existing state (size mismatch, out-of-bounds offset, or
// content that contradicts already-received overlapping bytes).
func (r *Reassembler) Accept(cpduID uint16, totalSize uint16, offset uint16, payload []byte) (complete []byte, delivered bool, discardReason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slot *reassemblySlot
	if v, ok := r.cache.Get(cpduID); ok {
		slot = v.(*reassemblySlot)
		if slot.totalSize != int(totalSize) {
			return nil, false, "dts: non-ARQ total size differs from existing slot"
		}
	} else {
		slot = &reassemblySlot{
			totalSize: int(totalSize),
			buf:       make([]byte, totalSize),
			received:  make([]bool, totalSize),
		}
		r.cache.Add(cpduID, slot)
	}

	end := int(offset) + len(payload)
	if end > slot.totalSize {
		return nil, false, "dts: segment offset+length exceeds declared total size"
	}
	for i, b := range payload {
		idx := int(offset) + i
		if slot.received[idx] && slot.buf[idx] != b {
			return nil, false, "dts: overlapping segment content inconsistent"
		}
		if !slot.received[idx] {
			slot.received[idx] = true
			slot.count++
		}
		slot.buf[idx] = b
	}

	if slot.count == slot.totalSize {
		r.cache.Remove(cpduID)
		return slot.buf, true, ""
	}
	return nil, false, ""
}

// Drop discards any in-progress reassembly for cpduID (used when a peer
// resets or the slot expires).
func (r *Reassembler) Drop(cpduID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(cpduID)
}

// Len reports the number of C_PDUs currently in progress.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
