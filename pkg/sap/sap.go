// Package sap implements the fixed 16-entry Service Access Point table:
// bind-claim, unbind-release, and lookup-for-delivery, each under a short
// mutex, preserving the exclusivity invariant that at most one connection
// owns any given SAP index at a time.
package sap

import (
	"errors"
	"sync"
)

// Count is the number of SAP slots, indexed 0..15 (a 4-bit identifier).
const Count = 16

// DefaultMTU is the negotiated MTU returned on a successful bind absent any
// other negotiation input.
const DefaultMTU = 2048

var (
	// ErrOutOfRange is returned for a SAP index outside [0, Count).
	ErrOutOfRange = errors.New("sap: index out of range 0..15")
	// ErrOccupied is returned when binding a SAP already owned by another connection.
	ErrOccupied = errors.New("sap: already bound")
	// ErrNotBound is returned when unbinding a SAP with no owner.
	ErrNotBound = errors.New("sap: not bound")
	// ErrOwnerMismatch is returned when unbinding with an owner that does not
	// match the current binding.
	ErrOwnerMismatch = errors.New("sap: owner does not match current binding")
)

// entry holds one SAP slot's binding state.
type entry struct {
	bound       bool
	owner       any
	rank        byte
	serviceType uint16
	mtu         int
}

// Table is the fixed SAP array. Zero value is not usable; use NewTable.
type Table struct {
	mu      sync.Mutex
	entries [Count]entry
}

// NewTable constructs an empty SAP table.
func NewTable() *Table {
	return &Table{}
}

// Bind atomically claims sap for owner with the given rank and service
// type, returning the negotiated MTU. It fails with ErrOccupied if the SAP
// is already bound: on success the SAP slot is atomically claimed; if
// occupied, the request is rejected.
func (t *Table) Bind(sapIdx int, owner any, rank byte, serviceType uint16) (mtu int, err error) {
	if sapIdx < 0 || sapIdx >= Count {
		return 0, ErrOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &t.entries[sapIdx]
	if e.bound {
		return 0, ErrOccupied
	}
	e.bound = true
	e.owner = owner
	e.rank = rank
	e.serviceType = serviceType
	e.mtu = DefaultMTU
	return e.mtu, nil
}

// Unbind releases sap, provided owner matches the current binding.
func (t *Table) Unbind(sapIdx int, owner any) error {
	if sapIdx < 0 || sapIdx >= Count {
		return ErrOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &t.entries[sapIdx]
	if !e.bound {
		return ErrNotBound
	}
	if e.owner != owner {
		return ErrOwnerMismatch
	}
	*e = entry{}
	return nil
}

// ReleaseOwner unbinds whichever SAP owner currently holds, if any. Used
// when a connection closes without sending UNBIND_REQUEST.
func (t *Table) ReleaseOwner(owner any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].bound && t.entries[i].owner == owner {
			t.entries[i] = entry{}
			return
		}
	}
}

// Lookup returns the connection owner bound to sap, for delivery of a
// reassembled C_PDU as a UNIDATA_INDICATION. The caller must read the
// result and release the table lock (done implicitly here) before
// queueing to that connection's write engine, keeping lock hold times
// short.
func (t *Table) Lookup(sapIdx int) (owner any, ok bool) {
	if sapIdx < 0 || sapIdx >= Count {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[sapIdx]
	if !e.bound {
		return nil, false
	}
	return e.owner, true
}

// LookupMTU returns the negotiated MTU for sap, for payload-size
// enforcement at the bridge.
func (t *Table) LookupMTU(sapIdx int) (mtu int, ok bool) {
	if sapIdx < 0 || sapIdx >= Count {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[sapIdx]
	if !e.bound {
		return 0, false
	}
	return e.mtu, true
}

// Binding describes one occupied SAP slot as returned by Snapshot.
type Binding struct {
	SAP         int
	Owner       any
	Rank        byte
	ServiceType uint16
	MTU         int
}

// Snapshot returns every currently-bound SAP entry, for status reporting.
func (t *Table) Snapshot() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Binding
	for i, e := range t.entries {
		if e.bound {
			out = append(out, Binding{SAP: i, Owner: e.owner, Rank: e.rank, ServiceType: e.serviceType, MTU: e.mtu})
		}
	}
	return out
}
