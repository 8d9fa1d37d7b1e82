package transport

import (
	"sync"

	"github.com/rs/xid"
)

// ConnRegistry is the set of live connections a daemon instance owns,
// keyed by connection ID for O(1) lookup from a cross-worker delivery
// (e.g. the bridge routing a reassembled C_PDU to a SIS client by SAP
// owner). One registry is shared by every worker under a short mutex, per
// a low-contention locking discipline.
type ConnRegistry struct {
	mu    sync.Mutex
	byID  map[xid.ID]*Connection
	byFd  map[int]*Connection
	stats struct {
		added, removed uint64
	}
}

// NewConnRegistry constructs an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		byID: map[xid.ID]*Connection{},
		byFd: map[int]*Connection{},
	}
}

// Add registers c, making it visible to Lookup/LookupByFd/Deliver.
func (r *ConnRegistry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
	r.byFd[c.Fd] = c
	r.stats.added++
}

// Remove unregisters c. It does not close c; callers close first, then
// remove (or vice versa — both orders are safe since Connection.Close is
// idempotent and independent of registry membership).
func (r *ConnRegistry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, c.ID)
	delete(r.byFd, c.Fd)
	r.stats.removed++
}

// Lookup returns the connection with the given ID, if still registered.
func (r *ConnRegistry) Lookup(id xid.ID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// LookupByFd returns the connection owning fd, if still registered — the
// lookup the event loop performs on every readiness event.
func (r *ConnRegistry) LookupByFd(fd int) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byFd[fd]
	return c, ok
}

// Len reports the number of currently-registered connections.
func (r *ConnRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Deliver implements bridge.Deliverer: owner is expected to be the xid.ID
// of a SAP-bound connection (the value pkg/sap.Table.Bind stores as the
// owner), and wire is enqueued on that connection's write queue.
func (r *ConnRegistry) Deliver(owner any, wire []byte) {
	id, ok := owner.(xid.ID)
	if !ok {
		return
	}
	c, ok := r.Lookup(id)
	if !ok {
		return
	}
	c.EnqueueBytes(wire)
}

// Snapshot returns every currently-registered connection, for status
// reporting and graceful-shutdown draining.
func (r *ConnRegistry) Snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}
