package pdu

import "sync"

// refillBatch is how many PDUs a worker cache pulls from the shared global
// free list on a local miss.
const refillBatch = 8

// Pool is the process-wide PDU allocator: a shared global free list behind
// a short mutex, meant to be accessed only on a worker cache's miss or
// overflow. Each I/O worker should hold its own *WorkerCache over a shared
// *Pool.
type Pool struct {
	capacity int

	mu     sync.Mutex
	global []*PDU
}

// NewPool creates a pool whose PDUs have the given arena capacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		panic("pdu: pool capacity must be strictly positive")
	}
	return &Pool{capacity: capacity}
}

func (p *Pool) fresh() *PDU {
	return newPDU(p.capacity)
}

// WorkerCache is a worker-local front end to a shared Pool: a thread-local
// free list that refills from, and overflows to, the pool's global list
// under a short lock, per the two-tier allocator design.
type WorkerCache struct {
	pool      *Pool
	local     []*PDU
	highWater int
}

// NewWorkerCache creates a worker-local cache over pool. highWater bounds
// how many PDUs the worker holds before releases overflow to the shared
// global list.
func NewWorkerCache(pool *Pool, highWater int) *WorkerCache {
	if highWater <= 0 {
		panic("pdu: worker cache high-water mark must be strictly positive")
	}
	return &WorkerCache{pool: pool, highWater: highWater}
}

// Get acquires a PDU from the worker-local list, refilling from the shared
// global list on a miss and falling back to a fresh allocation if the
// global list is also empty. The returned PDU is reset to its initial
// post-allocation state: ap = scan = 0, size = -1 (unknown), need = 1,
// req = reals = nil.
func (w *WorkerCache) Get() *PDU {
	if len(w.local) == 0 {
		w.refill()
	}
	var out *PDU
	if n := len(w.local); n > 0 {
		out = w.local[n-1]
		w.local = w.local[:n-1]
	} else {
		out = w.pool.fresh()
	}
	out.reset()
	return out
}

func (w *WorkerCache) refill() {
	w.pool.mu.Lock()
	defer w.pool.mu.Unlock()
	n := refillBatch
	if avail := len(w.pool.global); avail < n {
		n = avail
	}
	if n == 0 {
		return
	}
	tail := len(w.pool.global) - n
	w.local = append(w.local, w.pool.global[tail:]...)
	w.pool.global = w.pool.global[:tail]
}

// Put releases a PDU back to the worker-local list. Past the high-water
// mark, the surplus overflows to the pool's shared global list under its
// short mutex.
func (w *WorkerCache) Put(p *PDU) {
	w.local = append(w.local, p)
	if len(w.local) <= w.highWater {
		return
	}
	overflow := len(w.local) - w.highWater
	surplus := append([]*PDU(nil), w.local[:overflow]...)
	w.local = w.local[overflow:]

	w.pool.mu.Lock()
	w.pool.global = append(w.pool.global, surplus...)
	w.pool.mu.Unlock()
}

// Release drops all references held by p (request/response links) and
// returns it to the cache. Callers must not retain p after calling Release.
func (w *WorkerCache) Release(p *PDU) {
	p.Req = nil
	p.Reals = nil
	w.Put(p)
}
