package ioloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hfradio/stanag5066d/pkg/transport"
)

// Pool is the daemon's fixed-size worker pool: it owns every Worker,
// assigns new connections round-robin, and tracks which worker a given fd
// is currently pinned to so a cross-worker delivery (the bridge enqueueing
// onto another connection's write queue) can arm that connection's
// EPOLLOUT interest without the sender needing a handle on the right
// worker.
type Pool struct {
	workers []*Worker
	next    uint64

	mu      sync.Mutex
	ownerOf map[int]*Worker // fd -> owning worker, for ArmWriteByFd

	wg sync.WaitGroup
}

// NewPool starts n workers (n must be >= 1), each with its own epoll
// instance, sharing onRead across all of them.
func NewPool(n int, log *slog.Logger, onRead ReadHandler) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ioloop: pool size must be strictly positive, got %d", n)
	}
	p := &Pool{ownerOf: map[int]*Worker{}}
	for i := 0; i < n; i++ {
		w, err := NewWorker(i, log, onRead)
		if err != nil {
			return nil, fmt.Errorf("ioloop: starting worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// Start launches every worker's readiness loop as its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w := w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Stop wakes every worker so it notices context cancellation promptly.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Wait blocks until every worker's Run has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// RegisterListener arms l on every worker, so an accepted connection can
// land on whichever worker happens to notice it first (effectively
// randomizing listener-side load across the pool without a central
// dispatcher).
func (p *Pool) RegisterListener(l *Listener, handler AcceptHandler) error {
	for _, w := range p.workers {
		if err := w.RegisterListener(l, handler); err != nil {
			return err
		}
	}
	return nil
}

// Assign pins c to the next worker in round-robin order and records
// ownership for ArmWriteByFd.
func (p *Pool) Assign(c *transport.Connection, timer TimerSource) error {
	p.mu.Lock()
	idx := p.next % uint64(len(p.workers))
	p.next++
	w := p.workers[idx]
	p.ownerOf[c.Fd] = w
	p.mu.Unlock()
	return w.AssignConnection(c, timer)
}

// Remove unpins c from whatever worker owns it.
func (p *Pool) Remove(c *transport.Connection) {
	p.mu.Lock()
	w, ok := p.ownerOf[c.Fd]
	delete(p.ownerOf, c.Fd)
	p.mu.Unlock()
	if ok {
		w.RemoveConnection(c)
	}
}

// ArmWriteByFd arms EPOLLOUT on whichever worker owns fd, the hook a
// cross-worker delivery (bridge -> ConnRegistry.Deliver) uses after
// enqueueing bytes on a connection it doesn't itself own.
func (p *Pool) ArmWriteByFd(fd int) {
	p.mu.Lock()
	w, ok := p.ownerOf[fd]
	p.mu.Unlock()
	if ok {
		w.ArmWrite(fd)
	}
}
