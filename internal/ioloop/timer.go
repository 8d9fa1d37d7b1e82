package ioloop

import "time"

// TimerSource is anything a worker must wake for on a retransmit deadline
// independent of socket readiness — in practice, one per-peer DTS session's
// retransmit scheduler. A worker holds one TimerSource per connection it
// currently owns that needs timer-driven wakeups; connections that don't
// (SIS client sockets, auxiliary protocols) never register one.
type TimerSource interface {
	// NextDeadline reports the nearest pending deadline, if any timer is
	// armed.
	NextDeadline() (time.Time, bool)
	// FireExpired resends/acts on everything due at or before now and
	// re-arms as appropriate.
	FireExpired(now time.Time)
}

// timerSet tracks the TimerSources registered on one worker, keyed by the
// connection's fd so AssignConnection/unassign can add and remove them
// without the caller tracking a separate handle. A worker typically owns a
// handful of DTS peer sessions, so a linear scan for the nearest deadline
// is simpler than a heap-of-heaps and cheap enough at this scale.
type timerSet struct {
	byFd map[int]TimerSource
}

func newTimerSet() *timerSet {
	return &timerSet{byFd: map[int]TimerSource{}}
}

func (t *timerSet) register(fd int, src TimerSource) {
	t.byFd[fd] = src
}

func (t *timerSet) unregister(fd int) {
	delete(t.byFd, fd)
}

// nextTimeoutMs returns the epoll_wait timeout, in milliseconds, that
// expires no later than the nearest registered deadline. -1 means block
// indefinitely (no timers armed).
func (t *timerSet) nextTimeoutMs(now time.Time) int {
	var nearest time.Time
	found := false
	for _, src := range t.byFd {
		d, ok := src.NextDeadline()
		if !ok {
			continue
		}
		if !found || d.Before(nearest) {
			nearest = d
			found = true
		}
	}
	if !found {
		return -1
	}
	remaining := nearest.Sub(now)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}

// fireExpired invokes FireExpired on every registered source, once each,
// letting each source decide independently what (if anything) is due.
func (t *timerSet) fireExpired(now time.Time) {
	for _, src := range t.byFd {
		src.FireExpired(now)
	}
}
