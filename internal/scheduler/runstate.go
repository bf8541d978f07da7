package scheduler

import (
	"sync"
	"time"
)

// runState tracks whether a job is in flight.
type runState struct {
	mu       sync.Mutex
	inflight bool
	since    time.Time
}

func (s *runState) tryAcquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	s.since = now
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.since = time.Time{}
	s.mu.Unlock()
}

func (s *runState) snapshot() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.since
}

// history keeps the most recent run reports.
type history struct {
	mu    sync.Mutex
	size  int
	items []RunReport
}

func (h *history) add(r RunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, r)
	if h.size > 0 && len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
}

func (h *history) resize(n int) {
	h.mu.Lock()
	h.size = n
	if n > 0 && len(h.items) > n {
		h.items = h.items[len(h.items)-n:]
	}
	h.mu.Unlock()
}

// list returns newest first.
func (h *history) list() []RunReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RunReport, len(h.items))
	for i, r := range h.items {
		out[len(h.items)-1-i] = r
	}
	return out
}

func (h *history) last(j Job) *RunReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.items) - 1; i >= 0; i-- {
		if h.items[i].Job == j && !h.items[i].Skipped {
			r := h.items[i]
			return &r
		}
	}
	return nil
}
