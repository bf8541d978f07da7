package scheduler

import (
	"time"

	"sipcore/internal/processor"
)

// RunReport is the outcome of one job run, scheduled or manual.
type RunReport struct {
	Job      Job                      `json:"job"`
	Trigger  string                   `json:"trigger"`
	Started  time.Time                `json:"started"`
	Duration time.Duration            `json:"duration"`
	Skipped  bool                     `json:"skipped,omitempty"`
	Summary  *processor.Summary       `json:"summary,omitempty"`
	Cleanup  *processor.CleanupResult `json:"cleanup,omitempty"`
	Err      error                    `json:"-"`
	Error    string                   `json:"error,omitempty"`
}

func (r RunReport) OK() bool { return r.Err == nil }

// JobStatus describes one job in a Status snapshot.
type JobStatus struct {
	Job        Job           `json:"job"`
	Enabled    bool          `json:"enabled"`
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval"`
	IntervalMs int64         `json:"intervalMs"`
	Schedule   string        `json:"schedule"`
	Next       *time.Time    `json:"next,omitempty"`
	Prev       *time.Time    `json:"prev,omitempty"`
	InFlight   bool          `json:"inFlight"`
	InFlightAt *time.Time    `json:"inFlightSince,omitempty"`
	Runs       uint64        `json:"runs"`
	Failures   uint64        `json:"failures"`
	Skips      uint64        `json:"skips"`
	LastRun    *RunReport    `json:"lastRun,omitempty"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	// Running is true when any job is armed.
	Running bool              `json:"running"`
	Started bool              `json:"started"`
	Jobs    map[Job]JobStatus `json:"jobs"`
	Config  ConfigPatch       `json:"config"`
	History []RunReport       `json:"history"`
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	cfg := s.cfg
	started := s.started
	c := s.c
	entries := make(map[Job]armedEntry, len(s.entries))
	for j, e := range s.entries {
		entries[j] = e
	}
	s.mu.Unlock()

	out := Status{Started: started, Jobs: make(map[Job]JobStatus, len(Jobs)), Config: cfg.Patch(), History: s.hist.list()}
	for _, j := range Jobs {
		jc := cfg.Job(j)
		st := s.jobs[j]
		js := JobStatus{
			Job:        j,
			Enabled:    jc.Enabled,
			Interval:   jc.Interval,
			IntervalMs: jc.Interval.Milliseconds(),
			Runs:       st.runs.Load(),
			Failures:   st.failures.Load(),
			Skips:      st.skips.Load(),
			LastRun:    s.hist.last(j),
		}
		if e, ok := entries[j]; ok {
			js.Running = true
			js.Schedule = e.spec.String()
			if c != nil {
				ce := c.Entry(e.id)
				if !ce.Next.IsZero() {
					next := ce.Next
					js.Next = &next
				}
				if !ce.Prev.IsZero() {
					prev := ce.Prev
					js.Prev = &prev
				}
			}
		} else if spec, err := jc.spec(); err == nil {
			js.Schedule = spec.String()
		}
		if busy, since := st.guard.snapshot(); busy {
			js.InFlight = true
			js.InFlightAt = &since
		}
		out.Running = out.Running || js.Running
		out.Jobs[j] = js
	}
	return out
}
