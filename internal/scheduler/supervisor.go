package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"sipcore/internal/eventbus"
	"sipcore/internal/processor"
	logx "sipcore/pkg/logx"
)

// ErrJobRunning is reported by a manual trigger while the same job runs.
var ErrJobRunning = errors.New("job already running")

// Runner provides the job bodies.
type Runner interface {
	ProcessDue(ctx context.Context, target time.Time, opt processor.RunOptions) (processor.Summary, error)
	RetryFailed(ctx context.Context, retention time.Duration, opt processor.RunOptions) (processor.Summary, error)
	Cleanup(ctx context.Context, retention time.Duration) (processor.CleanupResult, error)
}

type jobState struct {
	guard    runState
	runs     atomic.Uint64
	failures atomic.Uint64
	skips    atomic.Uint64
}

type armedEntry struct {
	id   cron.EntryID
	spec ParsedSpec
}

// Supervisor arms the periodic jobs and serves manual triggers.
type Supervisor struct {
	mu      sync.Mutex
	cfg     Config
	started bool
	c       *cron.Cron
	entries map[Job]armedEntry

	runner Runner
	log    logx.Logger
	bus    eventbus.Bus
	base   context.Context
	now    func() time.Time
	loc    *time.Location

	jobs map[Job]*jobState
	hist history
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithBaseContext sets the context scheduled runs execute under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Supervisor) { s.base = ctx }
}

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Supervisor) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New returns a stopped supervisor holding cfg.
func New(runner Runner, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Supervisor, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Supervisor{
		cfg:     cfg,
		entries: map[Job]armedEntry{},
		runner:  runner,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		base:    context.Background(),
		now:     time.Now,
		loc:     time.Local,
		jobs:    map[Job]*jobState{},
	}
	for _, j := range Jobs {
		s.jobs[j] = &jobState{}
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.hist.resize(cfg.historySize())
	return s, nil
}

// Config returns the current configuration.
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start merges patch into the current config, clears existing timers and
// arms every enabled job. An invalid config leaves everything untouched.
func (s *Supervisor) Start(patch *ConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Merge(patch)
	if err := next.Validate(); err != nil {
		return err
	}
	s.disarmLocked()
	s.cfg = next
	s.hist.resize(next.historySize())
	if err := s.armLocked(); err != nil {
		s.disarmLocked()
		return err
	}
	s.started = true
	s.log.Info("scheduler started", s.jobFieldsLocked()...)
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerStarted, Data: next.Patch()})
	return nil
}

// Stop clears all timers. Runs in progress are not interrupted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasStarted := s.started
	s.disarmLocked()
	s.started = false
	if wasStarted {
		s.log.Info("scheduler stopped")
		s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerStopped})
	}
}

// Restart is Stop followed by Start with the current config.
func (s *Supervisor) Restart() error {
	s.Stop()
	return s.Start(nil)
}

// UpdateConfig merges patch and, when started, re-arms so interval and
// enable changes apply immediately. The merge reads and replaces the config
// under one lock so concurrent patches never overwrite each other.
func (s *Supervisor) UpdateConfig(patch *ConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(s.cfg.Merge(patch))
}

// Apply replaces the whole config; used by config hot reload.
func (s *Supervisor) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(cfg)
}

func (s *Supervisor) applyLocked(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.hist.resize(cfg.historySize())
	if s.started {
		s.disarmLocked()
		if err := s.armLocked(); err != nil {
			s.started = false
			return err
		}
	}
	s.log.Info("scheduler config updated", append(s.jobFieldsLocked(), logx.Bool("started", s.started))...)
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerConfig, Data: cfg.Patch()})
	return nil
}

func (s *Supervisor) armLocked() error {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	entries := map[Job]armedEntry{}
	for _, j := range Jobs {
		jc := s.cfg.Job(j)
		if !jc.Enabled {
			continue
		}
		spec, err := jc.spec()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfigInvalid, j, err)
		}
		sched, err := spec.Schedule()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfigInvalid, j, err)
		}
		job := j
		id := c.Schedule(sched, cron.FuncJob(func() { s.fire(job) }))
		entries[j] = armedEntry{id: id, spec: spec}
	}
	c.Start()
	s.c = c
	s.entries = entries
	return nil
}

// disarmLocked stops the cron without waiting for running jobs.
func (s *Supervisor) disarmLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	s.entries = map[Job]armedEntry{}
}

func (s *Supervisor) jobFieldsLocked() []logx.Field {
	fields := make([]logx.Field, 0, len(Jobs))
	for _, j := range Jobs {
		if e, ok := s.entries[j]; ok {
			fields = append(fields, logx.String(string(j), e.spec.String()))
		} else {
			fields = append(fields, logx.String(string(j), "off"))
		}
	}
	return fields
}

// fire is the cron callback. A failing job stays armed.
func (s *Supervisor) fire(j Job) {
	st := s.jobs[j]
	if !st.guard.tryAcquire(s.now()) {
		st.skips.Add(1)
		s.log.Warn("job still running; skipping scheduled fire", logx.String("job", string(j)))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobSkipped, Data: RunReport{Job: j, Trigger: "schedule", Started: s.now(), Skipped: true}})
		return
	}
	defer st.guard.release()
	s.execute(s.base, j, "schedule", time.Time{})
}

// execute runs a job body once and records the outcome. Panics are
// converted to errors.
func (s *Supervisor) execute(ctx context.Context, j Job, trigger string, target time.Time) (rep RunReport) {
	cfg := s.Config()
	st := s.jobs[j]
	rep = RunReport{Job: j, Trigger: trigger, Started: s.now()}
	log := s.log.With(logx.String("job", string(j)), logx.String("trigger", trigger))

	st.runs.Add(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Data: RunReport{Job: j, Trigger: trigger, Started: rep.Started}})
	log.Debug("job started")

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("panic: %v", r)
			log.Error("job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		rep.Duration = s.now().Sub(rep.Started)
		if rep.Err != nil {
			rep.Error = rep.Err.Error()
			st.failures.Add(1)
			log.Error("job failed", logx.Err(rep.Err), logx.Duration("dur", rep.Duration))
			s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: rep})
		} else {
			log.Info("job finished", logx.Duration("dur", rep.Duration))
			s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: rep})
		}
		s.hist.add(rep)
	}()

	switch j {
	case JobProcessing:
		sum, err := s.runner.ProcessDue(ctx, target, cfg.RunOptions())
		rep.Summary, rep.Err = &sum, err
	case JobRetry:
		sum, err := s.runner.RetryFailed(ctx, cfg.FailedRecordRetention, cfg.RunOptions())
		rep.Summary, rep.Err = &sum, err
	case JobCleanup:
		res, err := s.runner.Cleanup(ctx, cfg.FailedRecordRetention)
		rep.Cleanup, rep.Err = &res, err
	default:
		rep.Err = fmt.Errorf("unknown job %q", j)
	}
	return rep
}

// ManualProcess runs the processing job once now. A nil date means today.
func (s *Supervisor) ManualProcess(ctx context.Context, date *time.Time) RunReport {
	var target time.Time
	if date != nil {
		target = *date
	}
	return s.manual(ctx, JobProcessing, target)
}

// ManualRetry runs the retry-failed job once now.
func (s *Supervisor) ManualRetry(ctx context.Context) RunReport {
	return s.manual(ctx, JobRetry, time.Time{})
}

// ManualCleanup runs the cleanup job once now.
func (s *Supervisor) ManualCleanup(ctx context.Context) RunReport {
	return s.manual(ctx, JobCleanup, time.Time{})
}

func (s *Supervisor) manual(ctx context.Context, j Job, target time.Time) RunReport {
	st := s.jobs[j]
	if !st.guard.tryAcquire(s.now()) {
		st.skips.Add(1)
		rep := RunReport{Job: j, Trigger: "manual", Started: s.now(), Skipped: true, Err: ErrJobRunning, Error: ErrJobRunning.Error()}
		s.log.Warn("manual trigger rejected; job running", logx.String("job", string(j)))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobSkipped, Data: rep})
		return rep
	}
	defer st.guard.release()
	return s.execute(ctx, j, "manual", target)
}
