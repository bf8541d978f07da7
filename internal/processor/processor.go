// Package processor executes due investment plans: single executions,
// bounded retries, batched fan-out, re-execution of failed records and
// cleanup of stale failures.
package processor

import (
	"time"

	"sipcore/internal/eventbus"
	"sipcore/internal/pricing"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

const defaultBatchSize = 10

// RunOptions carries the per-run knobs of a batch.
type RunOptions struct {
	BatchSize       int
	InterBatchDelay time.Duration
	Backoff         Backoff
}

func (o RunOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return defaultBatchSize
	}
	return o.BatchSize
}

// Summary aggregates one batch or retry run.
type Summary struct {
	Started        time.Time     `json:"started"`
	Target         time.Time     `json:"target"`
	TotalProcessed int           `json:"totalProcessed"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Expired        int           `json:"expired"`
	Skipped        int           `json:"skipped"`
	Batches        int           `json:"batches"`
	Results        []Result      `json:"results"`
	Duration       time.Duration `json:"duration"`
	DurationMs     int64         `json:"durationMs"`
}

// CleanupResult reports a cleanup run.
type CleanupResult struct {
	Deleted  int64         `json:"deleted"`
	Cutoff   time.Time     `json:"cutoff"`
	Duration time.Duration `json:"duration"`
}

// Processor owns the batch, retry-failed and cleanup job bodies.
type Processor struct {
	store   storage.Store
	exec    *Executor
	retrier *Retrier
	log     logx.Logger
	bus     eventbus.Bus

	now   func() time.Time
	sleep Sleeper
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces time.Now for the processor and its executor.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithSleeper replaces the inter-attempt and inter-batch sleeper.
func WithSleeper(s Sleeper) Option {
	return func(p *Processor) { p.sleep = s }
}

func New(store storage.Store, prices pricing.Source, log logx.Logger, bus eventbus.Bus, opts ...Option) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	p := &Processor{
		store: store,
		log:   log.With(logx.String("comp", "processor")),
		bus:   bus,
		now:   time.Now,
		sleep: SleepContext,
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	p.exec = NewExecutor(store, prices, log, bus)
	p.exec.Now = p.now
	p.retrier = NewRetrier(p.exec, p.sleep, log)
	return p
}

// Executor exposes the single-shot executor.
func (p *Processor) Executor() *Executor { return p.exec }

// Retrier exposes the retry coordinator.
func (p *Processor) Retrier() *Retrier { return p.retrier }
