package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sipcore/internal/processor"
)

// ErrConfigInvalid is returned by Start and UpdateConfig for a config that
// fails validation. The supervisor state is left unchanged.
var ErrConfigInvalid = processor.ErrConfigInvalid

// Job names a periodic job.
type Job string

const (
	JobProcessing Job = "processing"
	JobRetry      Job = "retry"
	JobCleanup    Job = "cleanup"
)

// Jobs lists every job in a stable order.
var Jobs = []Job{JobProcessing, JobRetry, JobCleanup}

// JobConfig is one job's trigger. Schedule, when set, overrides Interval.
type JobConfig struct {
	Enabled  bool
	Interval time.Duration
	Schedule string
}

func (j JobConfig) spec() (ParsedSpec, error) {
	if strings.TrimSpace(j.Schedule) != "" {
		return ParseSchedule(j.Schedule)
	}
	if j.Interval <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0, got %s", j.Interval)
	}
	return ParsedSpec{Kind: SpecInterval, Every: j.Interval, Source: "duration"}, nil
}

// Config is the in-memory scheduler configuration.
type Config struct {
	Processing JobConfig
	Retry      JobConfig
	Cleanup    JobConfig

	BatchSize       int
	InterBatchDelay time.Duration

	MaxRetryAttempts    int
	RetryDelay          time.Duration
	RetryMultiplier     float64
	RetryMaxDelay       time.Duration
	SkipTerminalRetries bool

	FailedRecordRetention time.Duration

	// HistorySize bounds the run history ring (0 = 50).
	HistorySize int
}

func DefaultConfig() Config {
	return Config{
		Processing:            JobConfig{Enabled: true, Interval: 24 * time.Hour},
		Retry:                 JobConfig{Enabled: true, Interval: 6 * time.Hour},
		Cleanup:               JobConfig{Enabled: true, Interval: 24 * time.Hour},
		BatchSize:             10,
		InterBatchDelay:       time.Second,
		MaxRetryAttempts:      3,
		RetryDelay:            5 * time.Second,
		RetryMultiplier:       1,
		FailedRecordRetention: 30 * 24 * time.Hour,
		HistorySize:           50,
	}
}

func (c Config) Job(j Job) JobConfig {
	switch j {
	case JobProcessing:
		return c.Processing
	case JobRetry:
		return c.Retry
	default:
		return c.Cleanup
	}
}

func (c Config) Validate() error {
	var errs []error
	for _, j := range Jobs {
		if _, err := c.Job(j).spec(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j, err))
		}
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize))
	}
	if c.InterBatchDelay < 0 {
		errs = append(errs, errors.New("inter-batch delay must be >= 0"))
	}
	if c.MaxRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("max retry attempts must be >= 1, got %d", c.MaxRetryAttempts))
	}
	if c.RetryDelay < 0 || c.RetryMaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must be >= 0"))
	}
	if c.RetryMultiplier < 0 {
		errs = append(errs, errors.New("retry multiplier must be >= 0"))
	}
	if c.FailedRecordRetention <= 0 {
		errs = append(errs, errors.New("failed record retention must be > 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Backoff is the retry policy every plan execution runs under.
func (c Config) Backoff() processor.Backoff {
	b := processor.Backoff{
		MaxAttempts: c.MaxRetryAttempts,
		Delay:       c.RetryDelay,
		Multiplier:  c.RetryMultiplier,
		MaxDelay:    c.RetryMaxDelay,
	}
	if c.SkipTerminalRetries {
		b = b.TerminalAware()
	}
	return b
}

func (c Config) RunOptions() processor.RunOptions {
	return processor.RunOptions{
		BatchSize:       c.BatchSize,
		InterBatchDelay: c.InterBatchDelay,
		Backoff:         c.Backoff(),
	}
}

func (c Config) historySize() int {
	if c.HistorySize <= 0 {
		return 50
	}
	return c.HistorySize
}

// ConfigPatch is a partial update. Nil fields keep the current value.
// Durations are milliseconds on the wire.
type ConfigPatch struct {
	ProcessingIntervalMs *int64 `json:"processingIntervalMs,omitempty"`
	RetryIntervalMs      *int64 `json:"retryIntervalMs,omitempty"`
	CleanupIntervalMs    *int64 `json:"cleanupIntervalMs,omitempty"`

	EnableProcessing *bool `json:"enableProcessing,omitempty"`
	EnableRetry      *bool `json:"enableRetry,omitempty"`
	EnableCleanup    *bool `json:"enableCleanup,omitempty"`

	ProcessingSchedule *string `json:"processingSchedule,omitempty"`
	RetrySchedule      *string `json:"retrySchedule,omitempty"`
	CleanupSchedule    *string `json:"cleanupSchedule,omitempty"`

	BatchSize         *int   `json:"batchSize,omitempty"`
	InterBatchDelayMs *int64 `json:"interBatchDelayMs,omitempty"`

	MaxRetryAttempts       *int     `json:"maxRetryAttempts,omitempty"`
	RetryDelayMs           *int64   `json:"retryDelayMs,omitempty"`
	RetryBackoffMultiplier *float64 `json:"retryBackoffMultiplier,omitempty"`
	RetryMaxDelayMs        *int64   `json:"retryMaxDelayMs,omitempty"`
	SkipTerminalRetries    *bool    `json:"skipTerminalRetries,omitempty"`

	FailedRecordRetentionMs *int64 `json:"failedRecordRetentionMs,omitempty"`
}

// Merge returns c with every non-nil patch field applied.
func (c Config) Merge(p *ConfigPatch) Config {
	if p == nil {
		return c
	}
	setMs(&c.Processing.Interval, p.ProcessingIntervalMs)
	setMs(&c.Retry.Interval, p.RetryIntervalMs)
	setMs(&c.Cleanup.Interval, p.CleanupIntervalMs)
	set(&c.Processing.Enabled, p.EnableProcessing)
	set(&c.Retry.Enabled, p.EnableRetry)
	set(&c.Cleanup.Enabled, p.EnableCleanup)
	set(&c.Processing.Schedule, p.ProcessingSchedule)
	set(&c.Retry.Schedule, p.RetrySchedule)
	set(&c.Cleanup.Schedule, p.CleanupSchedule)
	set(&c.BatchSize, p.BatchSize)
	setMs(&c.InterBatchDelay, p.InterBatchDelayMs)
	set(&c.MaxRetryAttempts, p.MaxRetryAttempts)
	setMs(&c.RetryDelay, p.RetryDelayMs)
	set(&c.RetryMultiplier, p.RetryBackoffMultiplier)
	setMs(&c.RetryMaxDelay, p.RetryMaxDelayMs)
	set(&c.SkipTerminalRetries, p.SkipTerminalRetries)
	setMs(&c.FailedRecordRetention, p.FailedRecordRetentionMs)
	return c
}

// Patch renders the full config in wire form.
func (c Config) Patch() ConfigPatch {
	return ConfigPatch{
		ProcessingIntervalMs:    ms(c.Processing.Interval),
		RetryIntervalMs:         ms(c.Retry.Interval),
		CleanupIntervalMs:       ms(c.Cleanup.Interval),
		EnableProcessing:        ptr(c.Processing.Enabled),
		EnableRetry:             ptr(c.Retry.Enabled),
		EnableCleanup:           ptr(c.Cleanup.Enabled),
		ProcessingSchedule:      ptr(c.Processing.Schedule),
		RetrySchedule:           ptr(c.Retry.Schedule),
		CleanupSchedule:         ptr(c.Cleanup.Schedule),
		BatchSize:               ptr(c.BatchSize),
		InterBatchDelayMs:       ms(c.InterBatchDelay),
		MaxRetryAttempts:        ptr(c.MaxRetryAttempts),
		RetryDelayMs:            ms(c.RetryDelay),
		RetryBackoffMultiplier:  ptr(c.RetryMultiplier),
		RetryMaxDelayMs:         ms(c.RetryMaxDelay),
		SkipTerminalRetries:     ptr(c.SkipTerminalRetries),
		FailedRecordRetentionMs: ms(c.FailedRecordRetention),
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setMs(dst *time.Duration, v *int64) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}

func ptr[T any](v T) *T { return &v }

func ms(d time.Duration) *int64 { return ptr(d.Milliseconds()) }
