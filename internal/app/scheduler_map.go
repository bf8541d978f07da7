package app

import (
	"fmt"
	"strings"
	"time"

	"sipcore/internal/config"
	"sipcore/internal/scheduler"
)

// mapSchedulerConfig overlays the file's scheduler section on the defaults.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, *time.Location, error) {
	sc := cfg.Scheduler
	out := scheduler.DefaultConfig()

	jobs := []struct {
		key string
		src config.JobConfig
		dst *scheduler.JobConfig
	}{
		{"scheduler.processing", sc.Processing, &out.Processing},
		{"scheduler.retry", sc.Retry, &out.Retry},
		{"scheduler.cleanup", sc.Cleanup, &out.Cleanup},
	}
	for _, j := range jobs {
		if j.src.Enabled != nil {
			j.dst.Enabled = *j.src.Enabled
		}
		d, err := config.ParseDurationOrDefault(j.key+".interval", j.src.Interval, j.dst.Interval)
		if err != nil {
			return scheduler.Config{}, nil, err
		}
		j.dst.Interval = d
		j.dst.Schedule = strings.TrimSpace(j.src.Schedule)
	}

	if sc.BatchSize != 0 {
		out.BatchSize = sc.BatchSize
	}
	if sc.MaxRetryAttempts != 0 {
		out.MaxRetryAttempts = sc.MaxRetryAttempts
	}
	if sc.RetryMultiplier != 0 {
		out.RetryMultiplier = sc.RetryMultiplier
	}
	if sc.HistorySize != 0 {
		out.HistorySize = sc.HistorySize
	}
	out.SkipTerminalRetries = sc.SkipTerminalRetries

	var err error
	if strings.TrimSpace(sc.InterBatchDelay) != "" {
		if out.InterBatchDelay, err = config.ParseDurationField("scheduler.inter_batch_delay", sc.InterBatchDelay); err != nil {
			return scheduler.Config{}, nil, err
		}
	}
	if out.RetryDelay, err = config.ParseDurationOrDefault("scheduler.retry_delay", sc.RetryDelay, out.RetryDelay); err != nil {
		return scheduler.Config{}, nil, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("scheduler.retry_max_delay", sc.RetryMaxDelay); err != nil {
		return scheduler.Config{}, nil, err
	}
	if out.FailedRecordRetention, err = config.ParseDurationOrDefault("scheduler.failed_record_retention", sc.FailedRecordRetention, out.FailedRecordRetention); err != nil {
		return scheduler.Config{}, nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	if err := out.Validate(); err != nil {
		return scheduler.Config{}, nil, err
	}
	return out, loc, nil
}
