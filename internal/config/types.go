// Package config loads the sipcore configuration file (JSON or YAML),
// validates it and hot-reloads it on change.
package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "6h", "720h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Pricing   PricingConfig   `json:"pricing"`
	Scheduler SchedulerConfig `json:"scheduler"`
	API       APIConfig       `json:"api"`
	Notify    NotifyConfig    `json:"notify"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards events at or above MinLevel to the event bus.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the audit trail backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sipcore.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PricingConfig selects and tunes the price source.
type PricingConfig struct {
	// Provider is "static" or "yahoo".
	Provider string            `json:"provider"`
	Static   map[string]string `json:"static,omitempty"`
	Yahoo    YahooConfig       `json:"yahoo,omitempty"`

	CacheTTL       string        `json:"cache_ttl,omitempty"`
	RatePerSec     float64       `json:"rate_per_sec,omitempty"`
	Burst          int           `json:"burst,omitempty"`
	Breaker        BreakerConfig `json:"breaker,omitempty"`
	FallbackStatic bool          `json:"fallback_static,omitempty"`
}

type YahooConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

// SchedulerConfig controls the periodic jobs.
//
// Omitted fields keep the built-in defaults (processing 24h, retry 6h,
// cleanup 24h, batch 10, 3 attempts, 5s retry delay, 30 day retention).
type SchedulerConfig struct {
	// AutoStart arms the jobs when the app starts.
	AutoStart bool `json:"auto_start"`
	// Timezone for cron expressions (default: local).
	Timezone string `json:"timezone,omitempty"`

	Processing JobConfig `json:"processing"`
	Retry      JobConfig `json:"retry"`
	Cleanup    JobConfig `json:"cleanup"`

	BatchSize       int    `json:"batch_size,omitempty"`
	InterBatchDelay string `json:"inter_batch_delay,omitempty"`

	MaxRetryAttempts    int     `json:"max_retry_attempts,omitempty"`
	RetryDelay          string  `json:"retry_delay,omitempty"`
	RetryMultiplier     float64 `json:"retry_multiplier,omitempty"`
	RetryMaxDelay       string  `json:"retry_max_delay,omitempty"`
	SkipTerminalRetries bool    `json:"skip_terminal_retries,omitempty"`

	FailedRecordRetention string `json:"failed_record_retention,omitempty"`
	HistorySize           int    `json:"history_size,omitempty"`
}

// JobConfig is one job's trigger. Enabled is a pointer so an omitted key
// keeps the default (enabled).
type JobConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`
	// Schedule is a cron expression or interval and wins over Interval.
	Schedule string `json:"schedule,omitempty"`
}

// APIConfig controls the HTTP control surface.
//
// Security note: binding to a non-loopback address needs a token or allow_insecure.
type APIConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string   `json:"token,omitempty"` // do not log
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifyConfig controls webhook notifications for failures and completions.
type NotifyConfig struct {
	Enabled bool     `json:"enabled"`
	URL     string   `json:"url,omitempty"` // do not log; may embed a secret
	Events  []string `json:"events,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}
