package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.Processing.Interval)
	assert.Equal(t, 6*time.Hour, cfg.Retry.Interval)
	assert.Equal(t, 30*24*time.Hour, cfg.FailedRecordRetention)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Retry.Interval = 0 }},
		{"bad schedule", func(c *Config) { c.Cleanup.Schedule = "whenever" }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"attempts", func(c *Config) { c.MaxRetryAttempts = 0 }},
		{"negative delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"retention", func(c *Config) { c.FailedRecordRetention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
		})
	}
}

func TestDisabledJobStillNeedsValidInterval(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Retry.Enabled = false
	cfg.Retry.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigMergeFromJSON(t *testing.T) {
	t.Parallel()
	var patch ConfigPatch
	require.NoError(t, json.Unmarshal([]byte(`{"retryIntervalMs":3600000,"enableCleanup":false,"batchSize":25,"retryBackoffMultiplier":2}`), &patch))

	cfg := DefaultConfig().Merge(&patch)
	assert.Equal(t, time.Hour, cfg.Retry.Interval)
	assert.False(t, cfg.Cleanup.Enabled)
	assert.True(t, cfg.Processing.Enabled)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 2.0, cfg.RetryMultiplier)
	assert.Equal(t, 24*time.Hour, cfg.Processing.Interval)

	assert.Equal(t, DefaultConfig(), DefaultConfig().Merge(nil))
}

func TestConfigPatchRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Processing.Schedule = "0 6 * * *"
	cfg.SkipTerminalRetries = true
	p := cfg.Patch()
	got := Config{HistorySize: cfg.HistorySize}.Merge(&p)
	assert.Equal(t, cfg, got)
}

func TestConfigBackoff(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	b := cfg.Backoff()
	assert.Equal(t, 3, b.MaxAttempts)
	assert.Equal(t, 5*time.Second, b.Delay)
	assert.Nil(t, b.Retryable)

	cfg.SkipTerminalRetries = true
	assert.NotNil(t, cfg.Backoff().Retryable)

	opt := cfg.RunOptions()
	assert.Equal(t, 10, opt.BatchSize)
	assert.Equal(t, time.Second, opt.InterBatchDelay)
}
