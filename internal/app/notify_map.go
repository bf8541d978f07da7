package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"sipcore/internal/config"
	"sipcore/internal/notifier"
)

func mapNotifyConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notify
	out := notifier.Config{
		Enabled:    nc.Enabled,
		URL:        strings.TrimSpace(nc.URL),
		Workers:    nc.Workers,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
		RetryMax:   nc.RetryMax,
	}
	for _, e := range nc.Events {
		if e = strings.TrimSpace(e); e != "" {
			out.Events = append(out.Events, e)
		}
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notify: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	if out.Enabled {
		u, err := url.Parse(out.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			// The URL may carry a token; keep it out of the error.
			return notifier.Config{}, fmt.Errorf("notify.url must be an http(s) URL when notify.enabled is true")
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"notify.retry_base", nc.RetryBase, &out.RetryBase},
		{"notify.retry_max_delay", nc.RetryMaxDelay, &out.RetryMaxDelay},
		{"notify.dedup_window", nc.DedupWindow, &out.DedupWindow},
		{"notify.timeout", nc.Timeout, &out.Timeout},
	}
	for _, d := range durations {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return notifier.Config{}, err
		}
		*d.dst = v
	}
	if strings.TrimSpace(nc.DedupWindow) == "" {
		out.DedupWindow = 10 * time.Minute
	}
	return out, nil
}
