package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sipcore/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	oS, nS := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pricing, newCfg.Pricing) {
		changed = append(changed, "pricing")
		attrs = append(attrs,
			logx.String("pricing.provider", newCfg.Pricing.Provider),
			logx.Int("pricing.static_symbols", len(newCfg.Pricing.Static)),
			logx.String("pricing.cache_ttl", strings.TrimSpace(newCfg.Pricing.CacheTTL)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		sc := newCfg.Scheduler
		attrs = append(attrs,
			logx.Bool("scheduler.auto_start", sc.AutoStart),
			logx.String("scheduler.processing", jobSummary(sc.Processing)),
			logx.String("scheduler.retry", jobSummary(sc.Retry)),
			logx.String("scheduler.cleanup", jobSummary(sc.Cleanup)),
			logx.Int("scheduler.batch_size", sc.BatchSize),
			logx.Int("scheduler.max_retry_attempts", sc.MaxRetryAttempts),
		)
	}

	if nA := newCfg.API; !reflect.DeepEqual(oldCfg.API, nA) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", nA.Enabled),
			logx.String("api.addr", strings.TrimSpace(nA.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(nA.Token) != ""),
			logx.Bool("api.allow_insecure", nA.AllowInsecure),
			logx.Bool("api.pprof", nA.Pprof),
		)
	}

	if nN := newCfg.Notify; !reflect.DeepEqual(oldCfg.Notify, nN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled),
			logx.Bool("notify.url_set", strings.TrimSpace(nN.URL) != ""),
			logx.String("notify.events", strings.Join(nN.Events, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func jobSummary(j JobConfig) string {
	state := "on"
	if j.Enabled != nil && !*j.Enabled {
		state = "off"
	}
	switch {
	case strings.TrimSpace(j.Schedule) != "":
		return state + " " + strings.TrimSpace(j.Schedule)
	case strings.TrimSpace(j.Interval) != "":
		return state + " every " + strings.TrimSpace(j.Interval)
	default:
		return state
	}
}
