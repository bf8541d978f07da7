package app

import (
	"fmt"
	"strings"
	"time"

	"sipcore/internal/config"
	"sipcore/internal/pricing"
)

func mapPricingConfig(cfg *config.Config) (pricing.Config, error) {
	pc := cfg.Pricing
	provider := strings.ToLower(strings.TrimSpace(pc.Provider))
	switch provider {
	case "", "static", "yahoo":
	default:
		return pricing.Config{}, fmt.Errorf("unknown pricing.provider: %s", pc.Provider)
	}
	if pc.RatePerSec < 0 || pc.Burst < 0 || pc.Breaker.TripFailures < 0 {
		return pricing.Config{}, fmt.Errorf("pricing: rate_per_sec, burst and breaker.trip_failures must be >= 0")
	}

	out := pricing.Config{
		Provider:       provider,
		Static:         pc.Static,
		RatePerSec:     pc.RatePerSec,
		Burst:          pc.Burst,
		FallbackStatic: pc.FallbackStatic,
		Yahoo: pricing.YahooConfig{
			BaseURL:   strings.TrimSpace(pc.Yahoo.BaseURL),
			UserAgent: strings.TrimSpace(pc.Yahoo.UserAgent),
		},
		Breaker: pricing.BreakerConfig{TripFailures: pc.Breaker.TripFailures},
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"pricing.cache_ttl", pc.CacheTTL, &out.CacheTTL},
		{"pricing.yahoo.timeout", pc.Yahoo.Timeout, &out.Yahoo.Timeout},
		{"pricing.breaker.base_delay", pc.Breaker.BaseDelay, &out.Breaker.BaseDelay},
		{"pricing.breaker.max_delay", pc.Breaker.MaxDelay, &out.Breaker.MaxDelay},
		{"pricing.breaker.reset_after", pc.Breaker.ResetAfter, &out.Breaker.ResetAfter},
	}
	for _, d := range durations {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return pricing.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}
