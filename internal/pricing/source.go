// Package pricing resolves current per-unit prices for instrument symbols.
//
// Sources compose as decorators: a provider (static table or Yahoo chart
// endpoint) wrapped by a circuit breaker, a rate limiter and a TTL cache.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	logx "sipcore/pkg/logx"
)

var (
	// ErrNoPrice means the provider has no usable price for the symbol.
	ErrNoPrice = errors.New("no price")
	// ErrCircuitOpen is returned while a symbol's breaker is cooling down.
	ErrCircuitOpen = errors.New("price circuit open")
)

// Quote is one price observation.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Source string
	At     time.Time
}

// Source returns the current price for a symbol.
type Source interface {
	Price(ctx context.Context, symbol string) (Quote, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, symbol string) (Quote, error)

func (f SourceFunc) Price(ctx context.Context, symbol string) (Quote, error) { return f(ctx, symbol) }

type Config struct {
	// Provider is "static" or "yahoo".
	Provider string
	Static   map[string]string
	Yahoo    YahooConfig

	CacheTTL   time.Duration
	RatePerSec float64
	Burst      int
	Breaker    BreakerConfig

	// FallbackStatic consults the static table when the provider fails.
	FallbackStatic bool
}

// New builds the configured source chain:
// provider -> breaker -> rate limit -> cache, optionally backed by the static table.
func New(cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "pricing"))

	static, err := NewStatic(cfg.Static)
	if err != nil {
		return nil, err
	}

	var src Source
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "static":
		src = static
	case "yahoo":
		src = NewBreaker(NewYahoo(cfg.Yahoo), cfg.Breaker)
		if cfg.RatePerSec > 0 {
			src = NewLimited(src, cfg.RatePerSec, cfg.Burst)
		}
		if cfg.FallbackStatic && static.Len() > 0 {
			src = NewFallback(log, src, static)
		}
	default:
		return nil, fmt.Errorf("unknown price provider %q", cfg.Provider)
	}

	if cfg.CacheTTL > 0 {
		src = NewCached(src, cfg.CacheTTL)
	}
	log.Info("price source ready",
		logx.String("provider", provider),
		logx.Duration("cache_ttl", cfg.CacheTTL),
		logx.Float64("rate_per_sec", cfg.RatePerSec),
	)
	return src, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
