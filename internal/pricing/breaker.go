package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerConfig tunes the per-symbol circuit breaker.
// TripFailures < 0 disables it; zero values take defaults.
type BreakerConfig struct {
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.TripFailures == 0 {
		c.TripFailures = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

// circuitState tracks consecutive failures for a single symbol.
//
// On success the failures reset and the circuit closes. On failure the count
// grows and, once it reaches the trip threshold, the circuit opens for an
// exponentially increasing cooldown.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// Breaker fails fast with ErrCircuitOpen for symbols whose lookups keep failing.
type Breaker struct {
	next Source
	cfg  BreakerConfig
	now  func() time.Time

	mu sync.Mutex
	m  map[string]*circuitState
}

func NewBreaker(next Source, cfg BreakerConfig) *Breaker {
	return &Breaker{next: next, cfg: cfg.withDefaults(), now: time.Now, m: map[string]*circuitState{}}
}

func (b *Breaker) Price(ctx context.Context, symbol string) (Quote, error) {
	if b.cfg.TripFailures < 0 {
		return b.next.Price(ctx, symbol)
	}
	key := normalize(symbol)
	if open, until := b.isOpen(key); open {
		return Quote{}, fmt.Errorf("%s until %s: %w", key, until.Format(time.RFC3339), ErrCircuitOpen)
	}
	q, err := b.next.Price(ctx, symbol)
	// Caller cancellation says nothing about the provider.
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		return q, err
	}
	b.record(key, err)
	return q, err
}

func (b *Breaker) state(key string) *circuitState {
	st := b.m[key]
	if st == nil {
		st = &circuitState{}
		b.m[key] = st
	}
	return st
}

func (b *Breaker) isOpen(key string) (bool, time.Time) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	b.maybeReset(st, now)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (b *Breaker) record(key string, err error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	b.maybeReset(st, now)

	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.TripFailures {
		return
	}

	d := b.cfg.BaseDelay
	for i := 0; i < st.fails-b.cfg.TripFailures; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			break
		}
	}
	st.openUntil = now.Add(min(d, b.cfg.MaxDelay))
}

// maybeReset forgets failures when the last one is older than ResetAfter.
func (b *Breaker) maybeReset(st *circuitState, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

// Snapshot returns how many symbols are tracked and how many are open.
func (b *Breaker) Snapshot() (total, open int) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	total = len(b.m)
	for _, st := range b.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
