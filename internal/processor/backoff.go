package processor

import (
	"context"
	"time"
)

// Backoff is the retry policy for one plan execution.
//
// Multiplier <= 1 keeps the delay fixed. A nil Retryable retries every
// failure.
type Backoff struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// FixedBackoff retries up to attempts times with a constant delay.
func FixedBackoff(attempts int, delay time.Duration) Backoff {
	return Backoff{MaxAttempts: attempts, Delay: delay, Multiplier: 1}
}

// TerminalAware returns a copy that stops retrying terminal failures.
func (b Backoff) TerminalAware() Backoff {
	b.Retryable = func(err error) bool { return !IsTerminal(err) }
	return b
}

func (b Backoff) attempts() int {
	if b.MaxAttempts < 1 {
		return 1
	}
	return b.MaxAttempts
}

func (b Backoff) retryable(err error) bool {
	if b.Retryable == nil {
		return true
	}
	return b.Retryable(err)
}

// Next returns the wait after the given failed attempt (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Delay
	if d <= 0 {
		return 0
	}
	if b.Multiplier > 1 {
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * b.Multiplier)
			if b.MaxDelay > 0 && d >= b.MaxDelay {
				break
			}
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
