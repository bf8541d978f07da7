package processor

import (
	"context"
	"time"

	"sipcore/internal/plan"
	logx "sipcore/pkg/logx"
)

// PlanExecutor executes one plan once.
type PlanExecutor interface {
	Execute(ctx context.Context, p plan.Plan, target time.Time) Result
}

// Retrier runs a PlanExecutor sequentially under a Backoff.
type Retrier struct {
	exec  PlanExecutor
	sleep Sleeper
	log   logx.Logger
}

func NewRetrier(exec PlanExecutor, sleep Sleeper, log logx.Logger) *Retrier {
	if sleep == nil {
		sleep = SleepContext
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retrier{exec: exec, sleep: sleep, log: log.With(logx.String("comp", "retrier"))}
}

// Run stops at the first success and otherwise returns the last failure
// with Attempts set. Each attempt leaves its own audit row; earlier FAILED
// rows are kept.
func (r *Retrier) Run(ctx context.Context, p plan.Plan, target time.Time, b Backoff) Result {
	attempts := b.attempts()
	var res Result
	for attempt := 0; attempt < attempts; attempt++ {
		res = r.exec.Execute(ctx, p, target)
		res.Attempts = attempt + 1
		if res.Success {
			if attempt > 0 {
				r.log.Info("plan succeeded after retry", logx.String("plan", p.ID), logx.Int("attempts", res.Attempts))
			}
			return res
		}
		if !b.retryable(res.Err) {
			r.log.Debug("terminal failure; not retrying", logx.String("plan", p.ID), logx.Err(res.Err))
			break
		}
		if attempt == attempts-1 {
			break
		}

		delay := b.Next(attempt)
		r.log.Debug("plan retry scheduled",
			logx.String("plan", p.ID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(res.Err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	if !res.Success {
		r.log.Warn("plan failed", logx.String("plan", p.ID), logx.Int("attempts", res.Attempts), logx.String("error", res.Error))
	}
	return res
}
