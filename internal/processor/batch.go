package processor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sipcore/internal/eventbus"
	"sipcore/internal/plan"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

type workItem struct {
	plan   plan.Plan
	target time.Time
}

// ProcessDue executes every ACTIVE plan due on or before target.
//
// A zero target means today. Plans whose next period falls after their end
// date are moved to COMPLETED and never selected. An error is returned only
// when the plan list cannot be read.
func (p *Processor) ProcessDue(ctx context.Context, target time.Time, opt RunOptions) (Summary, error) {
	started := p.now()
	if target.IsZero() {
		target = started
	}
	target = plan.Day(target)
	sum := Summary{Started: started, Target: target, Results: []Result{}}

	plans, err := p.store.ListPlans(ctx, plan.StatusActive)
	if err != nil {
		return p.finish(sum), fmt.Errorf("list active plans: %w", err)
	}

	due := make([]workItem, 0, len(plans))
	for _, pl := range plans {
		history, err := p.store.ListTransactions(ctx, storage.TransactionFilter{PlanID: pl.ID, Status: plan.TxCompleted})
		if err != nil {
			p.log.Warn("skipping plan: history unavailable", logx.String("plan", pl.ID), logx.Err(err))
			sum.Skipped++
			continue
		}
		d := plan.NextDue(pl, history)
		switch {
		case d.State == plan.DueExpired:
			p.completeExpired(ctx, pl, d.Date)
			sum.Expired++
		case d.IsDueBy(target):
			due = append(due, workItem{plan: pl, target: target})
		}
	}

	if len(due) == 0 {
		p.log.Debug("no plans due", logx.Date("target", target), logx.Int("active", len(plans)))
		return p.finish(sum), nil
	}

	p.log.Info("processing due plans", logx.Date("target", target), logx.Int("due", len(due)), logx.Int("batch_size", opt.batchSize()))
	err = p.runBatches(ctx, due, opt, &sum)
	return p.finish(sum), err
}

func (p *Processor) completeExpired(ctx context.Context, pl plan.Plan, next time.Time) {
	log := p.log.With(logx.String("plan", pl.ID), logx.Date("next_due", next))
	if err := p.store.UpdatePlanStatus(ctx, pl.ID, plan.StatusCompleted); err != nil {
		log.Error("expired plan completion failed", logx.Err(err))
		return
	}
	log.Info("plan past end date; marked completed")
	p.bus.Publish(eventbus.PlanCompletedEvent(pl.ID, pl.Symbol, "end_date"))
}

// runBatches splits items into consecutive batches, runs each batch
// concurrently and waits for all of it before the next one starts.
func (p *Processor) runBatches(ctx context.Context, items []workItem, opt RunOptions, sum *Summary) error {
	size := opt.batchSize()
	for start := 0; start < len(items); start += size {
		if start > 0 && opt.InterBatchDelay > 0 {
			if err := p.sleep(ctx, opt.InterBatchDelay); err != nil {
				p.log.Warn("batch run interrupted", logx.Int("remaining", len(items)-start), logx.Err(err))
				return err
			}
		}
		end := min(start+size, len(items))
		batch := items[start:end]
		results := make([]Result, len(batch))

		// A panicking plan fails alone; the group reports it once the batch
		// is done instead of canceling its siblings.
		var g errgroup.Group
		g.SetLimit(size)
		for i, it := range batch {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("plan %s: panic: %v", it.plan.ID, r)
						results[i] = Result{PlanID: it.plan.ID, Date: it.target, Attempts: 1}
						results[i].fail(err)
					}
				}()
				results[i] = p.retrier.Run(ctx, it.plan, it.target, opt.Backoff)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			p.log.Error("plan execution panicked", logx.Int("batch", sum.Batches+1), logx.Err(err))
		}

		sum.Batches++
		for _, r := range results {
			sum.TotalProcessed++
			if r.Success {
				sum.Successful++
			} else {
				sum.Failed++
			}
		}
		sum.Results = append(sum.Results, results...)
		p.log.Debug("batch done", logx.Int("batch", sum.Batches), logx.Int("size", len(batch)))
	}
	return nil
}

func (p *Processor) finish(sum Summary) Summary {
	sum.Duration = p.now().Sub(sum.Started)
	sum.DurationMs = sum.Duration.Milliseconds()
	if sum.TotalProcessed > 0 || sum.Expired > 0 {
		p.log.Info("run finished",
			logx.Int("processed", sum.TotalProcessed),
			logx.Int("successful", sum.Successful),
			logx.Int("failed", sum.Failed),
			logx.Int("expired", sum.Expired),
			logx.Int("batches", sum.Batches),
			logx.Duration("dur", sum.Duration),
		)
	}
	return sum
}
