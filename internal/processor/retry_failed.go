package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sipcore/internal/plan"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

// errSkipped marks candidates the retry path chose not to run.
var errSkipped = errors.New("skipped")

// RetryFailed re-executes the latest FAILED record of each plan created
// within retention, targeting the failed record's date.
//
// A plan is left alone when it is no longer ACTIVE or already has a
// COMPLETED record on or after that date.
func (p *Processor) RetryFailed(ctx context.Context, retention time.Duration, opt RunOptions) (Summary, error) {
	started := p.now()
	sum := Summary{Started: started, Results: []Result{}}
	if retention <= 0 {
		return p.finish(sum), fmt.Errorf("%w: retention must be > 0", ErrConfigInvalid)
	}

	failed, err := p.store.ListTransactions(ctx, storage.TransactionFilter{
		Status:       plan.TxFailed,
		CreatedAfter: started.Add(-retention),
	})
	if err != nil {
		return p.finish(sum), fmt.Errorf("list failed transactions: %w", err)
	}

	// Rows are newest-first, so the first row per plan is its latest failure.
	seen := make(map[string]bool, len(failed))
	var items []workItem
	for _, tx := range failed {
		if seen[tx.PlanID] {
			continue
		}
		seen[tx.PlanID] = true

		pl, err := p.retryCandidate(ctx, tx)
		if err != nil {
			if !errors.Is(err, errSkipped) {
				p.log.Warn("retry candidate lookup failed", logx.String("plan", tx.PlanID), logx.Err(err))
			}
			sum.Skipped++
			continue
		}
		items = append(items, workItem{plan: pl, target: plan.Day(tx.Date)})
	}

	if len(items) == 0 {
		p.log.Debug("no failed transactions to retry", logx.Int("failed_rows", len(failed)))
		return p.finish(sum), nil
	}
	p.log.Info("retrying failed transactions", logx.Int("plans", len(items)))
	err = p.runBatches(ctx, items, opt, &sum)
	return p.finish(sum), err
}

func (p *Processor) retryCandidate(ctx context.Context, tx plan.Transaction) (plan.Plan, error) {
	pl, err := p.store.GetPlan(ctx, tx.PlanID)
	if errors.Is(err, storage.ErrNotFound) {
		return plan.Plan{}, errSkipped
	}
	if err != nil {
		return plan.Plan{}, err
	}
	if pl.Status != plan.StatusActive {
		return plan.Plan{}, errSkipped
	}
	done, err := p.store.ListTransactions(ctx, storage.TransactionFilter{
		PlanID: pl.ID,
		Status: plan.TxCompleted,
		From:   tx.Date,
		Limit:  1,
	})
	if err != nil {
		return plan.Plan{}, err
	}
	if len(done) > 0 {
		return plan.Plan{}, errSkipped
	}
	return pl, nil
}
