package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"sipcore/internal/plan"
)

// Memory is a mutex-guarded in-process Store.
type Memory struct {
	mu    sync.RWMutex
	plans map[string]plan.Plan
	order []string
	txs   []plan.Transaction
}

func NewMemory() *Memory {
	return &Memory{plans: map[string]plan.Plan{}}
}

func (m *Memory) CreatePlan(ctx context.Context, p plan.Plan) error {
	_ = ctx
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.plans[p.ID] = p
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (plan.Plan, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return plan.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, statuses ...plan.Status) ([]plan.Plan, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]plan.Plan, 0, len(m.order))
	for _, id := range m.order {
		p := m.plans[id]
		if len(statuses) > 0 && !slices.Contains(statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) UpdatePlanStatus(ctx context.Context, id string, status plan.Status) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	m.plans[id] = p
	return nil
}

func (m *Memory) AppendTransaction(ctx context.Context, tx plan.Transaction) error {
	_ = ctx
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	stamp(&tx, time.Now())
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListTransactions(ctx context.Context, f TransactionFilter) ([]plan.Transaction, error) {
	_ = ctx
	m.mu.RLock()
	out := make([]plan.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if f.match(tx) {
			out = append(out, tx)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.txs[:0]
	var n int64
	for _, tx := range m.txs {
		if tx.Status == plan.TxFailed && tx.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, tx)
	}
	m.txs = kept
	return n, nil
}

func (m *Memory) PlanStats(ctx context.Context, planID string) (PlanStats, error) {
	if _, err := m.GetPlan(ctx, planID); err != nil {
		return PlanStats{}, err
	}
	txs, err := m.ListTransactions(ctx, TransactionFilter{PlanID: planID})
	if err != nil {
		return PlanStats{}, err
	}
	return summarizePlan(planID, txs), nil
}

func (m *Memory) Stats(ctx context.Context, f TransactionFilter) (Stats, error) {
	f.Limit = 0
	txs, err := m.ListTransactions(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(txs), nil
}

func (m *Memory) Close() error { return nil }
