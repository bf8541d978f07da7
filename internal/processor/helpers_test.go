package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"sipcore/internal/eventbus"
	"sipcore/internal/plan"
	"sipcore/internal/pricing"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

var testNow = time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := plan.ParseDay(s)
	require.NoError(t, err)
	return d
}

func monthlyPlan(t *testing.T, id, start string) plan.Plan {
	t.Helper()
	return plan.Plan{
		ID:        id,
		Name:      "plan " + id,
		Symbol:    "AAPL",
		Amount:    decimal.NewFromInt(5000),
		Frequency: plan.Monthly,
		StartDate: day(t, start),
		Status:    plan.StatusActive,
		AccountID: "acc-1",
	}
}

func seedPlan(t *testing.T, st storage.Store, p plan.Plan) plan.Plan {
	t.Helper()
	require.NoError(t, st.CreatePlan(context.Background(), p))
	return p
}

func seedCompleted(t *testing.T, st storage.Store, planID, date string) {
	t.Helper()
	amount := decimal.NewFromInt(5000)
	price := decimal.NewFromInt(100)
	require.NoError(t, st.AppendTransaction(context.Background(), plan.Transaction{
		PlanID: planID, Amount: amount, Price: price, Units: amount.Div(price),
		Date: day(t, date), Status: plan.TxCompleted, CreatedAt: testNow.Add(-24 * time.Hour),
	}))
}

func seedFailed(t *testing.T, st storage.Store, planID, date string, created time.Time) {
	t.Helper()
	require.NoError(t, st.AppendTransaction(context.Background(), plan.Transaction{
		PlanID: planID, Amount: decimal.NewFromInt(5000), Price: decimal.Zero, Units: decimal.Zero,
		Date: day(t, date), Status: plan.TxFailed, Error: "invalid price", CreatedAt: created,
	}))
}

func fixedPrice(p int64) pricing.Source {
	return pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		return pricing.Quote{Symbol: symbol, Price: decimal.NewFromInt(p), Source: "test", At: testNow}, nil
	})
}

func failingPrice() pricing.Source {
	return pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		return pricing.Quote{}, errors.New("quote service down")
	})
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newProcessor(st storage.Store, src pricing.Source, sl *recordingSleeper) *Processor {
	return New(st, src, logx.Nop(), eventbus.Nop(),
		WithClock(func() time.Time { return testNow }),
		WithSleeper(sl.Sleep),
	)
}

// faultyStore fails selected writes.
type faultyStore struct {
	storage.Store
	failCompleted atomic.Bool
	failFailed    atomic.Bool
	failStatus    atomic.Bool
	failList      atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (f *faultyStore) AppendTransaction(ctx context.Context, tx plan.Transaction) error {
	if tx.Status == plan.TxCompleted && f.failCompleted.Load() {
		return errDiskFull
	}
	if tx.Status == plan.TxFailed && f.failFailed.Load() {
		return errDiskFull
	}
	return f.Store.AppendTransaction(ctx, tx)
}

func (f *faultyStore) UpdatePlanStatus(ctx context.Context, id string, status plan.Status) error {
	if f.failStatus.Load() {
		return errDiskFull
	}
	return f.Store.UpdatePlanStatus(ctx, id, status)
}

func (f *faultyStore) ListPlans(ctx context.Context, statuses ...plan.Status) ([]plan.Plan, error) {
	if f.failList.Load() {
		return nil, errDiskFull
	}
	return f.Store.ListPlans(ctx, statuses...)
}

func countRows(t *testing.T, st storage.Store, planID string, status plan.TxStatus) int {
	t.Helper()
	txs, err := st.ListTransactions(context.Background(), storage.TransactionFilter{PlanID: planID, Status: status})
	require.NoError(t, err)
	return len(txs)
}

func nopLog() logx.Logger { return logx.Nop() }
