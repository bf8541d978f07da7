package processor

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipcore/internal/eventbus"
	"sipcore/internal/plan"
	"sipcore/internal/pricing"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

func newExecutor(st storage.Store, src pricing.Source) *Executor {
	e := NewExecutor(st, src, logx.Nop(), eventbus.Nop())
	e.Now = func() time.Time { return testNow }
	return e
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))

	res := newExecutor(st, fixedPrice(100)).Execute(context.Background(), p, day(t, "2024-02-01"))
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.TransactionID)
	assert.True(t, res.Units.Equal(decimal.NewFromInt(50)))
	assert.True(t, res.Price.Equal(decimal.NewFromInt(100)))

	txs, err := st.ListTransactions(context.Background(), storage.TransactionFilter{PlanID: "p1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, plan.TxCompleted, txs[0].Status)
	assert.Equal(t, res.TransactionID, txs[0].ID)
	assert.Equal(t, day(t, "2024-02-01"), txs[0].Date)
	assert.Equal(t, testNow, txs[0].CreatedAt)
	assert.NoError(t, txs[0].Validate())
}

func TestExecuteInactivePlanWritesNothing(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := monthlyPlan(t, "p1", "2024-01-01")
	p.Status = plan.StatusPaused
	seedPlan(t, st, p)

	res := newExecutor(st, fixedPrice(100)).Execute(context.Background(), p, testNow)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPlanInactive)
	assert.Zero(t, countRows(t, st, "p1", ""))
}

func TestExecuteExpiredPlanMarksCompleted(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	p := monthlyPlan(t, "p1", "2024-01-01")
	end := day(t, "2024-01-15")
	p.EndDate = &end
	seedPlan(t, st, p)
	seedCompleted(t, st, "p1", "2024-01-01")

	e := NewExecutor(st, fixedPrice(100), logx.Nop(), bus)
	res := e.Execute(context.Background(), p, day(t, "2024-02-01"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPlanExpired)
	assert.Contains(t, res.Error, "end date")

	got, err := st.GetPlan(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, got.Status)
	assert.Equal(t, 1, countRows(t, st, "p1", ""), "only the pre-existing row")

	ev := <-events
	assert.Equal(t, eventbus.PlanCompleted, ev.Type)
}

func TestExecuteExpiredPlanStatusWriteFails(t *testing.T) {
	t.Parallel()
	st := &faultyStore{Store: storage.NewMemory()}
	p := monthlyPlan(t, "p1", "2024-01-01")
	end := day(t, "2024-01-15")
	p.EndDate = &end
	seedPlan(t, st, p)
	st.failStatus.Store(true)

	res := newExecutor(st, fixedPrice(100)).Execute(context.Background(), p, day(t, "2024-02-01"))
	assert.ErrorIs(t, res.Err, ErrPlanExpired)
	assert.ErrorIs(t, res.Err, ErrPersistence)
}

func TestExecutePriceFailuresWriteFailedRow(t *testing.T) {
	t.Parallel()
	zero := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		return pricing.Quote{Symbol: symbol, Price: decimal.Zero, Source: "test"}, nil
	})
	negative := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		return pricing.Quote{Symbol: symbol, Price: decimal.NewFromInt(-3), Source: "test"}, nil
	})
	for name, src := range map[string]pricing.Source{"error": failingPrice(), "zero": zero, "negative": negative} {
		src := src
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := storage.NewMemory()
			p := seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))

			res := newExecutor(st, src).Execute(context.Background(), p, testNow)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, ErrPriceUnavailable)
			assert.Contains(t, res.Error, "invalid price")

			txs, err := st.ListTransactions(context.Background(), storage.TransactionFilter{PlanID: "p1"})
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.Equal(t, plan.TxFailed, txs[0].Status)
			assert.True(t, txs[0].Price.IsZero())
			assert.True(t, txs[0].Units.IsZero())
			assert.NoError(t, txs[0].Validate())
		})
	}
}

func TestExecuteCompletedWriteFailure(t *testing.T) {
	t.Parallel()
	st := &faultyStore{Store: storage.NewMemory()}
	p := seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))
	st.failCompleted.Store(true)

	res := newExecutor(st, fixedPrice(100)).Execute(context.Background(), p, testNow)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.True(t, res.Units.Equal(decimal.NewFromInt(50)), "computed units are kept")
	assert.Equal(t, 1, countRows(t, st, "p1", plan.TxFailed))
}

func TestExecuteAuditWriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	st := &faultyStore{Store: storage.NewMemory()}
	p := seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))
	st.failFailed.Store(true)
	st.failCompleted.Store(true)

	e := newExecutor(st, failingPrice())
	var res Result
	assert.NotPanics(t, func() { res = e.Execute(context.Background(), p, testNow) })
	assert.ErrorIs(t, res.Err, ErrPriceUnavailable)
	assert.NotErrorIs(t, res.Err, errDiskFull)
	assert.Empty(t, res.TransactionID)

	res = newExecutor(st, fixedPrice(10)).Execute(context.Background(), p, testNow)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.Zero(t, countRows(t, st, "p1", ""))
}

func TestCompletedRowsSatisfyUnitsTimesPrice(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	st := storage.NewMemory()
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		amount := decimal.New(rng.Int63n(10_000_000)+1, -2)
		price := decimal.New(rng.Int63n(99_999_999)+1, -int32(rng.Intn(6)))
		p := monthlyPlan(t, "p1", "2024-01-01")
		p.Amount = amount
		src := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
			return pricing.Quote{Symbol: symbol, Price: price, Source: "test"}, nil
		})
		res := newExecutor(st, src).Execute(ctx, p, testNow)
		require.True(t, res.Success, res.Error)
	}

	txs, err := st.ListTransactions(ctx, storage.TransactionFilter{Status: plan.TxCompleted})
	require.NoError(t, err)
	require.Len(t, txs, 200)
	tol := decimal.New(1, -6)
	for _, tx := range txs {
		diff := tx.Units.Mul(tx.Price).Sub(tx.Amount).Abs()
		assert.True(t, diff.LessThanOrEqual(tol), "units*price=%s amount=%s", tx.Units.Mul(tx.Price), tx.Amount)
	}
}
