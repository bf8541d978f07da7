package processor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipcore/internal/plan"
	"sipcore/internal/pricing"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

func TestProcessDueMonthlyPlanNextPeriod(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))
	seedCompleted(t, st, "p1", "2024-01-01")

	sl := &recordingSleeper{}
	sum, err := newProcessor(st, fixedPrice(100), sl).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{BatchSize: 10, Backoff: FixedBackoff(3, time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalProcessed)
	assert.Equal(t, 1, sum.Successful)
	assert.Equal(t, 1, sum.Batches)
	require.Len(t, sum.Results, 1)
	assert.True(t, sum.Results[0].Units.Equal(decimal.NewFromInt(50)))

	txs, err := st.ListTransactions(context.Background(), storage.TransactionFilter{PlanID: "p1", Status: plan.TxCompleted})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, day(t, "2024-02-01"), txs[0].Date)
	assert.True(t, txs[0].Units.Equal(decimal.NewFromInt(50)))

	// Nothing is due again the same day.
	sum, err = newProcessor(st, fixedPrice(100), sl).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.TotalProcessed)
}

func TestProcessDueSelectsOnlyDuePlans(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seedPlan(t, st, monthlyPlan(t, "due", "2024-01-01"))
	notYet := monthlyPlan(t, "later", "2024-01-20")
	seedPlan(t, st, notYet)
	paused := monthlyPlan(t, "paused", "2023-01-01")
	paused.Status = plan.StatusPaused
	seedPlan(t, st, paused)

	sum, err := newProcessor(st, fixedPrice(100), &recordingSleeper{}).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, "due", sum.Results[0].PlanID)
}

func TestProcessDueBatchCount(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ n, b, batches int }{
		{n: 1, b: 10, batches: 1},
		{n: 10, b: 10, batches: 1},
		{n: 11, b: 10, batches: 2},
		{n: 23, b: 10, batches: 3},
		{n: 7, b: 1, batches: 7},
		{n: 5, b: 0, batches: 1},
	} {
		st := storage.NewMemory()
		for i := 0; i < tc.n; i++ {
			seedPlan(t, st, monthlyPlan(t, fmt.Sprintf("p%02d", i), "2024-01-01"))
		}
		sl := &recordingSleeper{}
		sum, err := newProcessor(st, fixedPrice(100), sl).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{BatchSize: tc.b, InterBatchDelay: time.Second})
		require.NoError(t, err)
		assert.Equal(t, tc.batches, sum.Batches, "n=%d b=%d", tc.n, tc.b)
		assert.Len(t, sum.Results, tc.n)
		assert.Equal(t, tc.n, sum.TotalProcessed)
		assert.Len(t, sl.Delays(), tc.batches-1, "cooldown between batches only")
	}
}

func TestProcessDueEmpty(t *testing.T) {
	t.Parallel()
	sl := &recordingSleeper{}
	sum, err := newProcessor(storage.NewMemory(), fixedPrice(100), sl).ProcessDue(context.Background(), time.Time{}, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.TotalProcessed)
	assert.Zero(t, sum.Batches)
	assert.NotNil(t, sum.Results)
	assert.Equal(t, plan.Day(testNow), sum.Target, "zero target means today")
	assert.Empty(t, sl.Delays())
}

func TestProcessDueExpiredPlanNotSelected(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := monthlyPlan(t, "p1", "2024-01-01")
	end := day(t, "2024-01-15")
	p.EndDate = &end
	seedPlan(t, st, p)
	seedCompleted(t, st, "p1", "2024-01-01")

	sum, err := newProcessor(st, fixedPrice(100), &recordingSleeper{}).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.TotalProcessed)
	assert.Equal(t, 1, sum.Expired)

	got, err := st.GetPlan(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, got.Status)
	assert.Equal(t, 1, countRows(t, st, "p1", ""))
}

func TestProcessDueContinuesOnPartialFailure(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	good := monthlyPlan(t, "good", "2024-01-01")
	bad := monthlyPlan(t, "bad", "2024-01-01")
	bad.Symbol = "DELISTED"
	seedPlan(t, st, good)
	seedPlan(t, st, bad)

	src := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		if symbol == "DELISTED" {
			return pricing.Quote{}, pricing.ErrNoPrice
		}
		return pricing.Quote{Symbol: symbol, Price: decimal.NewFromInt(100)}, nil
	})
	sum, err := newProcessor(st, src, &recordingSleeper{}).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{Backoff: FixedBackoff(2, 0)})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalProcessed)
	assert.Equal(t, 1, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, countRows(t, st, "bad", plan.TxFailed))
}

func TestProcessDueListFailureIsJobError(t *testing.T) {
	t.Parallel()
	st := &faultyStore{Store: storage.NewMemory()}
	st.failList.Store(true)
	_, err := newProcessor(st, fixedPrice(1), &recordingSleeper{}).ProcessDue(context.Background(), testNow, RunOptions{})
	assert.ErrorIs(t, err, errDiskFull)
}

func TestProcessDueFansOutWithinBatchOnly(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	for i := 0; i < 9; i++ {
		seedPlan(t, st, monthlyPlan(t, fmt.Sprintf("p%d", i), "2024-01-01"))
	}

	var inflight, peak atomic.Int32
	src := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inflight.Add(-1)
		return pricing.Quote{Symbol: symbol, Price: decimal.NewFromInt(10)}, nil
	})

	sum, err := newProcessor(st, src, &recordingSleeper{}).ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 9, sum.Successful)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestProcessDueStopsBetweenBatchesOnCancel(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	for i := 0; i < 4; i++ {
		seedPlan(t, st, monthlyPlan(t, fmt.Sprintf("p%d", i), "2024-01-01"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	proc := New(st, fixedPrice(10), nopLog(), nil, WithClock(func() time.Time { return testNow }), WithSleeper(sleeper))
	sum, err := proc.ProcessDue(ctx, day(t, "2024-02-01"), RunOptions{BatchSize: 2, InterBatchDelay: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, sum.TotalProcessed)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProcessDuePanicFailsOnlyThatPlan(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		p := monthlyPlan(t, id, "2024-01-01")
		if id == "b" {
			p.Symbol = "BOOM"
		}
		seedPlan(t, st, p)
	}
	src := pricing.SourceFunc(func(ctx context.Context, symbol string) (pricing.Quote, error) {
		if symbol == "BOOM" {
			panic("quote decoder exploded")
		}
		return pricing.Quote{Symbol: symbol, Price: decimal.NewFromInt(100)}, nil
	})

	var out lockedBuffer
	proc := New(st, src, logx.NewWriter(&out, "error"), nil,
		WithClock(func() time.Time { return testNow }),
		WithSleeper((&recordingSleeper{}).Sleep),
	)
	sum, err := proc.ProcessDue(context.Background(), day(t, "2024-02-01"), RunOptions{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalProcessed)
	assert.Equal(t, 2, sum.Successful)
	assert.Equal(t, 1, sum.Failed)

	for _, r := range sum.Results {
		if r.PlanID == "b" {
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, "panic: quote decoder exploded")
		}
	}
	assert.Contains(t, out.String(), "plan execution panicked")
}
