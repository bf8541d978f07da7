package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sipcore/internal/plan"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Execute(ctx context.Context, p plan.Plan, target time.Time) Result {
	return m.Called(ctx, p, target).Get(0).(Result)
}

func failure(err error) Result {
	return Result{PlanID: "p1", Err: err, Error: err.Error()}
}

func TestBackoffNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    Backoff
		want []time.Duration
	}{
		{name: "fixed", b: FixedBackoff(3, 5*time.Second), want: []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}},
		{name: "exponential", b: Backoff{Delay: time.Second, Multiplier: 2}, want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{name: "capped", b: Backoff{Delay: time.Second, Multiplier: 3, MaxDelay: 5 * time.Second}, want: []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}},
		{name: "zero delay", b: Backoff{Multiplier: 2}, want: []time.Duration{0, 0, 0}},
	}
	for _, tt := range tests {
		for i, want := range tt.want {
			assert.Equal(t, want, tt.b.Next(i), "%s attempt %d", tt.name, i)
		}
	}
}

func TestRetryExhaustsAttemptsWithFixedDelay(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := seedPlan(t, st, monthlyPlan(t, "p1", "2024-01-01"))
	sl := &recordingSleeper{}
	proc := newProcessor(st, failingPrice(), sl)

	res := proc.Retrier().Run(context.Background(), p, testNow, FixedBackoff(3, 5*time.Second))
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrPriceUnavailable)
	assert.Equal(t, 3, countRows(t, st, "p1", plan.TxFailed))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sl.Delays(), "no wait after the last attempt")
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	t.Parallel()
	m := &mockExecutor{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(ErrPriceUnavailable)).Once()
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(Result{PlanID: "p1", Success: true}).Once()
	sl := &recordingSleeper{}

	r := NewRetrier(m, sl.Sleep, logx.Nop())
	res := r.Run(context.Background(), monthlyPlan(t, "p1", "2024-01-01"), testNow, FixedBackoff(5, time.Second))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, sl.Delays(), 1)
	m.AssertNumberOfCalls(t, "Execute", 2)
}

func TestRetryEverythingByDefault(t *testing.T) {
	t.Parallel()
	m := &mockExecutor{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(ErrPlanInactive))
	sl := &recordingSleeper{}

	res := NewRetrier(m, sl.Sleep, logx.Nop()).Run(context.Background(), monthlyPlan(t, "p1", "2024-01-01"), testNow, FixedBackoff(3, 0))
	assert.Equal(t, 3, res.Attempts)
	m.AssertNumberOfCalls(t, "Execute", 3)
}

func TestRetryTerminalAware(t *testing.T) {
	t.Parallel()
	for _, cause := range []error{ErrPlanInactive, ErrPlanExpired, NoRetry(errors.New("bad symbol"))} {
		m := &mockExecutor{}
		m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(fmt.Errorf("wrapped: %w", cause)))
		sl := &recordingSleeper{}

		res := NewRetrier(m, sl.Sleep, logx.Nop()).Run(context.Background(), monthlyPlan(t, "p1", "2024-01-01"), testNow, FixedBackoff(3, time.Second).TerminalAware())
		assert.Equal(t, 1, res.Attempts, cause.Error())
		assert.Empty(t, sl.Delays())
	}

	m := &mockExecutor{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(ErrPriceUnavailable))
	res := NewRetrier(m, (&recordingSleeper{}).Sleep, logx.Nop()).Run(context.Background(), monthlyPlan(t, "p1", "2024-01-01"), testNow, FixedBackoff(3, time.Second).TerminalAware())
	assert.Equal(t, 3, res.Attempts, "price failures stay retryable")
}

func TestRetryCancelledDuringSleep(t *testing.T) {
	t.Parallel()
	m := &mockExecutor{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(ErrPriceUnavailable))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewRetrier(m, SleepContext, logx.Nop()).Run(ctx, monthlyPlan(t, "p1", "2024-01-01"), testNow, FixedBackoff(3, time.Hour))
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Success)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	m := &mockExecutor{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(failure(ErrPriceUnavailable))
	res := NewRetrier(m, nil, logx.Nop()).Run(context.Background(), monthlyPlan(t, "p1", "2024-01-01"), testNow, Backoff{})
	require.Equal(t, 1, res.Attempts)
}

func TestSleepContext(t *testing.T) {
	t.Parallel()
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
