package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipcore/internal/plan"
	"sipcore/internal/storage"
)

func TestCleanupDeletesOnlyStaleFailures(t *testing.T) {
	t.Parallel()
	ages := []time.Duration{time.Minute, time.Hour, 24 * time.Hour, 10 * 24 * time.Hour, 45 * 24 * time.Hour, 400 * 24 * time.Hour}
	for _, retention := range []time.Duration{time.Hour, 24 * time.Hour, 30 * 24 * time.Hour, 365 * 24 * time.Hour} {
		st := storage.NewMemory()
		seedPlan(t, st, monthlyPlan(t, "p1", "2023-01-01"))
		wantDeleted := 0
		for _, age := range ages {
			seedFailed(t, st, "p1", "2024-01-01", testNow.Add(-age))
			if age > retention {
				wantDeleted++
			}
		}
		// Exactly at the cutoff is kept.
		seedFailed(t, st, "p1", "2024-01-01", testNow.Add(-retention))
		seedCompleted(t, st, "p1", "2023-02-01")

		proc := newProcessor(st, fixedPrice(1), &recordingSleeper{})
		res, err := proc.Cleanup(context.Background(), retention)
		require.NoError(t, err)
		assert.EqualValues(t, wantDeleted, res.Deleted, "retention %s", retention)
		assert.Equal(t, testNow.Add(-retention), res.Cutoff)

		left, err := st.ListTransactions(context.Background(), storage.TransactionFilter{})
		require.NoError(t, err)
		for _, tx := range left {
			if tx.Status == plan.TxFailed {
				assert.False(t, tx.CreatedAt.Before(res.Cutoff))
			}
		}
		assert.Equal(t, 1, countRows(t, st, "p1", plan.TxCompleted))

		res, err = proc.Cleanup(context.Background(), retention)
		require.NoError(t, err)
		assert.Zero(t, res.Deleted, "idempotent")
	}
}

func TestCleanupRejectsNonPositiveRetention(t *testing.T) {
	t.Parallel()
	_, err := newProcessor(storage.NewMemory(), fixedPrice(1), &recordingSleeper{}).Cleanup(context.Background(), -time.Second)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}
