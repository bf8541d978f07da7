package plan

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func activePlan(t *testing.T, freq Frequency, start string) Plan {
	t.Helper()
	return Plan{
		ID:        "plan-1",
		Name:      "Index fund",
		Symbol:    "VWRA.L",
		Amount:    decimal.NewFromInt(5000),
		Frequency: freq,
		StartDate: day(t, start),
		Status:    StatusActive,
		AccountID: "acc-1",
	}
}

func completed(t *testing.T, date string) Transaction {
	t.Helper()
	return Transaction{PlanID: "plan-1", Status: TxCompleted, Date: day(t, date)}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		from   string
		months int
		want   string
	}{
		{name: "plain month", from: "2024-01-01", months: 1, want: "2024-02-01"},
		{name: "jan 31 leap year", from: "2024-01-31", months: 1, want: "2024-02-29"},
		{name: "jan 31 common year", from: "2023-01-31", months: 1, want: "2023-02-28"},
		{name: "mar 31 to apr", from: "2024-03-31", months: 1, want: "2024-04-30"},
		{name: "quarter from aug 31", from: "2024-08-31", months: 3, want: "2024-11-30"},
		{name: "quarter across year", from: "2024-11-30", months: 3, want: "2025-02-28"},
		{name: "year from leap day", from: "2024-02-29", months: 12, want: "2025-02-28"},
		{name: "year plain", from: "2023-06-15", months: 12, want: "2024-06-15"},
		{name: "december rollover", from: "2024-12-15", months: 1, want: "2025-01-15"},
		{name: "negative months", from: "2024-03-31", months: -1, want: "2024-02-29"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, day(t, tt.want), AddMonths(day(t, tt.from), tt.months))
		})
	}
}

func TestAddMonthsDropsTimeOfDay(t *testing.T) {
	t.Parallel()
	in := time.Date(2024, 1, 10, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, day(t, "2024-02-10"), AddMonths(in, 1))
}

func TestNextDueFromStartDate(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		freq Frequency
		want string
	}{
		{Monthly, "2024-02-15"},
		{Quarterly, "2024-04-15"},
		{Yearly, "2025-01-15"},
	} {
		p := activePlan(t, tc.freq, "2024-01-15")
		due := NextDue(p, nil)
		assert.Equal(t, DueScheduled, due.State, tc.freq)
		assert.Equal(t, day(t, tc.want), due.Date, tc.freq)
	}
}

func TestNextDueUsesLatestCompletedRecord(t *testing.T) {
	t.Parallel()
	p := activePlan(t, Monthly, "2024-01-01")
	history := []Transaction{
		completed(t, "2024-03-01"),
		completed(t, "2024-01-01"),
		{PlanID: "plan-1", Status: TxFailed, Date: day(t, "2024-04-01"), Error: "invalid price"},
		completed(t, "2024-02-01"),
	}
	due := NextDue(p, history)
	assert.Equal(t, DueScheduled, due.State)
	assert.Equal(t, day(t, "2024-04-01"), due.Date)
}

func TestNextDueMonthAfterLastContribution(t *testing.T) {
	t.Parallel()
	p := activePlan(t, Monthly, "2024-01-01")
	due := NextDue(p, []Transaction{completed(t, "2024-01-01")})
	assert.Equal(t, day(t, "2024-02-01"), due.Date)
	assert.True(t, due.IsDueBy(day(t, "2024-02-01")))
	assert.False(t, due.IsDueBy(day(t, "2024-01-31")))
}

func TestNextDueInactive(t *testing.T) {
	t.Parallel()
	for _, st := range []Status{StatusPaused, StatusCompleted, StatusCancelled} {
		p := activePlan(t, Monthly, "2024-01-01")
		p.Status = st
		due := NextDue(p, nil)
		assert.Equal(t, DueInactive, due.State, st)
		assert.True(t, due.Date.IsZero())
		assert.False(t, due.IsDueBy(day(t, "2030-01-01")))
	}
}

func TestNextDueExpiredPastEndDate(t *testing.T) {
	t.Parallel()
	p := activePlan(t, Monthly, "2024-01-01")
	end := day(t, "2024-01-15")
	p.EndDate = &end

	due := NextDue(p, nil)
	assert.Equal(t, DueExpired, due.State)
	assert.False(t, due.IsDueBy(day(t, "2024-02-01")))
}

func TestNextDueOnEndDateIsStillScheduled(t *testing.T) {
	t.Parallel()
	p := activePlan(t, Quarterly, "2024-01-01")
	end := day(t, "2024-04-01")
	p.EndDate = &end

	due := NextDue(p, nil)
	assert.Equal(t, DueScheduled, due.State)
	assert.Equal(t, end, due.Date)
}

func TestMonthEndAnchorDrift(t *testing.T) {
	t.Parallel()
	// Anchoring on the last completed record means a clamped day sticks.
	p := activePlan(t, Monthly, "2024-01-31")
	first := NextDue(p, nil)
	require.Equal(t, day(t, "2024-02-29"), first.Date)

	second := NextDue(p, []Transaction{completed(t, "2024-02-29")})
	assert.Equal(t, day(t, "2024-03-29"), second.Date)
}
