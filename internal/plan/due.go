package plan

import "time"

// DueState classifies a NextDue result.
type DueState int

const (
	// DueScheduled means Date holds the next contribution day.
	DueScheduled DueState = iota
	// DueInactive means the plan is not ACTIVE; nothing is scheduled.
	DueInactive
	// DueExpired means the next period would fall after the end date.
	// The caller should move the plan to COMPLETED.
	DueExpired
)

func (s DueState) String() string {
	switch s {
	case DueScheduled:
		return "scheduled"
	case DueInactive:
		return "inactive"
	case DueExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Due is the outcome of NextDue.
type Due struct {
	Date  time.Time
	State DueState
}

// IsDueBy reports whether a contribution is scheduled on or before target.
func (d Due) IsDueBy(target time.Time) bool {
	return d.State == DueScheduled && !d.Date.After(Day(target))
}

// NextDue computes the plan's next contribution day.
//
// The anchor is the date of the latest COMPLETED transaction in history
// (order of history does not matter), or the start date when there is none.
// The anchor is advanced by one period with AddMonths.
func NextDue(p Plan, history []Transaction) Due {
	if p.Status != StatusActive {
		return Due{State: DueInactive}
	}

	anchor := Day(p.StartDate)
	found := false
	for _, tx := range history {
		if tx.Status != TxCompleted {
			continue
		}
		d := Day(tx.Date)
		if !found || d.After(anchor) {
			anchor = d
			found = true
		}
	}

	next := AddMonths(anchor, p.Frequency.Months())
	if p.EndDate != nil && next.After(Day(*p.EndDate)) {
		return Due{Date: next, State: DueExpired}
	}
	return Due{Date: next, State: DueScheduled}
}

// AddMonths advances day t by n calendar months.
//
// When the day of month does not exist in the target month it is clamped to
// the month's last day: Jan 31 + 1 = Feb 29 (2024) / Feb 28 (2023),
// Aug 31 + 3 = Nov 30, Feb 29 2024 + 12 = Feb 28 2025.
func AddMonths(t time.Time, n int) time.Time {
	t = Day(t)
	y, m, d := t.Date()

	total := int(m) - 1 + n
	ty := y + floorDiv(total, 12)
	tm := time.Month(floorMod(total, 12) + 1)

	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(y int, m time.Month) int {
	// Day 0 of the following month is the last day of m.
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
