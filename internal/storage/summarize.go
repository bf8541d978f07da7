package storage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"sipcore/internal/plan"
)

// Summarize aggregates records in decimal arithmetic.
// Invested amount and units only count COMPLETED rows.
func Summarize(txs []plan.Transaction) Stats {
	out := Stats{TotalInvested: decimal.Zero, TotalUnits: decimal.Zero}
	byPlan := map[string]*PlanStats{}

	for _, tx := range txs {
		ps, ok := byPlan[tx.PlanID]
		if !ok {
			ps = &PlanStats{PlanID: tx.PlanID, TotalInvested: decimal.Zero, TotalUnits: decimal.Zero, AveragePrice: decimal.Zero}
			byPlan[tx.PlanID] = ps
		}
		ps.Count++
		out.Total++

		switch tx.Status {
		case plan.TxCompleted:
			ps.Completed++
			out.Completed++
			ps.TotalInvested = ps.TotalInvested.Add(tx.Amount)
			ps.TotalUnits = ps.TotalUnits.Add(tx.Units)
			out.TotalInvested = out.TotalInvested.Add(tx.Amount)
			out.TotalUnits = out.TotalUnits.Add(tx.Units)
		case plan.TxFailed:
			ps.Failed++
			out.Failed++
		}

		d := plan.Day(tx.Date)
		if ps.LastTransaction == nil || d.After(*ps.LastTransaction) {
			last := d
			ps.LastTransaction = &last
		}
	}

	out.Plans = make([]PlanStats, 0, len(byPlan))
	for _, ps := range byPlan {
		if ps.TotalUnits.IsPositive() {
			ps.AveragePrice = ps.TotalInvested.DivRound(ps.TotalUnits, 8)
		}
		out.Plans = append(out.Plans, *ps)
	}
	sort.Slice(out.Plans, func(i, j int) bool { return out.Plans[i].PlanID < out.Plans[j].PlanID })
	return out
}

func summarizePlan(planID string, txs []plan.Transaction) PlanStats {
	s := Summarize(txs)
	for _, ps := range s.Plans {
		if ps.PlanID == planID {
			return ps
		}
	}
	return PlanStats{PlanID: planID, TotalInvested: decimal.Zero, TotalUnits: decimal.Zero, AveragePrice: decimal.Zero}
}

// sortNewestFirst orders by date desc, then creation time desc, then id.
func sortNewestFirst(txs []plan.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		da, db := plan.Day(a.Date), plan.Day(b.Date)
		if !da.Equal(db) {
			return da.After(db)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func stamp(tx *plan.Transaction, now time.Time) {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.Date = plan.Day(tx.Date)
}
