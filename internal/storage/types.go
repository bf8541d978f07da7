package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sipcore/internal/plan"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (data is lost on exit)
//
// An empty Driver means "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TransactionFilter narrows ListTransactions and Stats.
// Zero fields do not filter. From and To are inclusive calendar days.
type TransactionFilter struct {
	PlanID string
	Status plan.TxStatus
	From   time.Time
	To     time.Time

	// CreatedAfter keeps rows whose CreatedAt is at or after the instant.
	CreatedAfter time.Time

	// Limit caps the result size (0 = unlimited).
	Limit int
}

func (f TransactionFilter) match(tx plan.Transaction) bool {
	if f.PlanID != "" && tx.PlanID != f.PlanID {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	d := plan.Day(tx.Date)
	if !f.From.IsZero() && d.Before(plan.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(plan.Day(f.To)) {
		return false
	}
	if !f.CreatedAfter.IsZero() && tx.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	return true
}

// PlanStats aggregates one plan's audit trail.
type PlanStats struct {
	PlanID        string          `json:"planId"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
	TotalUnits    decimal.Decimal `json:"totalUnits"`
	// AveragePrice is TotalInvested / TotalUnits over COMPLETED rows (zero without units).
	AveragePrice    decimal.Decimal `json:"averagePrice"`
	Completed       int             `json:"completed"`
	Failed          int             `json:"failed"`
	Count           int             `json:"count"`
	LastTransaction *time.Time      `json:"lastTransaction,omitempty"`
}

// Stats aggregates the audit trail across plans.
type Stats struct {
	Total         int             `json:"total"`
	Completed     int             `json:"completed"`
	Failed        int             `json:"failed"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
	TotalUnits    decimal.Decimal `json:"totalUnits"`
	Plans         []PlanStats     `json:"plans"`
}
