package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"sipcore/internal/plan"
	logx "sipcore/pkg/logx"
)

// Store is the persistence API used by the processor and the control surface.
type Store interface {
	CreatePlan(ctx context.Context, p plan.Plan) error
	GetPlan(ctx context.Context, id string) (plan.Plan, error)
	// ListPlans returns plans with any of the given statuses (all plans when none given).
	ListPlans(ctx context.Context, statuses ...plan.Status) ([]plan.Plan, error)
	UpdatePlanStatus(ctx context.Context, id string, status plan.Status) error

	AppendTransaction(ctx context.Context, tx plan.Transaction) error
	// ListTransactions returns matching rows newest-first (date, then creation time).
	ListTransactions(ctx context.Context, f TransactionFilter) ([]plan.Transaction, error)
	// DeleteFailedBefore removes FAILED rows created strictly before cutoff,
	// compared at nanosecond resolution by every driver.
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	PlanStats(ctx context.Context, planID string) (PlanStats, error)
	Stats(ctx context.Context, f TransactionFilter) (Stats, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		log.Warn("using in-memory storage; data is not persisted")
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
