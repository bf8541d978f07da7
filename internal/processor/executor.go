package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sipcore/internal/eventbus"
	"sipcore/internal/plan"
	"sipcore/internal/pricing"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

// Result is the outcome of executing one plan for one target date.
type Result struct {
	PlanID        string          `json:"planId"`
	Success       bool            `json:"success"`
	TransactionID string          `json:"transactionId,omitempty"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Units         decimal.Decimal `json:"units"`
	Error         string          `json:"error,omitempty"`
	Err           error           `json:"-"`
	Attempts      int             `json:"attempts"`
}

func (r *Result) fail(err error) Result {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
	return *r
}

// Executor runs a single priced contribution.
type Executor struct {
	store  storage.Store
	prices pricing.Source
	log    logx.Logger
	bus    eventbus.Bus

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

func NewExecutor(store storage.Store, prices pricing.Source, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Executor{
		store:  store,
		prices: prices,
		log:    log.With(logx.String("comp", "executor")),
		bus:    bus,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Execute prices plan p for target and appends one audit row.
//
// An inactive plan and an expired plan return without a row; the expired
// plan is moved to COMPLETED. Every other failure leaves a FAILED row
// (best effort). Execute never panics on store errors.
func (e *Executor) Execute(ctx context.Context, p plan.Plan, target time.Time) Result {
	day := plan.Day(target)
	res := Result{PlanID: p.ID, Date: day, Amount: p.Amount, Price: decimal.Zero, Units: decimal.Zero}
	log := e.log.With(logx.String("plan", p.ID), logx.String("symbol", p.Symbol), logx.Date("date", day))

	if p.Status != plan.StatusActive {
		return res.fail(fmt.Errorf("%w: status %s", ErrPlanInactive, p.Status))
	}

	if p.Ended(day) {
		err := ErrPlanExpired
		if uerr := e.store.UpdatePlanStatus(ctx, p.ID, plan.StatusCompleted); uerr != nil {
			log.Error("plan completion write failed", logx.Err(uerr))
			err = fmt.Errorf("%w: %w: %v", ErrPlanExpired, ErrPersistence, uerr)
		} else {
			log.Info("plan reached end date; marked completed", logx.Date("end_date", *p.EndDate))
			e.bus.Publish(eventbus.PlanCompletedEvent(p.ID, p.Symbol, "end_date"))
		}
		return res.fail(err)
	}

	q, err := e.prices.Price(ctx, p.Symbol)
	if err != nil || !q.Price.IsPositive() {
		if err == nil {
			err = fmt.Errorf("price %s from %s", q.Price, q.Source)
		}
		return e.recordFailure(ctx, log, &res, fmt.Errorf("%w: %v", ErrPriceUnavailable, err))
	}

	res.Price = q.Price
	res.Units = p.Amount.Div(q.Price)

	tx := plan.Transaction{
		ID:        e.NewID(),
		PlanID:    p.ID,
		Amount:    p.Amount,
		Price:     res.Price,
		Units:     res.Units,
		Date:      day,
		Status:    plan.TxCompleted,
		CreatedAt: e.Now(),
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		return e.recordFailure(ctx, log, &res, fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	res.Success = true
	res.TransactionID = tx.ID
	log.Debug("transaction recorded",
		logx.String("tx", tx.ID),
		logx.Stringer("price", res.Price),
		logx.Stringer("units", res.Units),
		logx.String("source", q.Source),
	)
	return res
}

// recordFailure writes the FAILED audit row. A write error is logged and
// never replaces cause.
func (e *Executor) recordFailure(ctx context.Context, log logx.Logger, res *Result, cause error) Result {
	tx := plan.Transaction{
		ID:        e.NewID(),
		PlanID:    res.PlanID,
		Amount:    res.Amount,
		Price:     decimal.Zero,
		Units:     decimal.Zero,
		Date:      res.Date,
		Status:    plan.TxFailed,
		Error:     cause.Error(),
		CreatedAt: e.Now(),
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		log.Error("failed-transaction audit write failed", logx.Err(err), logx.String("cause", cause.Error()))
	} else {
		res.TransactionID = tx.ID
	}
	log.Warn("transaction failed", logx.Err(cause))
	e.bus.Publish(eventbus.TransactionFailedEvent(res.PlanID, res.TransactionID, res.Date, cause))
	return res.fail(cause)
}
