// Package plan holds the recurring investment plan model, its transaction
// records, and the due-date calendar arithmetic.
package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is how often a plan contributes.
type Frequency string

const (
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Yearly    Frequency = "YEARLY"
)

// Months returns the length of one period in calendar months (0 if unknown).
func (f Frequency) Months() int {
	switch f {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 0
	}
}

func (f Frequency) Valid() bool { return f.Months() > 0 }

// Status is the plan lifecycle state.
//
// The processor only ever moves a plan ACTIVE -> COMPLETED; every other
// transition belongs to the CRUD layer.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// TxStatus is the outcome recorded for one execution attempt.
type TxStatus string

const (
	TxCompleted TxStatus = "COMPLETED"
	TxFailed    TxStatus = "FAILED"
)

func (s TxStatus) Valid() bool { return s == TxCompleted || s == TxFailed }

// Plan is a recurring investment instruction (SIP).
type Plan struct {
	ID        string
	Name      string
	Symbol    string
	Amount    decimal.Decimal
	Frequency Frequency
	StartDate time.Time
	EndDate   *time.Time
	Status    Status
	GoalID    string
	AccountID string
	Notes     string
	CreatedAt time.Time
}

// Ended reports whether day is past the plan's end date.
func (p Plan) Ended(day time.Time) bool {
	return p.EndDate != nil && Day(day).After(Day(*p.EndDate))
}

func (p Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id required"))
	}
	if strings.TrimSpace(p.Symbol) == "" {
		errs = append(errs, errors.New("symbol required"))
	}
	if strings.TrimSpace(p.AccountID) == "" {
		errs = append(errs, errors.New("account required"))
	}
	if !p.Amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount must be > 0, got %s", p.Amount))
	}
	if !p.Frequency.Valid() {
		errs = append(errs, fmt.Errorf("unknown frequency %q", p.Frequency))
	}
	if !p.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", p.Status))
	}
	if p.StartDate.IsZero() {
		errs = append(errs, errors.New("start date required"))
	}
	if p.EndDate != nil && Day(*p.EndDate).Before(Day(p.StartDate)) {
		errs = append(errs, errors.New("end date before start date"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("plan %s: %w", p.ID, errors.Join(errs...))
	}
	return nil
}

// Transaction is one append-only audit row: a single execution attempt for a plan.
type Transaction struct {
	ID        string
	PlanID    string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Units     decimal.Decimal
	Date      time.Time
	Status    TxStatus
	Error     string
	CreatedAt time.Time
}

// unitsTolerance bounds |units*price - amount| for a completed record.
var unitsTolerance = decimal.New(1, -6)

// Validate checks the record invariant:
// COMPLETED rows carry a positive price and units*price == amount (within tolerance);
// FAILED rows carry zero price and units and a message.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.PlanID) == "" {
		return errors.New("transaction: plan id required")
	}
	switch t.Status {
	case TxCompleted:
		if !t.Price.IsPositive() {
			return fmt.Errorf("transaction: completed with non-positive price %s", t.Price)
		}
		if t.Units.Mul(t.Price).Sub(t.Amount).Abs().GreaterThan(unitsTolerance) {
			return fmt.Errorf("transaction: units %s * price %s != amount %s", t.Units, t.Price, t.Amount)
		}
	case TxFailed:
		if !t.Price.IsZero() || !t.Units.IsZero() {
			return errors.New("transaction: failed record must have zero price and units")
		}
		if strings.TrimSpace(t.Error) == "" {
			return errors.New("transaction: failed record needs an error message")
		}
	default:
		return fmt.Errorf("transaction: unknown status %q", t.Status)
	}
	return nil
}

// Day truncates t to its calendar day at UTC midnight.
// All plan and transaction dates are compared as days.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses YYYY-MM-DD into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
