package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"sipcore/internal/plan"
	logx "sipcore/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const dayLayout = "2006-01-02"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", ledgerDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store ready", logx.String("path", path))
	return st, nil
}

// ledgerDSN builds the connection string for an append-only audit trail:
// WAL, fsync on every commit, never shrink.
func ledgerDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := path + "?_pragma=journal_mode(WAL)"
	dsn += "&_pragma=synchronous(FULL)"
	dsn += "&_pragma=auto_vacuum(NONE)"
	dsn += "&_pragma=foreign_keys(1)"
	dsn += fmt.Sprintf("&_pragma=busy_timeout(%d)", busy.Milliseconds())
	return dsn
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreatePlan(ctx context.Context, p plan.Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	var end any
	if p.EndDate != nil {
		end = p.EndDate.Format(dayLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans(id, name, symbol, amount, frequency, start_date, end_date, status, goal_id, account_id, notes, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, symbol=excluded.symbol, amount=excluded.amount, frequency=excluded.frequency,
		   start_date=excluded.start_date, end_date=excluded.end_date, status=excluded.status,
		   goal_id=excluded.goal_id, account_id=excluded.account_id, notes=excluded.notes`,
		p.ID, p.Name, p.Symbol, p.Amount.String(), string(p.Frequency), p.StartDate.Format(dayLayout), end,
		string(p.Status), nullStr(p.GoalID), p.AccountID, nullStr(p.Notes), p.CreatedAt.UnixNano(),
	)
	return err
}

const planColumns = `id, name, symbol, amount, frequency, start_date, end_date, status, goal_id, account_id, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(r rowScanner) (plan.Plan, error) {
	var (
		p                   plan.Plan
		amount, freq, start string
		status              string
		end, goal, notes    sql.NullString
		created             int64
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Symbol, &amount, &freq, &start, &end, &status, &goal, &p.AccountID, &notes, &created); err != nil {
		return plan.Plan{}, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return plan.Plan{}, fmt.Errorf("plan %s amount: %w", p.ID, err)
	}
	if p.StartDate, err = plan.ParseDay(start); err != nil {
		return plan.Plan{}, fmt.Errorf("plan %s start: %w", p.ID, err)
	}
	if end.Valid && end.String != "" {
		d, err := plan.ParseDay(end.String)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("plan %s end: %w", p.ID, err)
		}
		p.EndDate = &d
	}
	p.Frequency = plan.Frequency(freq)
	p.Status = plan.Status(status)
	p.GoalID = goal.String
	p.Notes = notes.String
	p.CreatedAt = time.Unix(0, created)
	return p, nil
}

func (s *sqliteStore) GetPlan(ctx context.Context, id string) (plan.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Plan{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) ListPlans(ctx context.Context, statuses ...plan.Status) ([]plan.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		q += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdatePlanStatus(ctx context.Context, id string, status plan.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendTransaction(ctx context.Context, tx plan.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	stamp(&tx, time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions(id, plan_id, amount, price, units, date, status, error, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		tx.ID, tx.PlanID, tx.Amount.String(), tx.Price.String(), tx.Units.String(),
		tx.Date.Format(dayLayout), string(tx.Status), nullStr(tx.Error), tx.CreatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]plan.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, f.PlanID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, plan.Day(f.From).Format(dayLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, plan.Day(f.To).Format(dayLayout))
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UnixNano())
	}

	q := `SELECT id, plan_id, amount, price, units, date, status, error, created_at FROM transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY date DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plan.Transaction
	for rows.Next() {
		var (
			tx                         plan.Transaction
			amount, price, units, date string
			status                     string
			msg                        sql.NullString
			created                    int64
		)
		if err := rows.Scan(&tx.ID, &tx.PlanID, &amount, &price, &units, &date, &status, &msg, &created); err != nil {
			return nil, err
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
		}
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("transaction %s price: %w", tx.ID, err)
		}
		if tx.Units, err = decimal.NewFromString(units); err != nil {
			return nil, fmt.Errorf("transaction %s units: %w", tx.ID, err)
		}
		if tx.Date, err = plan.ParseDay(date); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		tx.Status = plan.TxStatus(status)
		tx.Error = msg.String
		tx.CreatedAt = time.Unix(0, created)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE status = ? AND created_at < ?`,
		string(plan.TxFailed), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PlanStats(ctx context.Context, planID string) (PlanStats, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return PlanStats{}, err
	}
	txs, err := s.ListTransactions(ctx, TransactionFilter{PlanID: planID})
	if err != nil {
		return PlanStats{}, err
	}
	return summarizePlan(planID, txs), nil
}

func (s *sqliteStore) Stats(ctx context.Context, f TransactionFilter) (Stats, error) {
	f.Limit = 0
	txs, err := s.ListTransactions(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(txs), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
