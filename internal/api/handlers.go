package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sipcore/internal/notifier"
	"sipcore/internal/plan"
	"sipcore/internal/scheduler"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

type planView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Frequency plan.Frequency  `json:"frequency"`
	StartDate string          `json:"startDate"`
	EndDate   string          `json:"endDate,omitempty"`
	Status    plan.Status     `json:"status"`
	GoalID    string          `json:"goalId,omitempty"`
	AccountID string          `json:"accountId"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func viewPlan(p plan.Plan) planView {
	v := planView{
		ID: p.ID, Name: p.Name, Symbol: p.Symbol, Amount: p.Amount,
		Frequency: p.Frequency, StartDate: p.StartDate.Format(time.DateOnly),
		Status: p.Status, GoalID: p.GoalID, AccountID: p.AccountID,
		Notes: p.Notes, CreatedAt: p.CreatedAt,
	}
	if p.EndDate != nil {
		v.EndDate = p.EndDate.Format(time.DateOnly)
	}
	return v
}

type transactionView struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"planId"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Units     decimal.Decimal `json:"units"`
	Date      string          `json:"date"`
	Status    plan.TxStatus   `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func viewTransaction(tx plan.Transaction) transactionView {
	return transactionView{
		ID: tx.ID, PlanID: tx.PlanID, Amount: tx.Amount, Price: tx.Price,
		Units: tx.Units, Date: tx.Date.Format(time.DateOnly), Status: tx.Status,
		Error: tx.Error, CreatedAt: tx.CreatedAt,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if h.Scheduler != nil {
		out["scheduler"] = h.Scheduler.Status().Running
	}
	if h.Health != nil {
		snap := h.Health()
		out["goroutines"] = snap
		if snap.FirstError != "" {
			out["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handlers) schedulerStart(w http.ResponseWriter, r *http.Request) {
	patch, ok := h.decodePatch(w, r)
	if !ok {
		return
	}
	if err := h.Scheduler.Start(patch); err != nil {
		h.configError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handlers) schedulerStop(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Stop()
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handlers) schedulerRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Restart(); err != nil {
		h.configError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handlers) schedulerConfig(w http.ResponseWriter, r *http.Request) {
	patch, ok := h.decodePatch(w, r)
	if !ok {
		return
	}
	if patch == nil {
		writeError(w, http.StatusBadRequest, "config patch required")
		return
	}
	if err := h.Scheduler.UpdateConfig(patch); err != nil {
		h.configError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handlers) manualProcess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var date *time.Time
	if strings.TrimSpace(body.Date) != "" {
		d, err := plan.ParseDay(body.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = &d
	}
	h.report(w, h.Scheduler.ManualProcess(runContext(r), date))
}

func (h *handlers) manualRetry(w http.ResponseWriter, r *http.Request) {
	h.report(w, h.Scheduler.ManualRetry(runContext(r)))
}

func (h *handlers) manualCleanup(w http.ResponseWriter, r *http.Request) {
	h.report(w, h.Scheduler.ManualCleanup(runContext(r)))
}

// runContext detaches a manual run from the client connection so a dropped
// request does not abort plan executions half way.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *handlers) report(w http.ResponseWriter, rep scheduler.RunReport) {
	status := http.StatusOK
	switch {
	case errors.Is(rep.Err, scheduler.ErrJobRunning):
		status = http.StatusConflict
	case errors.Is(rep.Err, scheduler.ErrConfigInvalid):
		status = http.StatusBadRequest
	case rep.Err != nil:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, rep)
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	var statuses []plan.Status
	for _, s := range r.URL.Query()["status"] {
		st := plan.Status(strings.ToUpper(strings.TrimSpace(s)))
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		statuses = append(statuses, st)
	}
	plans, err := h.Ledger.ListPlans(r.Context(), statuses...)
	if err != nil {
		h.internal(w, "list plans", err)
		return
	}
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		out = append(out, viewPlan(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	if err != nil {
		h.internal(w, "get plan", err)
		return
	}
	writeJSON(w, http.StatusOK, viewPlan(p))
}

func (h *handlers) planStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Ledger.GetPlan(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	} else if err != nil {
		h.internal(w, "get plan", err)
		return
	}
	st, err := h.Ledger.PlanStats(r.Context(), id)
	if err != nil {
		h.internal(w, "plan stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := h.Ledger.ListTransactions(r.Context(), f)
	if err != nil {
		h.internal(w, "list transactions", err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, viewTransaction(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.Ledger.Stats(r.Context(), f)
	if err != nil {
		h.internal(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) notifications(w http.ResponseWriter, r *http.Request) {
	items := []notifier.HistoryItem{}
	if h.Notifications != nil {
		if got := h.Notifications(); got != nil {
			items = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items, "count": len(items)})
}

func parseFilter(r *http.Request) (storage.TransactionFilter, error) {
	q := r.URL.Query()
	f := storage.TransactionFilter{PlanID: strings.TrimSpace(q.Get("planId"))}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		f.Status = plan.TxStatus(strings.ToUpper(s))
		if !f.Status.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
	}
	var err error
	if s := q.Get("from"); s != "" {
		if f.From, err = plan.ParseDay(s); err != nil {
			return f, err
		}
	}
	if s := q.Get("to"); s != "" {
		if f.To, err = plan.ParseDay(s); err != nil {
			return f, err
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
		f.Limit = n
	}
	return f, nil
}

// decodePatch reads an optional ConfigPatch. An empty body yields nil.
func (h *handlers) decodePatch(w http.ResponseWriter, r *http.Request) (*scheduler.ConfigPatch, bool) {
	var p scheduler.ConfigPatch
	err := decodeBody(r, &p)
	if errors.Is(err, io.EOF) {
		return nil, true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &p, true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *handlers) configError(w http.ResponseWriter, err error) {
	if errors.Is(err, scheduler.ErrConfigInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.internal(w, "scheduler", err)
}

func (h *handlers) internal(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", logx.String("op", op), logx.Err(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
