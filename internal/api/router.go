package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sipcore/internal/notifier"
	"sipcore/internal/plan"
	rtsup "sipcore/internal/runtime/supervisor"
	"sipcore/internal/scheduler"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

// Scheduler is the part of scheduler.Supervisor the API drives.
type Scheduler interface {
	Start(patch *scheduler.ConfigPatch) error
	Stop()
	Restart() error
	UpdateConfig(patch *scheduler.ConfigPatch) error
	Status() scheduler.Status
	ManualProcess(ctx context.Context, date *time.Time) scheduler.RunReport
	ManualRetry(ctx context.Context) scheduler.RunReport
	ManualCleanup(ctx context.Context) scheduler.RunReport
}

// Ledger is the read side of storage.Store.
type Ledger interface {
	GetPlan(ctx context.Context, id string) (plan.Plan, error)
	ListPlans(ctx context.Context, statuses ...plan.Status) ([]plan.Plan, error)
	ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]plan.Transaction, error)
	PlanStats(ctx context.Context, planID string) (storage.PlanStats, error)
	Stats(ctx context.Context, f storage.TransactionFilter) (storage.Stats, error)
}

// Deps are the components behind the routes.
type Deps struct {
	Scheduler Scheduler
	Ledger    Ledger
	// Health, when set, adds supervised goroutine state to /healthz.
	Health func() rtsup.Snapshot
	// Notifications, when set, serves recent webhook deliveries.
	Notifications func() []notifier.HistoryItem
}

type handlers struct {
	Deps
	log logx.Logger
}

// NewRouter builds the chi router. It is exported for tests and embedding.
func NewRouter(d Deps, cfg Config, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{Deps: d, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", h.schedulerStatus)
			r.Post("/start", h.schedulerStart)
			r.Post("/stop", h.schedulerStop)
			r.Post("/restart", h.schedulerRestart)
			r.Put("/config", h.schedulerConfig)
			r.Post("/process", h.manualProcess)
			r.Post("/retry", h.manualRetry)
			r.Post("/cleanup", h.manualCleanup)
		})

		r.Get("/plans", h.listPlans)
		r.Get("/plans/{id}", h.getPlan)
		r.Get("/plans/{id}/stats", h.planStats)
		r.Get("/transactions", h.listTransactions)
		r.Get("/stats", h.stats)
		r.Get("/notifications", h.notifications)
	})

	if cfg.Pprof {
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(cfg.Token))
			r.Mount("/debug", middleware.Profiler())
		})
	}
	return r
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			h.log.Warn("http request", fields...)
			return
		}
		h.log.Debug("http request", fields...)
	})
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
