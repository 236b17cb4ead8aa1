// Package api exposes PageDoctor over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/crux"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

// Analyzer runs one validated analysis.
type Analyzer interface {
	Analyze(ctx context.Context, url string, strategy report.Strategy) (report.AnalysisResult, error)
}

// FieldData fetches real-user metrics.
type FieldData interface {
	Query(ctx context.Context, url string) (crux.Result, error)
}

// OverdueRunner runs a catch-up pass over due schedules.
type OverdueRunner interface {
	RunOverdue(ctx context.Context) schedule.Summary
}

type AppDeps struct {
	Store     *storage.Store
	Analyzer  Analyzer
	CrUX      FieldData // optional; /crux answers 503 without it
	Budgets   *budget.Manager
	Schedules *schedule.Manager
	Runner    OverdueRunner // optional; /schedules/run answers 503 without it
	Token     string
	Now       func() time.Time
	Logger    *slog.Logger
}

func (d AppDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d AppDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewAppHandler returns the HTTP API. Everything except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/analyze", handleAnalyze(deps))
		r.Post("/crux", handleCrUX(deps))
		r.Post("/report", handleReport(deps))
		r.Post("/compare", handleCompare(deps))

		r.Route("/history", func(r chi.Router) {
			r.Get("/", handleHistoryByURL(deps))
			r.Post("/", handleAppendHistory(deps))
			r.Get("/recent", handleRecentHistory(deps))
			r.Get("/urls", handleHistoryURLs(deps))
			r.Get("/export", handleExportHistory(deps))
			r.Delete("/{id}", handleDeleteHistory(deps))
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", handleGetBudget(deps))
			r.Put("/", handlePutBudget(deps))
			r.Delete("/", handleDeleteBudget(deps))
			r.Get("/check", handleCheckBudget(deps))
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", handleListSchedules(deps))
			r.Put("/", handlePutSchedule(deps))
			r.Get("/lookup", handleLookupSchedule(deps))
			r.Post("/run", handleRunSchedules(deps))
			r.Delete("/{id}", handleDeleteSchedule(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
