package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

type ScheduleRequest struct {
	URL                  string `json:"url"`
	Strategy             string `json:"strategy"`
	Interval             string `json:"interval"`
	NotifyOnComplete     bool   `json:"notifyOnComplete"`
	NotifyOnBudgetExceed bool   `json:"notifyOnBudgetExceed"`
}

func handleListSchedules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Schedules.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list schedules: %v", err)
			return
		}
		if list == nil {
			list = []storage.Schedule{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleLookupSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		strategy, err := analysis.ParseStrategy(r.URL.Query().Get("strategy"))
		if err != nil {
			writeErr(w, err)
			return
		}

		sc, err := deps.Schedules.Get(u, strategy)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, CodeNotFound, "no schedule for %s (%s)", u, strategy)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to load schedule: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

// handlePutSchedule creates the schedule for (url, strategy) or updates it
// in place.
func handlePutSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		u, err := analysis.NormalizeURL(req.URL)
		if err != nil {
			writeErr(w, err)
			return
		}
		strategy, err := analysis.ParseStrategy(req.Strategy)
		if err != nil {
			writeErr(w, err)
			return
		}

		sc, err := deps.Schedules.Save(r.Context(), u, strategy, schedule.Options{
			Interval:             schedule.Interval(req.Interval),
			NotifyOnComplete:     req.NotifyOnComplete,
			NotifyOnBudgetExceed: req.NotifyOnBudgetExceed,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

func handleDeleteSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Schedules.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, CodeNotFound, "schedule not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to delete schedule: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleRunSchedules runs a catch-up pass synchronously and reports what it
// did.
func handleRunSchedules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runner == nil {
			httpError(w, http.StatusServiceUnavailable, CodeUnavailable, "schedule runner is not configured")
			return
		}
		writeJSON(w, http.StatusOK, deps.Runner.RunOverdue(r.Context()))
	}
}
