package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/storage"
)

type BudgetResponse struct {
	URL    string        `json:"url"`
	Budget budget.Budget `json:"budget"`
	Found  bool          `json:"found"`
}

type BudgetCheckResponse struct {
	URL        string         `json:"url"`
	RecordID   string         `json:"recordId"`
	AnalyzedAt string         `json:"analyzedAt"`
	Checks     []budget.Check `json:"checks"`
	AllMet     bool           `json:"allMet"`
}

// handleGetBudget returns one budget when url is given, otherwise every
// stored budget keyed by URL.
func handleGetBudget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") == "" {
			all, err := deps.Budgets.List()
			if err != nil {
				httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list budgets: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, all)
			return
		}

		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		b, found, err := deps.Budgets.Get(u)
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to load budget: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, BudgetResponse{URL: u, Budget: b, Found: found})
	}
}

func handlePutBudget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		var b budget.Budget
		if !decodeBody(w, r, &b) {
			return
		}
		if b.IsEmpty() {
			httpError(w, http.StatusBadRequest, CodeInvalidBudget, "budget has no targets")
			return
		}
		if err := deps.Budgets.Save(u, b); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BudgetResponse{URL: u, Budget: b, Found: true})
	}
}

func handleDeleteBudget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		if err := deps.Budgets.Delete(u); err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to delete budget: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleCheckBudget evaluates the budget of url against its newest stored
// analysis.
func handleCheckBudget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		b, found, err := deps.Budgets.Get(u)
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to load budget: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, CodeNotFound, "no budget for %s", u)
			return
		}

		rec, err := deps.Store.LatestAnalysis(u)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, CodeNotFound, "no analysis stored for %s", u)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to load analysis: %v", err)
			return
		}

		checks := budget.Evaluate(b, rec.Scores)
		writeJSON(w, http.StatusOK, BudgetCheckResponse{
			URL:        u,
			RecordID:   rec.ID,
			AnalyzedAt: rec.AnalyzedAt,
			Checks:     checks,
			AllMet:     budget.AllMet(checks),
		})
	}
}
