package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/export"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
)

const defaultRecentLimit = 5

// targetURL normalizes the url query parameter, writing a 400 on failure.
func targetURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, err := analysis.NormalizeURL(r.URL.Query().Get("url"))
	if err != nil {
		writeErr(w, err)
		return "", false
	}
	return u, true
}

// handleHistoryByURL returns the history of one URL, oldest first. A
// positive days limits it to the trailing window.
func handleHistoryByURL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := targetURL(w, r)
		if !ok {
			return
		}
		var since time.Time
		if days := parseIntParam(r, "days", 0, 3650); days > 0 {
			since = deps.now().AddDate(0, 0, -days)
		}

		records, err := deps.Store.ListAnalysesByURL(u, since)
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleRecentHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultRecentLimit, 100)
		if limit == 0 {
			limit = defaultRecentLimit
		}
		records, err := deps.Store.ListRecentAnalyses(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleHistoryURLs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urls, err := deps.Store.ListAnalyzedURLs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list urls: %v", err)
			return
		}
		if urls == nil {
			urls = []string{}
		}
		writeJSON(w, http.StatusOK, urls)
	}
}

// handleAppendHistory stores a result that was analyzed elsewhere.
func handleAppendHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var res report.AnalysisResult
		if !decodeBody(w, r, &res) {
			return
		}
		if res.URL == "" {
			httpError(w, http.StatusBadRequest, analysis.CodeMissingURL, "url is required")
			return
		}
		if _, ok := report.ParseStrategy(string(res.Strategy)); !ok {
			httpError(w, http.StatusBadRequest, analysis.CodeInvalidStrategy, "strategy must be mobile or desktop")
			return
		}

		rec := storage.RecordFromResult(res, deps.now())
		if err := deps.Store.SaveAnalysis(rec); err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to save analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleDeleteHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteAnalysis(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, CodeNotFound, "analysis not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to delete analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleExportHistory streams stored analyses in the requested format,
// every URL unless url is given.
func handleExportHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := export.FormatJSONL
		if s := r.URL.Query().Get("format"); s != "" {
			f, err := export.ParseFormat(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, CodeInvalidRequest, "%v", err)
				return
			}
			format = f
		}

		var (
			records []storage.AnalysisRecord
			err     error
		)
		if r.URL.Query().Get("url") != "" {
			u, ok := targetURL(w, r)
			if !ok {
				return
			}
			records, err = deps.Store.ListAnalysesByURL(u, time.Time{})
		} else {
			records, err = deps.Store.ListAllAnalyses()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to list history: %v", err)
			return
		}

		w.Header().Set("Content-Type", exportContentTypes[format])
		if err := export.Write(w, format, records); err != nil {
			deps.logger().Error("history export failed", "format", format, "error", err)
		}
	}
}

var exportContentTypes = map[export.Format]string{
	export.FormatJSONL:   "application/x-ndjson",
	export.FormatCSV:     "text/csv",
	export.FormatParquet: "application/vnd.apache.parquet",
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
