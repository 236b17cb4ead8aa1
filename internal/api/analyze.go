package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/compare"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
	"github.com/kalambet/pagedoctor/internal/summary"
)

type AnalyzeRequest struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy"`
	Save     bool   `json:"save"`
}

type AnalyzeResponse struct {
	Result   report.AnalysisResult `json:"result"`
	RecordID string                `json:"recordId,omitempty"`
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		strategy, err := analysis.ParseStrategy(req.Strategy)
		if err != nil {
			writeErr(w, err)
			return
		}

		res, err := deps.Analyzer.Analyze(r.Context(), req.URL, strategy)
		if err != nil {
			deps.logger().Warn("analysis failed", "url", req.URL, "error", err)
			writeErr(w, err)
			return
		}

		resp := AnalyzeResponse{Result: res}
		if req.Save {
			rec := storage.RecordFromResult(res, deps.now())
			if err := deps.Store.SaveAnalysis(rec); err != nil {
				httpError(w, http.StatusInternalServerError, CodeInternal, "failed to save analysis: %v", err)
				return
			}
			resp.RecordID = rec.ID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type CrUXRequest struct {
	URL string `json:"url"`
}

func handleCrUX(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CrUX == nil {
			httpError(w, http.StatusServiceUnavailable, CodeUnavailable, "field data is not configured")
			return
		}
		var req CrUXRequest
		if !decodeBody(w, r, &req) {
			return
		}
		target, err := analysis.NormalizeURL(req.URL)
		if err != nil {
			writeErr(w, err)
			return
		}
		res, err := deps.CrUX.Query(r.Context(), target)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": res})
	}
}

type ReportRequest struct {
	URL            string                 `json:"url"`
	AnalysisResult *report.AnalysisResult `json:"analysisResult"`
}

type ReportResponse struct {
	Report   summary.Report `json:"report"`
	FileName string         `json:"fileName"`
	Markdown string         `json:"markdown"`
}

func handleReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			httpError(w, http.StatusBadRequest, analysis.CodeMissingURL, "url is required")
			return
		}
		if req.AnalysisResult == nil {
			httpError(w, http.StatusBadRequest, CodeMissingAnalysis, "analysisResult is required")
			return
		}

		res := *req.AnalysisResult
		if res.URL == "" {
			res.URL = req.URL
		}
		rep := summary.Build(res)

		var buf bytes.Buffer
		if err := summary.Markdown(&buf, rep); err != nil {
			httpError(w, http.StatusInternalServerError, CodeInternal, "failed to render report: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ReportResponse{
			Report:   rep,
			FileName: summary.FileName(rep, "md"),
			Markdown: buf.String(),
		})
	}
}

type CompareRequest struct {
	URLs     []string `json:"urls"`
	Strategy string   `json:"strategy"`
}

type CompareResponse struct {
	Items   []compare.Item `json:"items"`
	Ranking []compare.Item `json:"ranking"`
}

func handleCompare(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompareRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.URLs) < compare.MinURLs || len(req.URLs) > compare.MaxURLs {
			httpError(w, http.StatusBadRequest, CodeInvalidRequest, "compare needs %d to %d urls, got %d", compare.MinURLs, compare.MaxURLs, len(req.URLs))
			return
		}
		strategy, err := analysis.ParseStrategy(req.Strategy)
		if err != nil {
			writeErr(w, err)
			return
		}

		items, err := compare.Run(r.Context(), deps.Analyzer, req.URLs, strategy)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CompareResponse{Items: items, Ranking: compare.Rank(items)})
	}
}
