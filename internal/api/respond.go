package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/psi"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Error codes owned by the HTTP layer. Validation and provider failures
// carry their own codes.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeMissingAnalysis = "MISSING_ANALYSIS"
	CodeInvalidBudget   = "INVALID_BUDGET"
	CodeInvalidInterval = "INVALID_INTERVAL"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

func httpError(w http.ResponseWriter, status int, code string, format string, args ...any) {
	writeJSON(w, status, map[string]string{
		"error": fmt.Sprintf(format, args...),
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto status codes: validation 400, missing
// records 404, provider timeouts 504, other provider failures 502.
func writeErr(w http.ResponseWriter, err error) {
	var verr *analysis.ValidationError
	var perr *psi.Error
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, verr.Code, "%s", verr.Message)
	case errors.Is(err, budget.ErrInvalidTarget):
		httpError(w, http.StatusBadRequest, CodeInvalidBudget, "%v", err)
	case errors.Is(err, schedule.ErrUnknownInterval):
		httpError(w, http.StatusBadRequest, CodeInvalidInterval, "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, CodeNotFound, "%v", err)
	case errors.As(err, &perr):
		status := http.StatusBadGateway
		if perr.Code == psi.CodeTimeout {
			status = http.StatusGatewayTimeout
		}
		httpError(w, status, string(perr.Code), "%s", perr.Message)
	default:
		httpError(w, http.StatusInternalServerError, CodeInternal, "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: %v", err)
		return false
	}
	return true
}
