package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/pagedoctor/internal/report"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AnalysisRecord is a stored copy of an AnalysisResult without the screenshot.
type AnalysisRecord struct {
	ID         string           `json:"id"`
	URL        string           `json:"url"`
	Strategy   report.Strategy  `json:"strategy"`
	AnalyzedAt string           `json:"analyzedAt"`
	Scores     report.Scores    `json:"scores"`
	WebVitals  report.WebVitals `json:"webVitals"`
	Audits     []report.Audit   `json:"audits"`
}

// RecordFromResult copies r into a new record with a fresh ID. AnalyzedAt is
// r.FetchedAt re-rendered in the storage layout, or now when unparseable.
func RecordFromResult(r report.AnalysisResult, now time.Time) AnalysisRecord {
	analyzedAt := report.FormatTime(now)
	if t, err := time.Parse(time.RFC3339Nano, r.FetchedAt); err == nil {
		analyzedAt = report.FormatTime(t)
	}

	rec := AnalysisRecord{
		ID:         uuid.New().String(),
		URL:        r.URL,
		Strategy:   r.Strategy,
		AnalyzedAt: analyzedAt,
		Scores:     r.Scores,
		WebVitals: report.WebVitals{
			LCP: copyFloat(r.WebVitals.LCP),
			INP: copyFloat(r.WebVitals.INP),
			CLS: copyFloat(r.WebVitals.CLS),
		},
		Audits: append([]report.Audit{}, r.Audits...),
	}
	return rec
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Schedule is one recurring analysis job. Timestamps are strings in
// report.TimeLayout so the claim can compare them exactly.
type Schedule struct {
	ID                   string          `json:"id"`
	URL                  string          `json:"url"`
	Strategy             report.Strategy `json:"strategy"`
	Interval             string          `json:"interval"`
	Enabled              bool            `json:"enabled"`
	NotifyOnComplete     bool            `json:"notifyOnComplete"`
	NotifyOnBudgetExceed bool            `json:"notifyOnBudgetExceed"`
	NextRunAt            string          `json:"nextRunAt"`
	LastRunAt            string          `json:"lastRunAt,omitempty"`
	CreatedAt            string          `json:"createdAt"`
}

// SchedulePatch lists the fields UpdateSchedule changes. Nil fields are kept.
type SchedulePatch struct {
	Interval             *string
	Enabled              *bool
	NotifyOnComplete     *bool
	NotifyOnBudgetExceed *bool
	NextRunAt            *string
	LastRunAt            *string
}
