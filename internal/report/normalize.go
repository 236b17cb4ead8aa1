package report

import (
	"math"
	"sort"
	"time"
)

// TimeLayout is the ISO-8601 form used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Audit ids and groups the normalizer reads directly.
const (
	auditLCP             = "largest-contentful-paint"
	auditCLS             = "cumulative-layout-shift"
	auditINP             = "interaction-to-next-paint"
	auditExperimentalINP = "experimental-interaction-to-next-paint"
	auditScreenshot      = "final-screenshot"
	groupDiagnostics     = "diagnostics"
)

// Policy holds the thresholds used to select and classify audits.
type Policy struct {
	PassingScore  float64 // audits scoring at or above this are dropped
	HighWeight    float64
	MediumWeight  float64
	HighScore     float64
	MediumScore   float64
	MaxDetailRows int
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		PassingScore:  0.9,
		HighWeight:    10,
		MediumWeight:  5,
		HighScore:     0.3,
		MediumScore:   0.6,
		MaxDetailRows: 10,
	}
}

// Impact classifies an audit. Weight and score are independent signals;
// either one alone can raise the tier.
func (p Policy) Impact(weight, score float64) Impact {
	switch {
	case weight >= p.HighWeight || score <= p.HighScore:
		return ImpactHigh
	case weight >= p.MediumWeight || score <= p.MediumScore:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// Normalizer turns provider reports into AnalysisResults.
type Normalizer struct {
	policy Policy
}

// NewNormalizer creates a Normalizer. A zero MaxDetailRows falls back to the
// default row cap.
func NewNormalizer(p Policy) *Normalizer {
	if p.MaxDetailRows <= 0 {
		p.MaxDetailRows = DefaultPolicy().MaxDetailRows
	}
	return &Normalizer{policy: p}
}

var defaultNormalizer = NewNormalizer(DefaultPolicy())

// Normalize converts a raw provider report using the default policy.
func Normalize(raw []byte, url string, strategy Strategy, now time.Time) AnalysisResult {
	return defaultNormalizer.Normalize(raw, url, strategy, now)
}

// Normalize converts a raw provider report. It is total: any input,
// including invalid JSON, produces a result.
func (n *Normalizer) Normalize(raw []byte, url string, strategy Strategy, now time.Time) AnalysisResult {
	return n.FromRaw(ParseRaw(raw), url, strategy, now)
}

// FromRaw builds the result from an already parsed report.
func (n *Normalizer) FromRaw(r RawReport, url string, strategy Strategy, now time.Time) AnalysisResult {
	res := AnalysisResult{
		URL:       url,
		Strategy:  strategy,
		FetchedAt: fetchedAt(r.FetchTime, now),
		WebVitals: webVitals(r),
		Audits:    n.audits(r),
	}
	for _, c := range Categories {
		res.Scores.set(c, percent(r.Categories[c].Score))
	}
	if a, ok := r.Audits[auditScreenshot]; ok && a.Details != nil {
		res.Screenshot = a.Details.Data
	}
	return res
}

func fetchedAt(ts string, now time.Time) string {
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return FormatTime(t)
		}
	}
	return FormatTime(now)
}

// percent maps a [0,1] fraction to 0-100, rounding half up.
func percent(score *float64) int {
	if score == nil || math.IsNaN(*score) {
		return 0
	}
	v := math.Floor(*score*100 + 0.5)
	return int(math.Max(0, math.Min(100, v)))
}

func webVitals(r RawReport) WebVitals {
	return WebVitals{
		LCP: metric(r, auditLCP),
		CLS: metric(r, auditCLS),
		INP: inp(r),
	}
}

// inp resolves INP from the first source that has a value: the lab audit,
// the experimental lab audit, then the field percentile.
func inp(r RawReport) *float64 {
	if v := metric(r, auditINP); v != nil {
		return v
	}
	if v := metric(r, auditExperimentalINP); v != nil {
		return v
	}
	for _, key := range []string{FieldINP, FieldExperimentalINP} {
		if v, ok := r.FieldMetrics[key]; ok {
			return &v
		}
	}
	return nil
}

func metric(r RawReport, id string) *float64 {
	a, ok := r.Audits[id]
	if !ok || a.NumericValue == nil || *a.NumericValue < 0 {
		return nil
	}
	v := *a.NumericValue
	return &v
}

func (n *Normalizer) audits(r RawReport) []Audit {
	out := []Audit{}
	seen := map[string]bool{}

	for _, cat := range Categories {
		rc, ok := r.Categories[cat]
		if !ok {
			continue
		}
		for _, ref := range rc.AuditRefs {
			if ref.Weight <= 0 && ref.Group != groupDiagnostics {
				continue
			}
			a, ok := r.Audits[ref.ID]
			if !ok || seen[ref.ID] || a.Score == nil || *a.Score >= n.policy.PassingScore {
				continue
			}
			seen[ref.ID] = true

			score := *a.Score
			out = append(out, Audit{
				ID:           ref.ID,
				Title:        a.Title,
				Description:  a.Description,
				Score:        &score,
				DisplayValue: a.DisplayValue,
				Category:     cat,
				Impact:       n.policy.Impact(ref.Weight, score),
				Details:      n.details(a.Details),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Impact.Rank(), out[j].Impact.Rank()
		if ri != rj {
			return ri < rj
		}
		return *out[i].Score < *out[j].Score
	})
	return out
}

func (n *Normalizer) details(d *RawDetails) *AuditDetails {
	if d == nil || (d.Type != "table" && d.Type != "opportunity") {
		return nil
	}

	var headings []DetailHeading
	for _, h := range d.Headings {
		if h.Key != "" {
			headings = append(headings, h)
		}
	}
	if len(headings) == 0 || len(d.Items) == 0 {
		return nil
	}

	items := d.Items
	if len(items) > n.policy.MaxDetailRows {
		items = items[:n.policy.MaxDetailRows]
	}
	rows := make([]DetailRow, 0, len(items))
	for _, it := range items {
		row := make(DetailRow, len(headings))
		for _, h := range headings {
			v, ok := it[h.Key]
			if !ok {
				row[h.Key] = nil
				continue
			}
			row[h.Key] = flatten(v)
		}
		rows = append(rows, row)
	}

	return &AuditDetails{
		Headings:            headings,
		Items:               rows,
		OverallSavingsMs:    d.OverallSavingsMs,
		OverallSavingsBytes: d.OverallSavingsBytes,
	}
}

// flatten reduces a provider cell to a scalar: plain scalars pass through,
// objects yield their value, snippet or url field, anything else becomes
// its JSON text.
func flatten(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindString:
		return v.String
	case KindNumber:
		return v.Number
	case KindObject:
		for _, key := range []string{"value", "snippet", "url"} {
			f, ok := v.Fields[key]
			if !ok {
				continue
			}
			switch f.Kind {
			case KindNull, KindString, KindNumber:
				return flatten(f)
			default:
				return f.JSON
			}
		}
	}
	return v.JSON
}
