package summary

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pagedoctor/internal/report"
)

func fptr(v float64) *float64 { return &v }

func sampleResult(n int) report.AnalysisResult {
	impacts := []report.Impact{report.ImpactLow, report.ImpactHigh, report.ImpactMedium}
	audits := make([]report.Audit, 0, n)
	for i := 0; i < n; i++ {
		audits = append(audits, report.Audit{
			ID:       fmt.Sprintf("audit-%02d", i),
			Title:    fmt.Sprintf("Audit %02d", i),
			Category: report.CategoryPerformance,
			Impact:   impacts[i%len(impacts)],
		})
	}
	return report.AnalysisResult{
		URL:       "https://example.com/pricing",
		Strategy:  report.StrategyMobile,
		FetchedAt: "2024-05-10T12:00:00.000Z",
		Scores:    report.Scores{Performance: 87, Accessibility: 95, BestPractices: 100, SEO: 42},
		WebVitals: report.WebVitals{LCP: fptr(2300), INP: nil, CLS: fptr(0.12)},
		Audits:    audits,
	}
}

func TestBuild_TopAuditsByImpact(t *testing.T) {
	r := sampleResult(15)
	rep := Build(r)

	require.Len(t, rep.TopAudits, MaxAudits)
	assert.Equal(t, r.URL, rep.URL)
	assert.Equal(t, r.FetchedAt, rep.AnalyzedAt)
	assert.Equal(t, r.Scores, rep.Scores)

	// 5 high, 5 medium in input order.
	for i := 0; i < 5; i++ {
		assert.Equal(t, report.ImpactHigh, rep.TopAudits[i].Impact)
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, report.ImpactMedium, rep.TopAudits[i].Impact)
	}
	assert.Equal(t, "audit-01", rep.TopAudits[0].ID)
	assert.Equal(t, "audit-04", rep.TopAudits[1].ID)
	assert.Equal(t, "audit-02", rep.TopAudits[5].ID)

	// Input is left untouched.
	assert.Equal(t, "audit-00", r.Audits[0].ID)
}

func TestBuild_FewAudits(t *testing.T) {
	rep := Build(sampleResult(2))
	assert.Len(t, rep.TopAudits, 2)

	rep = Build(report.AnalysisResult{URL: "https://example.com/"})
	assert.Empty(t, rep.TopAudits)
}

func TestFileName(t *testing.T) {
	rep := Build(sampleResult(0))
	assert.Equal(t, "PageDoctor_example.com_2024-05-10.md", FileName(rep, "md"))
	assert.Equal(t, "PageDoctor_example.com_2024-05-10.pdf", FileName(rep, ".pdf"))

	rep.AnalyzedAt = "yesterday"
	rep.URL = "::bad"
	assert.Equal(t, "PageDoctor_site_unknown.md", FileName(rep, "md"))
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, Build(sampleResult(3))))
	out := buf.String()

	for _, want := range []string{
		"# PageDoctor",
		"## Web Performance Report",
		"https://example.com/pricing",
		"May 10, 2024 12:00 UTC",
		"## Score Summary",
		"Best Practices",
		"## Core Web Vitals",
		"2.3 s",
		"n/a",
		"0.120",
		"## Top Audits",
		"Audit 01",
		"Generated by PageDoctor",
	} {
		assert.Contains(t, out, want)
	}
}

func TestMarkdown_NoAudits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, Build(sampleResult(0))))
	assert.Contains(t, buf.String(), "No failing audits.")
}

func TestFormatMetric(t *testing.T) {
	assert.Equal(t, "850 ms", formatMetric(report.MetricINP, 850))
	assert.Equal(t, "4.1 s", formatMetric(report.MetricLCP, 4100))
	assert.Equal(t, "0.050", formatMetric(report.MetricCLS, 0.05))
}
