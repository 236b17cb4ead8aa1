// Package summary condenses an analysis into a shareable report document.
package summary

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"

	"github.com/kalambet/pagedoctor/internal/report"
)

// MaxAudits caps the audits carried into a report.
const MaxAudits = 10

// Report is the printable digest of one AnalysisResult.
type Report struct {
	URL        string           `json:"url"`
	Strategy   report.Strategy  `json:"strategy"`
	AnalyzedAt string           `json:"analyzedAt"`
	Scores     report.Scores    `json:"scores"`
	WebVitals  report.WebVitals `json:"webVitals"`
	TopAudits  []report.Audit   `json:"topAudits"`
}

// Build extracts the report fields from r. The top audits are the first
// MaxAudits by impact, keeping the normalizer's order within a tier.
func Build(r report.AnalysisResult) Report {
	audits := make([]report.Audit, len(r.Audits))
	copy(audits, r.Audits)
	sort.SliceStable(audits, func(i, j int) bool {
		return audits[i].Impact.Rank() < audits[j].Impact.Rank()
	})
	if len(audits) > MaxAudits {
		audits = audits[:MaxAudits]
	}

	return Report{
		URL:        r.URL,
		Strategy:   r.Strategy,
		AnalyzedAt: r.FetchedAt,
		Scores:     r.Scores,
		WebVitals:  r.WebVitals,
		TopAudits:  audits,
	}
}

// FileName returns PageDoctor_<host>_<YYYY-MM-DD>.<ext>. The date comes
// from AnalyzedAt; an unparseable timestamp leaves it as "unknown".
func FileName(rep Report, ext string) string {
	host := "site"
	if u, err := url.Parse(rep.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	date := "unknown"
	if t, err := time.Parse(time.RFC3339Nano, rep.AnalyzedAt); err == nil {
		date = t.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("PageDoctor_%s_%s.%s", host, date, strings.TrimPrefix(ext, "."))
}

// Markdown renders rep as a Markdown document.
func Markdown(w io.Writer, rep Report) error {
	var sb strings.Builder

	sb.WriteString("# PageDoctor\n\n")
	sb.WriteString("## Web Performance Report\n\n")
	fmt.Fprintf(&sb, "- URL: %s\n", rep.URL)
	if rep.Strategy != "" {
		fmt.Fprintf(&sb, "- Strategy: %s\n", rep.Strategy)
	}
	fmt.Fprintf(&sb, "- Date: %s\n\n", displayDate(rep.AnalyzedAt))

	sb.WriteString("## Score Summary\n\n")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}
	sb.Reset()

	scores := make([][]string, 0, len(report.Categories))
	for _, c := range report.Categories {
		s := rep.Scores.Get(c)
		scores = append(scores, []string{categoryLabel(c), strconv.Itoa(s), string(report.RateScore(s))})
	}
	if err := renderTable(w, []string{"Category", "Score", "Rating"}, scores); err != nil {
		return fmt.Errorf("rendering scores: %w", err)
	}

	if _, err := io.WriteString(w, "\n## Core Web Vitals\n\n"); err != nil {
		return err
	}
	vitals := [][]string{
		vitalRow("Largest Contentful Paint", report.MetricLCP, rep.WebVitals.LCP),
		vitalRow("Interaction to Next Paint", report.MetricINP, rep.WebVitals.INP),
		vitalRow("Cumulative Layout Shift", report.MetricCLS, rep.WebVitals.CLS),
	}
	if err := renderTable(w, []string{"Metric", "Value", "Rating"}, vitals); err != nil {
		return fmt.Errorf("rendering web vitals: %w", err)
	}

	if _, err := io.WriteString(w, "\n## Top Audits\n\n"); err != nil {
		return err
	}
	if len(rep.TopAudits) == 0 {
		if _, err := io.WriteString(w, "No failing audits.\n"); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(rep.TopAudits))
		for i, a := range rep.TopAudits {
			rows = append(rows, []string{strconv.Itoa(i + 1), a.Title, string(a.Impact), categoryLabel(a.Category)})
		}
		if err := renderTable(w, []string{"#", "Audit", "Impact", "Category"}, rows); err != nil {
			return fmt.Errorf("rendering audits: %w", err)
		}
	}

	_, err := io.WriteString(w, "\n---\n\nGenerated by PageDoctor\n")
	return err
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w, tablewriter.WithRenderer(renderer.NewMarkdown()))
	defer func() { _ = table.Close() }()

	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func vitalRow(label string, m report.Metric, v *float64) []string {
	if v == nil {
		return []string{label, "n/a", "-"}
	}
	return []string{label, formatMetric(m, *v), string(report.RateMetric(m, *v))}
}

func formatMetric(m report.Metric, v float64) string {
	if m == report.MetricCLS {
		return strconv.FormatFloat(v, 'f', 3, 64)
	}
	if v >= 1000 {
		return strconv.FormatFloat(v/1000, 'f', 1, 64) + " s"
	}
	return strconv.FormatFloat(v, 'f', 0, 64) + " ms"
}

func categoryLabel(c report.Category) string {
	switch c {
	case report.CategoryPerformance:
		return "Performance"
	case report.CategoryAccessibility:
		return "Accessibility"
	case report.CategoryBestPractices:
		return "Best Practices"
	case report.CategorySEO:
		return "SEO"
	}
	return string(c)
}

func displayDate(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("January 2, 2006 15:04 UTC")
}
