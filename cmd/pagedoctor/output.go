package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/kalambet/pagedoctor/internal/report"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	labelColor   = color.New(color.Bold)
)

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, successColor.Sprint("✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorColor.Sprint("✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warningColor.Sprint("⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, stepColor.Sprint("→ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", labelColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

// colorScore paints a 0-100 score by its rating band.
func colorScore(score int) string {
	s := strconv.Itoa(score)
	switch report.RateScore(score) {
	case report.RatingGood:
		return successColor.Sprint(s)
	case report.RatingNeedsImprovement:
		return warningColor.Sprint(s)
	default:
		return errorColor.Sprint(s)
	}
}

func colorMetric(m report.Metric, v *float64) string {
	if v == nil {
		return "n/a"
	}
	var s string
	if m == report.MetricCLS {
		s = strconv.FormatFloat(*v, 'f', 3, 64)
	} else {
		s = strconv.FormatFloat(*v, 'f', 0, 64) + " ms"
	}
	switch report.RateMetric(m, *v) {
	case report.RatingGood:
		return successColor.Sprint(s)
	case report.RatingNeedsImprovement:
		return warningColor.Sprint(s)
	default:
		return errorColor.Sprint(s)
	}
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func scoreRow(label string, s report.Scores) []string {
	return []string{
		label,
		colorScore(s.Performance),
		colorScore(s.Accessibility),
		colorScore(s.BestPractices),
		colorScore(s.SEO),
	}
}

var scoreHeaders = []string{"", "Performance", "Accessibility", "Best Practices", "SEO"}

// printResult writes the scores, vitals and failing audits of one analysis.
func printResult(w io.Writer, r report.AnalysisResult) error {
	fmt.Fprintf(w, "%s %s (%s)\n", labelColor.Sprint("URL:"), r.URL, r.Strategy)
	if err := writeTable(w, scoreHeaders, [][]string{scoreRow("Score", r.Scores)}); err != nil {
		return err
	}
	vitals := [][]string{
		{"LCP", colorMetric(report.MetricLCP, r.WebVitals.LCP)},
		{"INP", colorMetric(report.MetricINP, r.WebVitals.INP)},
		{"CLS", colorMetric(report.MetricCLS, r.WebVitals.CLS)},
	}
	if err := writeTable(w, []string{"Metric", "Value"}, vitals); err != nil {
		return err
	}
	if len(r.Audits) == 0 {
		fmt.Fprintln(w, "No failing audits.")
		return nil
	}
	rows := make([][]string, 0, len(r.Audits))
	for _, a := range r.Audits {
		rows = append(rows, []string{string(a.Impact), string(a.Category), a.Title, a.DisplayValue})
	}
	return writeTable(w, []string{"Impact", "Category", "Audit", "Value"}, rows)
}
