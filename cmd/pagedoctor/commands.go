package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/pagedoctor/internal/api"
	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/config"
	"github.com/kalambet/pagedoctor/internal/crux"
	"github.com/kalambet/pagedoctor/internal/export"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Run a PageSpeed audit for a URL",
	Long: `Run a PageSpeed audit for a URL.

Examples:
  pagedoctor analyze example.com
  pagedoctor analyze https://example.com/pricing --strategy desktop --save`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		save, _ := cmd.Flags().GetBool("save")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing %s (%s)...", args[0], strategy)
		resp, err := client.post(cmd.Context(), "/analyze", api.AnalyzeRequest{
			URL:      args[0],
			Strategy: strategy,
			Save:     save,
		})
		if err != nil {
			return err
		}
		var result api.AnalyzeResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		if err := printResult(cmd.OutOrStdout(), result.Result); err != nil {
			return err
		}
		if result.RecordID != "" {
			printSuccess("Saved to history as %s", result.RecordID)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("strategy", "mobile", "device profile: mobile or desktop")
	analyzeCmd.Flags().Bool("save", false, "append the result to history")
	analyzeCmd.Flags().Bool("json", false, "print the raw JSON result")
}

// --- crux ---

var cruxCmd = &cobra.Command{
	Use:   "crux <url>",
	Short: "Show real-user Core Web Vitals from the Chrome UX Report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/crux", map[string]string{"url": args[0]})
		if err != nil {
			return err
		}
		var body struct {
			Result crux.Result `json:"result"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		res := body.Result
		if !res.HasData {
			printWarning("No field data for %s", res.URL)
			return nil
		}
		if res.Origin {
			printWarning("No page-level data; showing origin-level field data")
		}
		rows := [][]string{
			fieldRow(report.MetricLCP, res.LCP),
			fieldRow(report.MetricINP, res.INP),
			fieldRow(report.MetricCLS, res.CLS),
		}
		return writeTable(cmd.OutOrStdout(), []string{"Metric", "p75", "Rating"}, rows)
	},
}

func fieldRow(m report.Metric, v *crux.MetricValue) []string {
	if v == nil {
		return []string{string(m), "n/a", ""}
	}
	p75 := v.P75
	return []string{string(m), colorMetric(m, &p75), string(v.Rating)}
}

// --- compare ---

var compareCmd = &cobra.Command{
	Use:   "compare <url> <url>...",
	Short: "Analyze several URLs side by side and rank them by performance",
	Args:  cobra.RangeArgs(2, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing %d URLs (%s)...", len(args), strategy)
		resp, err := client.post(cmd.Context(), "/compare", api.CompareRequest{URLs: args, Strategy: strategy})
		if err != nil {
			return err
		}
		var result api.CompareResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		rows := make([][]string, 0, len(result.Ranking))
		for i, item := range result.Ranking {
			row := scoreRow(item.URL, item.Result.Scores)
			rows = append(rows, append([]string{strconv.Itoa(i + 1)}, row...))
		}
		headers := append([]string{"Rank"}, scoreHeaders...)
		headers[1] = "URL"
		if err := writeTable(cmd.OutOrStdout(), headers, rows); err != nil {
			return err
		}
		for _, item := range result.Items {
			if item.Error != "" {
				printError("%s: %s", item.URL, item.Error)
			}
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().String("strategy", "mobile", "device profile: mobile or desktop")
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report <url>",
	Short: "Analyze a URL and write a Markdown summary report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		dir, _ := cmd.Flags().GetString("dir")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing %s (%s)...", args[0], strategy)
		resp, err := client.post(cmd.Context(), "/analyze", api.AnalyzeRequest{URL: args[0], Strategy: strategy})
		if err != nil {
			return err
		}
		var analyzed api.AnalyzeResponse
		if err := decodeJSON(resp, &analyzed); err != nil {
			return err
		}

		resp, err = client.post(cmd.Context(), "/report", api.ReportRequest{
			URL:            analyzed.Result.URL,
			AnalysisResult: &analyzed.Result,
		})
		if err != nil {
			return err
		}
		var rep api.ReportResponse
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}

		path := filepath.Join(dir, rep.FileName)
		if err := os.WriteFile(path, []byte(rep.Markdown), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		printSuccess("Report written to %s", path)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("strategy", "mobile", "device profile: mobile or desktop")
	reportCmd.Flags().String("dir", ".", "directory to write the report into")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage stored analyses",
}

func printRecords(w io.Writer, records []storage.AnalysisRecord, withURL bool) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No analyses found.")
		return nil
	}
	headers := []string{"ID", "Analyzed", "Strategy", "Perf", "A11y", "BP", "SEO", "LCP", "CLS"}
	if withURL {
		headers = append([]string{"URL"}, headers...)
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{
			r.ID, r.AnalyzedAt, string(r.Strategy),
			colorScore(r.Scores.Performance),
			colorScore(r.Scores.Accessibility),
			colorScore(r.Scores.BestPractices),
			colorScore(r.Scores.SEO),
			colorMetric(report.MetricLCP, r.WebVitals.LCP),
			colorMetric(report.MetricCLS, r.WebVitals.CLS),
		}
		if withURL {
			row = append([]string{r.URL}, row...)
		}
		rows = append(rows, row)
	}
	return writeTable(w, headers, rows)
}

var historyListCmd = &cobra.Command{
	Use:   "list <url>",
	Short: "List the analyses of a URL, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		extra := url.Values{}
		if days > 0 {
			extra.Set("days", strconv.Itoa(days))
		}
		resp, err := client.get(cmd.Context(), withURL("/history", args[0], extra))
		if err != nil {
			return err
		}
		var records []storage.AnalysisRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), records, false)
	},
}

var historyRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent analyses across all URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history/recent?limit=%d", limit))
		if err != nil {
			return err
		}
		var records []storage.AnalysisRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), records, true)
	},
}

var historyURLsCmd = &cobra.Command{
	Use:   "urls",
	Short: "List every URL with stored analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history/urls")
		if err != nil {
			return err
		}
		var urls []string
		if err := decodeJSON(resp, &urls); err != nil {
			return err
		}
		if len(urls) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No analyses found.")
			return nil
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one stored analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted analysis %s", args[0])
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored analyses as JSONL, CSV or Parquet",
	Long: `Export stored analyses as JSONL, CSV or Parquet.

Examples:
  pagedoctor history export --format csv --output history.csv
  pagedoctor history export --url example.com --format parquet --output example.parquet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatStr, _ := cmd.Flags().GetString("format")
		pageURL, _ := cmd.Flags().GetString("url")
		output, _ := cmd.Flags().GetString("output")

		format, err := export.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		if format == export.FormatParquet && output == "" {
			return fmt.Errorf("--output is required for parquet")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		extra := url.Values{"format": {string(format)}}
		resp, err := client.get(cmd.Context(), withURL("/history/export", pageURL, extra))
		if err != nil {
			return err
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		defer resp.Body.Close()

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}

		if output != "" {
			printSuccess("History exported to %s", output)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("days", 0, "only show the trailing number of days")
	historyRecentCmd.Flags().Int("limit", 5, "maximum number of analyses")
	historyExportCmd.Flags().String("format", "jsonl", "jsonl, csv or parquet")
	historyExportCmd.Flags().String("url", "", "only export this URL")
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyCmd.AddCommand(historyListCmd, historyRecentCmd, historyURLsCmd, historyDeleteCmd, historyExportCmd)
}

// --- budget ---

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage per-URL score budgets",
}

func budgetRow(u string, b budget.Budget) []string {
	row := []string{u}
	for _, c := range report.Categories {
		if t := b.Target(c); t != nil {
			row = append(row, strconv.Itoa(*t))
		} else {
			row = append(row, "-")
		}
	}
	return row
}

var budgetHeaders = []string{"URL", "Performance", "Accessibility", "Best Practices", "SEO"}

var budgetShowCmd = &cobra.Command{
	Use:   "show [url]",
	Short: "Show the budget of a URL, or every budget",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/budgets")
			if err != nil {
				return err
			}
			var all map[string]budget.Budget
			if err := decodeJSON(resp, &all); err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No budgets set.")
				return nil
			}
			urls := make([]string, 0, len(all))
			for u := range all {
				urls = append(urls, u)
			}
			sort.Strings(urls)
			rows := make([][]string, 0, len(urls))
			for _, u := range urls {
				rows = append(rows, budgetRow(u, all[u]))
			}
			return writeTable(cmd.OutOrStdout(), budgetHeaders, rows)
		}

		resp, err := client.get(cmd.Context(), withURL("/budgets", args[0], nil))
		if err != nil {
			return err
		}
		var result api.BudgetResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Found {
			fmt.Fprintf(cmd.OutOrStdout(), "No budget set for %s.\n", result.URL)
			return nil
		}
		return writeTable(cmd.OutOrStdout(), budgetHeaders, [][]string{budgetRow(result.URL, result.Budget)})
	},
}

var budgetFlags = map[report.Category]string{
	report.CategoryPerformance:   "performance",
	report.CategoryAccessibility: "accessibility",
	report.CategoryBestPractices: "best-practices",
	report.CategorySEO:           "seo",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Set minimum scores for a URL",
	Long: `Set minimum scores for a URL. Categories without a flag stay unset.

Examples:
  pagedoctor budget set example.com --performance 90
  pagedoctor budget set example.com --performance 80 --seo 95`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var b budget.Budget
		for _, c := range report.Categories {
			name := budgetFlags[c]
			if !cmd.Flags().Changed(name) {
				continue
			}
			v, _ := cmd.Flags().GetInt(name)
			b.Set(c, &v)
		}
		if b.IsEmpty() {
			return fmt.Errorf("at least one of --performance, --accessibility, --best-practices or --seo is required")
		}
		if err := b.Validate(); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), withURL("/budgets", args[0], nil), b)
		if err != nil {
			return err
		}
		var result api.BudgetResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Budget saved for %s", result.URL)
		return nil
	},
}

var budgetDeleteCmd = &cobra.Command{
	Use:   "delete <url>",
	Short: "Remove the budget of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), withURL("/budgets", args[0], nil))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Budget removed for %s", args[0])
		return nil
	},
}

var budgetCheckCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Check the latest stored analysis of a URL against its budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), withURL("/budgets/check", args[0], nil))
		if err != nil {
			return err
		}
		var result api.BudgetCheckResponse
		if err := decodeJSON(resp, &result); err != nil {
			if isNotFound(err) {
				printWarning("Nothing to check for %s: %v", args[0], err)
				return nil
			}
			return err
		}

		rows := make([][]string, 0, len(result.Checks))
		for _, c := range result.Checks {
			state := successColor.Sprint("met")
			if !c.Met {
				state = errorColor.Sprint("missed")
			}
			rows = append(rows, []string{string(c.Category), strconv.Itoa(c.Target), colorScore(c.Actual), state})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (analyzed %s)\n", labelColor.Sprint("URL:"), result.URL, result.AnalyzedAt)
		if err := writeTable(cmd.OutOrStdout(), []string{"Category", "Target", "Actual", "Status"}, rows); err != nil {
			return err
		}
		if !result.AllMet {
			return fmt.Errorf("budget exceeded for %s", result.URL)
		}
		printSuccess("All budgets met")
		return nil
	},
}

func init() {
	for _, c := range report.Categories {
		budgetSetCmd.Flags().Int(budgetFlags[c], 0, "minimum "+string(c)+" score (0-100)")
	}
	budgetCmd.AddCommand(budgetShowCmd, budgetSetCmd, budgetDeleteCmd, budgetCheckCmd)
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring analyses",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/schedules")
		if err != nil {
			return err
		}
		var list []storage.Schedule
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No schedules.")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, sc := range list {
			lastRun := sc.LastRunAt
			if lastRun == "" {
				lastRun = "never"
			}
			rows = append(rows, []string{
				sc.ID, sc.URL, string(sc.Strategy), sc.Interval,
				strconv.FormatBool(sc.Enabled), sc.NextRunAt, lastRun,
			})
		}
		return writeTable(cmd.OutOrStdout(), []string{"ID", "URL", "Strategy", "Interval", "Enabled", "Next Run", "Last Run"}, rows)
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Create or update the schedule of a URL",
	Long: `Create or update the schedule of a URL. A URL has at most one
schedule per strategy; setting it again replaces its interval and options.

Examples:
  pagedoctor schedule set example.com --interval weekly
  pagedoctor schedule set example.com --interval daily --strategy desktop --notify-budget`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetString("interval")
		strategy, _ := cmd.Flags().GetString("strategy")
		notifyComplete, _ := cmd.Flags().GetBool("notify-complete")
		notifyBudget, _ := cmd.Flags().GetBool("notify-budget")

		if _, err := schedule.ParseInterval(interval); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/schedules", api.ScheduleRequest{
			URL:                  args[0],
			Strategy:             strategy,
			Interval:             interval,
			NotifyOnComplete:     notifyComplete,
			NotifyOnBudgetExceed: notifyBudget,
		})
		if err != nil {
			return err
		}
		var sc storage.Schedule
		if err := decodeJSON(resp, &sc); err != nil {
			return err
		}
		printSuccess("Scheduled %s %s (%s), next run %s", sc.Interval, sc.URL, sc.Strategy, sc.NextRunAt)
		return nil
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/schedules/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted schedule %s", args[0])
		return nil
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every overdue schedule now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running overdue schedules...")
		resp, err := client.post(cmd.Context(), "/schedules/run", nil)
		if err != nil {
			return err
		}
		var sum schedule.Summary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}
		printStatus("Scanned", "%d", sum.Scanned)
		printStatus("Overdue", "%d", sum.Overdue)
		printStatus("Succeeded", "%d", sum.Succeeded)
		printStatus("Failed", "%d", sum.Failed)
		printStatus("Skipped", "%d", sum.Skipped)
		return nil
	},
}

func init() {
	scheduleSetCmd.Flags().String("interval", "weekly", "daily, weekly or monthly")
	scheduleSetCmd.Flags().String("strategy", "mobile", "device profile: mobile or desktop")
	scheduleSetCmd.Flags().Bool("notify-complete", false, "notify when each run completes")
	scheduleSetCmd.Flags().Bool("notify-budget", false, "notify when performance falls below the budget")
	scheduleCmd.AddCommand(scheduleListCmd, scheduleSetCmd, scheduleDeleteCmd, scheduleRunCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
