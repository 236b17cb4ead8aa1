package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/compare"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Analyzer  Analyzer
	Budgets   *budget.Manager
	Schedules *schedule.Manager
	Version   string
	Now       func() time.Time
}

func (d MCPDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewMCPServer creates an MCP server with all PageDoctor tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"pagedoctor",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("PageDoctor audits web page performance, accessibility, best practices and SEO, and tracks scores over time."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("analyze_url",
			mcp.WithDescription("Run a PageSpeed audit for a URL and return scores, Core Web Vitals and failing audits."),
			mcp.WithString("url", mcp.Description("Page URL; https:// is assumed when no scheme is given"), mcp.Required()),
			mcp.WithString("strategy", mcp.Description("Device profile (default mobile)"), mcp.Enum("mobile", "desktop")),
			mcp.WithBoolean("save", mcp.Description("Append the result to history")),
		),
		mcpAnalyzeURL(deps),
	)

	s.AddTool(
		mcp.NewTool("compare_urls",
			mcp.WithDescription("Audit 2 to 5 URLs side by side and rank them by performance score."),
			mcp.WithArray("urls", mcp.Description("URLs to compare"), mcp.Required()),
			mcp.WithString("strategy", mcp.Description("Device profile (default mobile)"), mcp.Enum("mobile", "desktop")),
		),
		mcpCompareURLs(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return stored analyses of a URL, oldest first."),
			mcp.WithString("url", mcp.Description("Page URL"), mcp.Required()),
			mcp.WithNumber("days", mcp.Description("Only include the last N days (default: all)")),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("set_budget",
			mcp.WithDescription("Set minimum category scores (0-100) for a URL. Omitted categories are left unset."),
			mcp.WithString("url", mcp.Description("Page URL"), mcp.Required()),
			mcp.WithNumber("performance", mcp.Description("Performance target")),
			mcp.WithNumber("accessibility", mcp.Description("Accessibility target")),
			mcp.WithNumber("best_practices", mcp.Description("Best practices target")),
			mcp.WithNumber("seo", mcp.Description("SEO target")),
		),
		mcpSetBudget(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule_analysis",
			mcp.WithDescription("Create or update a recurring analysis for a URL and strategy."),
			mcp.WithString("url", mcp.Description("Page URL"), mcp.Required()),
			mcp.WithString("interval", mcp.Description("How often to run"), mcp.Required(), mcp.Enum("daily", "weekly", "monthly")),
			mcp.WithString("strategy", mcp.Description("Device profile (default mobile)"), mcp.Enum("mobile", "desktop")),
			mcp.WithBoolean("notify_on_complete", mcp.Description("Notify when a run completes")),
			mcp.WithBoolean("notify_on_budget_exceed", mcp.Description("Notify when performance falls below its budget")),
		),
		mcpScheduleAnalysis(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"pagedoctor://history/recent",
			"Recent Analyses",
			mcp.WithResourceDescription("Last 10 stored analyses (scores and web vitals only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pagedoctor://schedules",
			"Schedules",
			mcp.WithResourceDescription("All recurring analyses"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchedules(deps),
	)

	return s
}

func mcpAnalyzeURL(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		strategy, err := analysis.ParseStrategy(req.GetString("strategy", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Analyzer.Analyze(ctx, target, strategy)
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		if req.GetBool("save", false) {
			if err := deps.Store.SaveAnalysis(storage.RecordFromResult(res, deps.now())); err != nil {
				return mcpError(fmt.Sprintf("analysis succeeded but saving failed: %v", err)), nil
			}
		}

		// Screenshots are omitted from tool output.
		res.Screenshot = ""
		return mcpJSON(res)
	}
}

func mcpCompareURLs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls := req.GetStringSlice("urls", nil)
		if len(urls) < compare.MinURLs || len(urls) > compare.MaxURLs {
			return mcpError(fmt.Sprintf("urls must hold %d to %d entries", compare.MinURLs, compare.MaxURLs)), nil
		}
		strategy, err := analysis.ParseStrategy(req.GetString("strategy", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		items, err := compare.Run(ctx, deps.Analyzer, urls, strategy)
		if err != nil {
			return mcpError(fmt.Sprintf("compare failed: %v", err)), nil
		}
		for _, it := range items {
			if it.Result != nil {
				it.Result.Screenshot = ""
			}
		}
		return mcpJSON(CompareResponse{Items: items, Ranking: compare.Rank(items)})
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		target, err := analysis.NormalizeURL(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var since time.Time
		if days := req.GetInt("days", 0); days > 0 {
			since = deps.now().AddDate(0, 0, -days)
		}
		records, err := deps.Store.ListAnalysesByURL(target, since)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		return mcpJSON(records)
	}
}

func mcpSetBudget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		target, err := analysis.NormalizeURL(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		args := req.GetArguments()
		var b budget.Budget
		for name, c := range map[string]report.Category{
			"performance":    report.CategoryPerformance,
			"accessibility":  report.CategoryAccessibility,
			"best_practices": report.CategoryBestPractices,
			"seo":            report.CategorySEO,
		} {
			var t int
			switch v := args[name].(type) {
			case float64:
				t = int(math.Round(v))
			case int:
				t = v
			default:
				continue
			}
			b.Set(c, &t)
		}
		if b.IsEmpty() {
			return mcpError("at least one category target is required"), nil
		}
		if err := deps.Budgets.Save(target, b); err != nil {
			return mcpError(fmt.Sprintf("failed to save budget: %v", err)), nil
		}
		return mcpJSON(BudgetResponse{URL: target, Budget: b, Found: true})
	}
}

func mcpScheduleAnalysis(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		interval, err := req.RequireString("interval")
		if err != nil {
			return mcpError("interval is required"), nil
		}
		target, err := analysis.NormalizeURL(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		strategy, err := analysis.ParseStrategy(req.GetString("strategy", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		sc, err := deps.Schedules.Save(ctx, target, strategy, schedule.Options{
			Interval:             schedule.Interval(interval),
			NotifyOnComplete:     req.GetBool("notify_on_complete", false),
			NotifyOnBudgetExceed: req.GetBool("notify_on_budget_exceed", false),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save schedule: %v", err)), nil
		}
		return mcpJSON(sc)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.ListRecentAnalyses(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent analyses: %w", err)
		}

		type analysisSummary struct {
			ID         string           `json:"id"`
			URL        string           `json:"url"`
			Strategy   report.Strategy  `json:"strategy"`
			AnalyzedAt string           `json:"analyzedAt"`
			Scores     report.Scores    `json:"scores"`
			WebVitals  report.WebVitals `json:"webVitals"`
			Audits     int              `json:"failingAudits"`
		}

		summaries := make([]analysisSummary, len(records))
		for i, rec := range records {
			summaries[i] = analysisSummary{
				ID:         rec.ID,
				URL:        rec.URL,
				Strategy:   rec.Strategy,
				AnalyzedAt: rec.AnalyzedAt,
				Scores:     rec.Scores,
				WebVitals:  rec.WebVitals,
				Audits:     len(rec.Audits),
			}
		}
		return resourceJSON(req.Params.URI, summaries)
	}
}

func mcpResourceSchedules(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := deps.Schedules.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list schedules: %w", err)
		}
		if list == nil {
			list = []storage.Schedule{}
		}
		return resourceJSON(req.Params.URI, list)
	}
}

func resourceJSON(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
