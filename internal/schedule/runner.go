package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
)

// NotificationTitle is the title of every notification the runner sends.
const NotificationTitle = "PageDoctor"

// JobStore abstracts the schedule operations the runner needs.
// Implemented by storage.Store.
type JobStore interface {
	ListEnabledSchedules() ([]storage.Schedule, error)
	ClaimSchedule(id, expected, next string) (int64, error)
	UpdateSchedule(id string, patch storage.SchedulePatch) error
}

// HistoryStore appends analysis records.
type HistoryStore interface {
	SaveAnalysis(rec storage.AnalysisRecord) error
}

// Analyzer measures a URL and returns the normalized result.
type Analyzer interface {
	Analyze(ctx context.Context, url string, strategy report.Strategy) (report.AnalysisResult, error)
}

// BudgetReader looks up the budget stored for a URL.
type BudgetReader interface {
	Get(url string) (budget.Budget, bool, error)
}

// Notifier delivers user notifications. Send must not block and is a
// no-op when permission was not granted.
type Notifier interface {
	RequestPermission(ctx context.Context) bool
	Send(ctx context.Context, title, body string)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deps are the collaborators of a Runner. Budgets, Notifier, Clock and
// Logger are optional.
type Deps struct {
	Jobs     JobStore
	History  HistoryStore
	Analyzer Analyzer
	Budgets  BudgetReader
	Notifier Notifier
	Clock    Clock
	Logger   *slog.Logger
}

// Summary counts what one scan did.
type Summary struct {
	Scanned   int `json:"scanned"`
	Overdue   int `json:"overdue"`
	Claimed   int `json:"claimed"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Runner executes overdue schedules. It is a catch-up pass, not a timer:
// each call scans once and returns.
type Runner struct {
	jobs     JobStore
	history  HistoryStore
	analyzer Analyzer
	budgets  BudgetReader
	notifier Notifier
	clock    Clock
	logger   *slog.Logger

	once sync.Once
}

// NewRunner creates a Runner from d.
func NewRunner(d Deps) *Runner {
	r := &Runner{
		jobs:     d.Jobs,
		history:  d.History,
		analyzer: d.Analyzer,
		budgets:  d.Budgets,
		notifier: d.Notifier,
		clock:    d.Clock,
		logger:   d.Logger,
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run performs the startup scan. Only the first call on a Runner scans;
// later calls return a zero Summary and false.
func (r *Runner) Run(ctx context.Context) (Summary, bool) {
	var sum Summary
	ran := false
	r.once.Do(func() {
		ran = true
		sum = r.RunOverdue(ctx)
	})
	return sum, ran
}

// RunOverdue scans enabled schedules and runs each overdue one it manages
// to claim. Jobs run one after another in store order. Failures are logged
// and counted, never returned.
func (r *Runner) RunOverdue(ctx context.Context) Summary {
	var sum Summary
	now := r.clock.Now()

	jobs, err := r.jobs.ListEnabledSchedules()
	if err != nil {
		r.logger.Error("loading schedules", "error", err)
		return sum
	}
	sum.Scanned = len(jobs)

	for _, job := range jobs {
		if ctx.Err() != nil {
			r.logger.Info("schedule scan interrupted", "error", ctx.Err())
			break
		}

		due, err := ParseTimestamp(job.NextRunAt)
		if err != nil {
			r.logger.Warn("skipping schedule", "schedule_id", job.ID, "error", err)
			sum.Skipped++
			continue
		}
		if !IsOverdue(due, now) {
			continue
		}
		sum.Overdue++

		interval, err := ParseInterval(job.Interval)
		if err != nil {
			r.logger.Warn("skipping schedule", "schedule_id", job.ID, "error", err)
			sum.Skipped++
			continue
		}

		next := FormatTimestamp(NextAfter(interval, due, now))
		n, err := r.jobs.ClaimSchedule(job.ID, job.NextRunAt, next)
		if err != nil {
			r.logger.Error("claiming schedule", "schedule_id", job.ID, "error", err)
			sum.Failed++
			continue
		}
		if n == 0 {
			r.logger.Debug("schedule claimed elsewhere", "schedule_id", job.ID)
			sum.Skipped++
			continue
		}
		sum.Claimed++

		if err := r.runJob(ctx, job); err != nil {
			r.logger.Warn("scheduled analysis failed", "schedule_id", job.ID, "url", job.URL, "error", err)
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}

	r.logger.Info("schedule scan finished",
		"scanned", sum.Scanned, "overdue", sum.Overdue, "claimed", sum.Claimed,
		"skipped", sum.Skipped, "succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum
}

func (r *Runner) runJob(ctx context.Context, job storage.Schedule) error {
	res, err := r.analyzer.Analyze(ctx, job.URL, job.Strategy)
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", job.URL, err)
	}

	now := r.clock.Now()
	if err := r.history.SaveAnalysis(storage.RecordFromResult(res, now)); err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}

	last := FormatTimestamp(now)
	if err := r.jobs.UpdateSchedule(job.ID, storage.SchedulePatch{LastRunAt: &last}); err != nil {
		return fmt.Errorf("stamping last run: %w", err)
	}

	perf := res.Scores.Performance
	if job.NotifyOnComplete {
		r.notify(ctx, CompletionMessage(job.URL, perf))
	}
	if job.NotifyOnBudgetExceed {
		r.checkBudget(ctx, job.URL, perf)
	}
	return nil
}

// checkBudget notifies when the performance target for url is missed.
// Lookup errors are logged; the job still counts as successful.
func (r *Runner) checkBudget(ctx context.Context, url string, perf int) {
	if r.budgets == nil {
		return
	}
	b, found, err := r.budgets.Get(url)
	if err != nil {
		r.logger.Warn("loading budget", "url", url, "error", err)
		return
	}
	if !found || !budget.PerformanceExceeded(b, perf) {
		return
	}
	r.notify(ctx, BudgetMessage(url, perf, *b.Performance))
}

func (r *Runner) notify(ctx context.Context, body string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Send(ctx, NotificationTitle, body)
}

// CompletionMessage is the body sent when a scheduled analysis finishes.
func CompletionMessage(url string, perf int) string {
	return fmt.Sprintf("%s - performance score: %d", url, perf)
}

// BudgetMessage is the body sent when a performance target is missed.
func BudgetMessage(url string, perf, target int) string {
	return fmt.Sprintf("%s - performance %d < target %d", url, perf, target)
}
