package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mockAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	analyze func(url string) (report.AnalysisResult, error)
}

func (m *mockAnalyzer) Analyze(_ context.Context, url string, strategy report.Strategy) (report.AnalysisResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
	if m.analyze != nil {
		return m.analyze(url)
	}
	return report.AnalysisResult{URL: url, Strategy: strategy}, nil
}

func (m *mockAnalyzer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockNotifier struct {
	mu      sync.Mutex
	granted bool
	asked   int
	sent    []string
}

func (n *mockNotifier) RequestPermission(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asked++
	return n.granted
}

func (n *mockNotifier) Send(_ context.Context, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, title+": "+body)
}

func (n *mockNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *storage.Store, sc storage.Schedule) {
	t.Helper()
	if sc.ID == "" {
		sc.ID = "sched-" + sc.URL
	}
	if sc.Strategy == "" {
		sc.Strategy = report.StrategyMobile
	}
	if sc.Interval == "" {
		sc.Interval = string(Daily)
	}
	if sc.CreatedAt == "" {
		sc.CreatedAt = "2024-01-01T00:00:00.000Z"
	}
	sc.Enabled = true
	require.NoError(t, s.CreateSchedule(sc))
}

func scoredResult(now time.Time, perf int) func(string) (report.AnalysisResult, error) {
	return func(url string) (report.AnalysisResult, error) {
		return report.AnalysisResult{
			URL:       url,
			Strategy:  report.StrategyMobile,
			FetchedAt: report.FormatTime(now),
			Scores:    report.Scores{Performance: perf, Accessibility: 90},
			Audits:    []report.Audit{},
		}, nil
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	due := now.Add(-27 * time.Hour) // yesterday, 09:00
	store := openTestStore(t)
	seed(t, store, storage.Schedule{
		URL:              "https://example.com",
		NextRunAt:        FormatTimestamp(due),
		NotifyOnComplete: true,
	})

	analyzer := &mockAnalyzer{analyze: scoredResult(now, 72)}
	notifier := &mockNotifier{granted: true}
	r := NewRunner(Deps{
		Jobs:     store,
		History:  store,
		Analyzer: analyzer,
		Budgets:  budget.NewManager(store),
		Notifier: notifier,
		Clock:    fixedClock{now},
	})

	sum, ran := r.Run(context.Background())
	require.True(t, ran)
	assert.Equal(t, Summary{Scanned: 1, Overdue: 1, Claimed: 1, Succeeded: 1}, sum)

	assert.Equal(t, []string{"https://example.com"}, analyzer.Calls())

	history, err := store.ListAnalysesByURL("https://example.com", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2024-05-10", history[0].AnalyzedAt[:10])
	assert.Equal(t, 72, history[0].Scores.Performance)

	sc, err := store.GetSchedule("sched-https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-11T09:00:00.000Z", sc.NextRunAt, "advanced from the due time, not from now")
	assert.Equal(t, FormatTimestamp(now), sc.LastRunAt)

	assert.Equal(t, []string{"PageDoctor: https://example.com - performance score: 72"}, notifier.Sent())
}

func TestRunner_RunScansOnlyOnce(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := openTestStore(t)
	seed(t, store, storage.Schedule{URL: "https://a.example", NextRunAt: FormatTimestamp(now.Add(-time.Hour))})

	analyzer := &mockAnalyzer{}
	r := NewRunner(Deps{Jobs: store, History: store, Analyzer: analyzer, Clock: fixedClock{now}})

	_, ran := r.Run(context.Background())
	assert.True(t, ran)
	sum, ran := r.Run(context.Background())
	assert.False(t, ran)
	assert.Equal(t, Summary{}, sum)
	assert.Len(t, analyzer.Calls(), 1)
}

func TestRunner_SkipsFutureAndDisabled(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := openTestStore(t)
	seed(t, store, storage.Schedule{URL: "https://future.example", NextRunAt: FormatTimestamp(now.Add(time.Second))})
	seed(t, store, storage.Schedule{URL: "https://off.example", NextRunAt: FormatTimestamp(now.Add(-time.Hour))})
	off := false
	require.NoError(t, store.UpdateSchedule("sched-https://off.example", storage.SchedulePatch{Enabled: &off}))

	analyzer := &mockAnalyzer{}
	r := NewRunner(Deps{Jobs: store, History: store, Analyzer: analyzer, Clock: fixedClock{now}})

	sum := r.RunOverdue(context.Background())
	assert.Equal(t, Summary{Scanned: 1}, sum)
	assert.Empty(t, analyzer.Calls())
}

func TestRunner_OneFailureDoesNotStopScan(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	due := FormatTimestamp(now.Add(-time.Hour))
	store := openTestStore(t)
	seed(t, store, storage.Schedule{ID: "bad", URL: "https://bad.example", NextRunAt: due, CreatedAt: "2024-01-01T00:00:00.000Z"})
	seed(t, store, storage.Schedule{ID: "good", URL: "https://good.example", NextRunAt: due, CreatedAt: "2024-01-02T00:00:00.000Z"})

	ok := scoredResult(now, 90)
	analyzer := &mockAnalyzer{analyze: func(url string) (report.AnalysisResult, error) {
		if url == "https://bad.example" {
			return report.AnalysisResult{}, errors.New("upstream 500")
		}
		return ok(url)
	}}
	r := NewRunner(Deps{Jobs: store, History: store, Analyzer: analyzer, Clock: fixedClock{now}})

	sum := r.RunOverdue(context.Background())
	assert.Equal(t, Summary{Scanned: 2, Overdue: 2, Claimed: 2, Succeeded: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"https://bad.example", "https://good.example"}, analyzer.Calls(), "store order")

	bad, err := store.GetSchedule("bad")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-11T11:00:00.000Z", bad.NextRunAt, "failed job stays advanced")
	assert.Empty(t, bad.LastRunAt)

	good, err := store.GetSchedule("good")
	require.NoError(t, err)
	assert.Equal(t, FormatTimestamp(now), good.LastRunAt)

	// The failed job is not retried until it falls due again.
	analyzer2 := &mockAnalyzer{}
	sum = NewRunner(Deps{Jobs: store, History: store, Analyzer: analyzer2, Clock: fixedClock{now}}).RunOverdue(context.Background())
	assert.Zero(t, sum.Overdue)
	assert.Empty(t, analyzer2.Calls())
}

func TestRunner_BudgetNotification(t *testing.T) {
	tests := []struct {
		name string
		perf int
		want []string
	}{
		{"below target", 75, []string{"PageDoctor: https://example.com - performance 75 < target 80"}},
		{"meets target", 85, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
			store := openTestStore(t)
			seed(t, store, storage.Schedule{
				URL:                  "https://example.com",
				NextRunAt:            FormatTimestamp(now.Add(-time.Minute)),
				NotifyOnBudgetExceed: true,
			})
			budgets := budget.NewManager(store)
			target := 80
			require.NoError(t, budgets.Save("https://example.com", budget.Budget{Performance: &target}))

			notifier := &mockNotifier{granted: true}
			r := NewRunner(Deps{
				Jobs: store, History: store, Budgets: budgets, Notifier: notifier,
				Analyzer: &mockAnalyzer{analyze: scoredResult(now, tt.perf)},
				Clock:    fixedClock{now},
			})
			r.RunOverdue(context.Background())

			assert.Equal(t, tt.want, notifier.Sent())
		})
	}
}

func TestRunner_BudgetWithoutPerformanceTargetIsSilent(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := openTestStore(t)
	seed(t, store, storage.Schedule{URL: "u", NextRunAt: FormatTimestamp(now), NotifyOnBudgetExceed: true})
	budgets := budget.NewManager(store)
	seo := 100
	require.NoError(t, budgets.Save("u", budget.Budget{SEO: &seo}))

	notifier := &mockNotifier{granted: true}
	r := NewRunner(Deps{
		Jobs: store, History: store, Budgets: budgets, Notifier: notifier,
		Analyzer: &mockAnalyzer{analyze: scoredResult(now, 10)},
		Clock:    fixedClock{now},
	})
	sum := r.RunOverdue(context.Background())

	assert.Equal(t, 1, sum.Succeeded)
	assert.Empty(t, notifier.Sent())
}

type failingJobs struct{}

func (failingJobs) ListEnabledSchedules() ([]storage.Schedule, error) {
	return nil, errors.New("database is locked")
}
func (failingJobs) ClaimSchedule(string, string, string) (int64, error) { return 0, nil }
func (failingJobs) UpdateSchedule(string, storage.SchedulePatch) error  { return nil }

func TestRunner_ScanFailureIsNoop(t *testing.T) {
	analyzer := &mockAnalyzer{}
	r := NewRunner(Deps{Jobs: failingJobs{}, Analyzer: analyzer})

	var sum Summary
	require.NotPanics(t, func() { sum = r.RunOverdue(context.Background()) })
	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, analyzer.Calls())
}

func TestRunner_InvalidStoredValuesAreSkipped(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := openTestStore(t)
	seed(t, store, storage.Schedule{URL: "bad-time", NextRunAt: "soon"})
	seed(t, store, storage.Schedule{URL: "bad-interval", NextRunAt: FormatTimestamp(now), Interval: "hourly"})

	analyzer := &mockAnalyzer{}
	sum := NewRunner(Deps{Jobs: store, History: store, Analyzer: analyzer, Clock: fixedClock{now}}).RunOverdue(context.Background())

	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, analyzer.Calls())
}

// barrierJobs holds every runner at the list step until all of them have
// read the same snapshot of schedules.
type barrierJobs struct {
	*storage.Store
	wg *sync.WaitGroup
}

func (b barrierJobs) ListEnabledSchedules() ([]storage.Schedule, error) {
	jobs, err := b.Store.ListEnabledSchedules()
	b.wg.Done()
	b.wg.Wait()
	return jobs, err
}

func TestRunner_ConcurrentRunnersExecuteOnce(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	var stores []*storage.Store
	for i := 0; i < 2; i++ {
		s, err := storage.Open(dir)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores = append(stores, s)
	}
	seed(t, stores[0], storage.Schedule{URL: "https://example.com", NextRunAt: FormatTimestamp(now.Add(-time.Hour))})

	analyzer := &mockAnalyzer{analyze: scoredResult(now, 50)}
	var barrier sync.WaitGroup
	barrier.Add(len(stores))

	sums := make([]Summary, len(stores))
	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *storage.Store) {
			defer wg.Done()
			r := NewRunner(Deps{
				Jobs:     barrierJobs{Store: s, wg: &barrier},
				History:  s,
				Analyzer: analyzer,
				Clock:    fixedClock{now},
			})
			sums[i] = r.RunOverdue(context.Background())
		}(i, s)
	}
	wg.Wait()

	assert.Equal(t, 1, sums[0].Claimed+sums[1].Claimed, fmt.Sprintf("summaries: %+v", sums))
	assert.Equal(t, 1, sums[0].Skipped+sums[1].Skipped)
	assert.Len(t, analyzer.Calls(), 1)

	history, err := stores[0].ListAllAnalyses()
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "https://a.example - performance score: 42", CompletionMessage("https://a.example", 42))
	assert.Equal(t, "https://a.example - performance 42 < target 90", BudgetMessage("https://a.example", 42, 90))
}
