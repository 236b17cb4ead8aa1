package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/crux"
	"github.com/kalambet/pagedoctor/internal/psi"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

const testToken = "test-token-12345"

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeProvider returns a canned PageSpeed document per URL.
type fakeProvider struct {
	mu    sync.Mutex
	perf  map[string]float64
	errs  map[string]error
	calls []string
}

func (p *fakeProvider) Run(_ context.Context, url string, strategy report.Strategy) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url+"|"+string(strategy))
	if err := p.errs[url]; err != nil {
		return nil, err
	}
	perf, ok := p.perf[url]
	if !ok {
		perf = 0.5
	}
	return []byte(fmt.Sprintf(`{
  "lighthouseResult": {
    "fetchTime": "2024-05-10T09:00:00.000Z",
    "categories": {
      "performance": {"score": %g, "auditRefs": [{"id": "render-blocking-resources", "weight": 0, "group": "load-opportunities"}]},
      "accessibility": {"score": 0.9, "auditRefs": []},
      "best-practices": {"score": 1, "auditRefs": []},
      "seo": {"score": 0.8, "auditRefs": []}
    },
    "audits": {
      "render-blocking-resources": {"id": "render-blocking-resources", "title": "Eliminate render-blocking resources", "description": "d", "score": 0.2},
      "largest-contentful-paint": {"id": "largest-contentful-paint", "numericValue": 2400}
    }
  }
}`, perf)), nil
}

type fakeCrUX struct {
	result crux.Result
	err    error
	got    string
}

func (f *fakeCrUX) Query(_ context.Context, url string) (crux.Result, error) {
	f.got = url
	return f.result, f.err
}

type fakeRunner struct{ calls int }

func (f *fakeRunner) RunOverdue(context.Context) schedule.Summary {
	f.calls++
	return schedule.Summary{Scanned: 3, Overdue: 1, Claimed: 1, Succeeded: 1}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testEnv struct {
	handler  http.Handler
	store    *storage.Store
	provider *fakeProvider
	crux     *fakeCrUX
	runner   *fakeRunner
}

func setupAppHandler(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		provider: &fakeProvider{perf: map[string]float64{}, errs: map[string]error{}},
		crux:     &fakeCrUX{},
		runner:   &fakeRunner{},
	}
	env.handler = NewAppHandler(AppDeps{
		Store:     store,
		Analyzer:  analysis.NewService(env.provider, nil),
		CrUX:      env.crux,
		Budgets:   budget.NewManager(store),
		Schedules: schedule.NewManagerWithClock(store, nil, fixedClock{testNow}),
		Runner:    env.runner,
		Token:     testToken,
		Now:       func() time.Time { return testNow },
	})
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, status, rr.Body.String())
	}
	body := decode[map[string]string](t, rr)
	if body["code"] != code {
		t.Errorf("code = %q, want %q", body["code"], code)
	}
	if body["error"] == "" {
		t.Error("error message is empty")
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupAppHandler(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth_Required(t *testing.T) {
	env := setupAppHandler(t)

	for _, tok := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/history/urls", "", tok))
		assertError(t, rr, http.StatusUnauthorized, CodeUnauthorized)
	}
}

func TestAnalyze_SaveAppendsHistory(t *testing.T) {
	env := setupAppHandler(t)
	env.provider.perf["https://example.com/"] = 0.87

	rr := env.do(t, http.MethodPost, "/analyze", `{"url":"example.com","save":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[AnalyzeResponse](t, rr)

	if resp.Result.URL != "https://example.com/" {
		t.Errorf("url = %q", resp.Result.URL)
	}
	if resp.Result.Strategy != report.StrategyMobile {
		t.Errorf("strategy = %q, want mobile default", resp.Result.Strategy)
	}
	if resp.Result.Scores.Performance != 87 {
		t.Errorf("performance = %d, want 87", resp.Result.Scores.Performance)
	}
	if resp.RecordID == "" {
		t.Fatal("recordId is empty")
	}

	rec, err := env.store.GetAnalysis(resp.RecordID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if rec.AnalyzedAt != "2024-05-10T09:00:00.000Z" {
		t.Errorf("analyzedAt = %q", rec.AnalyzedAt)
	}
}

func TestAnalyze_WithoutSave(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPost, "/analyze", `{"url":"https://example.com","strategy":"desktop"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	urls, _ := env.store.ListAnalyzedURLs()
	if len(urls) != 0 {
		t.Errorf("history has %d urls, want 0", len(urls))
	}
	if env.provider.calls[0] != "https://example.com/|desktop" {
		t.Errorf("provider call = %q", env.provider.calls[0])
	}
}

func TestAnalyze_Errors(t *testing.T) {
	env := setupAppHandler(t)
	env.provider.errs["https://slow.example/"] = &psi.Error{Code: psi.CodeTimeout, Message: "timed out"}
	env.provider.errs["https://busy.example/"] = &psi.Error{Code: psi.CodeRateLimited, Status: 429, Message: "quota"}

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{`, http.StatusBadRequest, CodeInvalidRequest},
		{"missing url", `{"url":"  "}`, http.StatusBadRequest, analysis.CodeMissingURL},
		{"invalid url", `{"url":"ftp://example.com"}`, http.StatusBadRequest, analysis.CodeInvalidURL},
		{"invalid strategy", `{"url":"example.com","strategy":"tablet"}`, http.StatusBadRequest, analysis.CodeInvalidStrategy},
		{"timeout", `{"url":"slow.example"}`, http.StatusGatewayTimeout, string(psi.CodeTimeout)},
		{"rate limited", `{"url":"busy.example"}`, http.StatusBadGateway, string(psi.CodeRateLimited)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, env.do(t, http.MethodPost, "/analyze", tt.body), tt.status, tt.code)
		})
	}
}

func TestCrUX(t *testing.T) {
	env := setupAppHandler(t)
	env.crux.result = crux.Result{URL: "https://example.com/", HasData: true, LCP: &crux.MetricValue{P75: 1800, Rating: report.RatingGood}}

	rr := env.do(t, http.MethodPost, "/crux", `{"url":"example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if env.crux.got != "https://example.com/" {
		t.Errorf("queried %q", env.crux.got)
	}
	body := decode[struct{ Result crux.Result }](t, rr)
	if !body.Result.HasData || body.Result.LCP == nil || body.Result.LCP.P75 != 1800 {
		t.Errorf("result = %+v", body.Result)
	}

	assertError(t, env.do(t, http.MethodPost, "/crux", `{"url":""}`), http.StatusBadRequest, analysis.CodeMissingURL)
}

func TestReport(t *testing.T) {
	env := setupAppHandler(t)

	body := `{"url":"https://example.com/","analysisResult":{"url":"https://example.com/","strategy":"mobile","fetchedAt":"2024-05-10T09:00:00.000Z","scores":{"performance":70},"webVitals":{},"audits":[{"id":"a","title":"Fix A","category":"performance","impact":"high"}]}}`
	rr := env.do(t, http.MethodPost, "/report", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[ReportResponse](t, rr)
	if resp.FileName != "PageDoctor_example.com_2024-05-10.md" {
		t.Errorf("fileName = %q", resp.FileName)
	}
	if len(resp.Report.TopAudits) != 1 || !strings.Contains(resp.Markdown, "Fix A") {
		t.Errorf("report = %+v", resp.Report)
	}

	assertError(t, env.do(t, http.MethodPost, "/report", `{"analysisResult":{}}`), http.StatusBadRequest, analysis.CodeMissingURL)
	assertError(t, env.do(t, http.MethodPost, "/report", `{"url":"https://example.com/"}`), http.StatusBadRequest, CodeMissingAnalysis)
}

func TestCompare(t *testing.T) {
	env := setupAppHandler(t)
	env.provider.perf["https://a.example/"] = 0.4
	env.provider.perf["https://b.example/"] = 0.9
	env.provider.errs["https://c.example/"] = &psi.Error{Code: psi.CodeUpstream, Status: 500, Message: "boom"}

	rr := env.do(t, http.MethodPost, "/compare", `{"urls":["a.example","b.example","c.example"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[CompareResponse](t, rr)

	if len(resp.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(resp.Items))
	}
	if resp.Items[2].Error == "" || resp.Items[2].Result != nil {
		t.Errorf("item 2 = %+v, want error", resp.Items[2])
	}
	if len(resp.Ranking) != 2 || resp.Ranking[0].URL != "b.example" {
		t.Errorf("ranking = %+v", resp.Ranking)
	}

	assertError(t, env.do(t, http.MethodPost, "/compare", `{"urls":["a.example"]}`), http.StatusBadRequest, CodeInvalidRequest)
}

func TestHistory(t *testing.T) {
	env := setupAppHandler(t)

	post := func(url, fetchedAt string, perf int) {
		t.Helper()
		body := fmt.Sprintf(`{"url":%q,"strategy":"mobile","fetchedAt":%q,"scores":{"performance":%d},"webVitals":{},"audits":[]}`, url, fetchedAt, perf)
		rr := env.do(t, http.MethodPost, "/history", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
	}
	post("https://example.com/", "2024-04-01T09:00:00.000Z", 50)
	post("https://example.com/", "2024-05-09T09:00:00.000Z", 60)
	post("https://other.example/", "2024-05-10T08:00:00.000Z", 70)

	all := decode[[]storage.AnalysisRecord](t, env.do(t, http.MethodGet, "/history?url=example.com", ""))
	if len(all) != 2 || all[0].Scores.Performance != 50 {
		t.Fatalf("history = %+v", all)
	}

	week := decode[[]storage.AnalysisRecord](t, env.do(t, http.MethodGet, "/history?url=example.com&days=7", ""))
	if len(week) != 1 || week[0].Scores.Performance != 60 {
		t.Fatalf("last 7 days = %+v", week)
	}

	recent := decode[[]storage.AnalysisRecord](t, env.do(t, http.MethodGet, "/history/recent?limit=2", ""))
	if len(recent) != 2 || recent[0].URL != "https://other.example/" {
		t.Fatalf("recent = %+v", recent)
	}

	urls := decode[[]string](t, env.do(t, http.MethodGet, "/history/urls", ""))
	if len(urls) != 2 || urls[0] != "https://other.example/" {
		t.Fatalf("urls = %v", urls)
	}

	rr := env.do(t, http.MethodDelete, "/history/"+all[0].ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	assertError(t, env.do(t, http.MethodDelete, "/history/"+all[0].ID, ""), http.StatusNotFound, CodeNotFound)
	assertError(t, env.do(t, http.MethodGet, "/history", ""), http.StatusBadRequest, analysis.CodeMissingURL)
	assertError(t, env.do(t, http.MethodPost, "/history", `{"url":"https://x.example/","strategy":"tablet"}`), http.StatusBadRequest, analysis.CodeInvalidStrategy)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	env := setupAppHandler(t)
	for _, path := range []string{"/history?url=example.com", "/history/recent", "/history/urls"} {
		rr := env.do(t, http.MethodGet, path, "")
		if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
			t.Errorf("%s body = %s, want []", path, got)
		}
	}
}

func TestHistoryExport(t *testing.T) {
	env := setupAppHandler(t)
	for _, u := range []string{"https://example.com/", "https://other.example/"} {
		body := fmt.Sprintf(`{"url":%q,"strategy":"desktop","fetchedAt":"2024-05-01T09:00:00.000Z","scores":{"performance":90},"webVitals":{},"audits":[]}`, u)
		if rr := env.do(t, http.MethodPost, "/history", body); rr.Code != http.StatusCreated {
			t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
	}

	rr := env.do(t, http.MethodGet, "/history/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}
	if lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("jsonl lines = %d, want 2", len(lines))
	}

	rr = env.do(t, http.MethodGet, "/history/export?format=CSV&url=example.com", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "id,") || !strings.Contains(lines[1], "https://example.com/") {
		t.Errorf("csv = %q", rr.Body.String())
	}

	assertError(t, env.do(t, http.MethodGet, "/history/export?format=xml", ""), http.StatusBadRequest, CodeInvalidRequest)
}

func TestBudgets(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPut, "/budgets?url=example.com", `{"performance":80,"seo":90}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}

	got := decode[BudgetResponse](t, env.do(t, http.MethodGet, "/budgets?url=https://example.com/", ""))
	if !got.Found || got.Budget.Performance == nil || *got.Budget.Performance != 80 {
		t.Fatalf("budget = %+v", got)
	}

	all := decode[map[string]budget.Budget](t, env.do(t, http.MethodGet, "/budgets", ""))
	if _, ok := all["https://example.com/"]; !ok || len(all) != 1 {
		t.Fatalf("all budgets = %+v", all)
	}

	assertError(t, env.do(t, http.MethodPut, "/budgets?url=example.com", `{"performance":120}`), http.StatusBadRequest, CodeInvalidBudget)
	assertError(t, env.do(t, http.MethodPut, "/budgets?url=example.com", `{}`), http.StatusBadRequest, CodeInvalidBudget)

	if rr := env.do(t, http.MethodDelete, "/budgets?url=example.com", ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	got = decode[BudgetResponse](t, env.do(t, http.MethodGet, "/budgets?url=example.com", ""))
	if got.Found {
		t.Error("budget still found after delete")
	}
}

func TestBudgetCheck(t *testing.T) {
	env := setupAppHandler(t)

	assertError(t, env.do(t, http.MethodGet, "/budgets/check?url=example.com", ""), http.StatusNotFound, CodeNotFound)

	env.do(t, http.MethodPut, "/budgets?url=example.com", `{"performance":80,"accessibility":85}`)
	assertError(t, env.do(t, http.MethodGet, "/budgets/check?url=example.com", ""), http.StatusNotFound, CodeNotFound)

	env.provider.perf["https://example.com/"] = 0.75
	env.do(t, http.MethodPost, "/analyze", `{"url":"example.com","save":true}`)

	rr := env.do(t, http.MethodGet, "/budgets/check?url=example.com", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[BudgetCheckResponse](t, rr)
	if resp.AllMet {
		t.Error("allMet = true, want false")
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks = %+v", resp.Checks)
	}
	if resp.Checks[0].Category != report.CategoryPerformance || resp.Checks[0].Actual != 75 || resp.Checks[0].Met {
		t.Errorf("performance check = %+v", resp.Checks[0])
	}
	if !resp.Checks[1].Met {
		t.Errorf("accessibility check = %+v", resp.Checks[1])
	}
}

func TestSchedules(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPut, "/schedules", `{"url":"example.com","interval":"daily","notifyOnComplete":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}
	sc := decode[storage.Schedule](t, rr)
	if sc.URL != "https://example.com/" || sc.Strategy != report.StrategyMobile {
		t.Errorf("schedule = %+v", sc)
	}
	if sc.NextRunAt != "2024-05-11T12:00:00.000Z" {
		t.Errorf("nextRunAt = %q", sc.NextRunAt)
	}

	// Same target updates in place.
	rr = env.do(t, http.MethodPut, "/schedules", `{"url":"https://example.com/","strategy":"mobile","interval":"weekly"}`)
	updated := decode[storage.Schedule](t, rr)
	if updated.ID != sc.ID || updated.Interval != "weekly" || updated.NotifyOnComplete {
		t.Errorf("updated = %+v", updated)
	}

	list := decode[[]storage.Schedule](t, env.do(t, http.MethodGet, "/schedules", ""))
	if len(list) != 1 {
		t.Fatalf("schedules = %+v", list)
	}

	found := decode[storage.Schedule](t, env.do(t, http.MethodGet, "/schedules/lookup?url=example.com&strategy=mobile", ""))
	if found.ID != sc.ID {
		t.Errorf("lookup = %+v", found)
	}
	assertError(t, env.do(t, http.MethodGet, "/schedules/lookup?url=example.com&strategy=desktop", ""), http.StatusNotFound, CodeNotFound)
	assertError(t, env.do(t, http.MethodPut, "/schedules", `{"url":"example.com","interval":"hourly"}`), http.StatusBadRequest, CodeInvalidInterval)

	if rr := env.do(t, http.MethodDelete, "/schedules/"+sc.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	assertError(t, env.do(t, http.MethodDelete, "/schedules/"+sc.ID, ""), http.StatusNotFound, CodeNotFound)
}

func TestSchedulesRun(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPost, "/schedules/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	sum := decode[schedule.Summary](t, rr)
	if sum.Succeeded != 1 || env.runner.calls != 1 {
		t.Errorf("summary = %+v, calls = %d", sum, env.runner.calls)
	}
}
