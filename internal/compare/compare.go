// Package compare analyzes several URLs side by side.
package compare

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pagedoctor/internal/report"
)

const (
	MinURLs = 2
	MaxURLs = 5
)

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, url string, strategy report.Strategy) (report.AnalysisResult, error)
}

// Item is the settled outcome for one URL: exactly one of Result and Error
// is set.
type Item struct {
	URL    string                 `json:"url"`
	Result *report.AnalysisResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}

// Run analyzes urls concurrently. A failure for one URL is recorded on its
// Item and does not affect the others; Items keep the input order.
func Run(ctx context.Context, a Analyzer, urls []string, strategy report.Strategy) ([]Item, error) {
	if len(urls) < MinURLs || len(urls) > MaxURLs {
		return nil, fmt.Errorf("compare needs %d to %d urls, got %d", MinURLs, MaxURLs, len(urls))
	}

	items := make([]Item, len(urls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(MaxURLs)

	for i, u := range urls {
		g.Go(func() error {
			items[i].URL = u
			res, err := a.Analyze(gCtx, u, strategy)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = &res
			return nil
		})
	}

	// Workers record failures on their item and never return an error.
	_ = g.Wait()
	return items, nil
}

// Rank returns the successful items ordered by performance score, best
// first. Equal scores keep input order.
func Rank(items []Item) []Item {
	ranked := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Result != nil {
			ranked = append(ranked, it)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Result.Scores.Performance > ranked[j].Result.Scores.Performance
	})
	return ranked
}
