// Package budget evaluates per-URL category score targets.
package budget

import (
	"errors"
	"fmt"

	"github.com/kalambet/pagedoctor/internal/report"
)

// ErrInvalidTarget is returned by Validate for a target outside 0-100.
var ErrInvalidTarget = errors.New("invalid budget target")

// Budget holds an optional 0-100 target per category. A nil target is unset.
type Budget struct {
	Performance   *int `json:"performance,omitempty"`
	Accessibility *int `json:"accessibility,omitempty"`
	BestPractices *int `json:"best-practices,omitempty"`
	SEO           *int `json:"seo,omitempty"`
}

// Target returns the target for c, or nil when unset.
func (b Budget) Target(c report.Category) *int {
	switch c {
	case report.CategoryPerformance:
		return b.Performance
	case report.CategoryAccessibility:
		return b.Accessibility
	case report.CategoryBestPractices:
		return b.BestPractices
	case report.CategorySEO:
		return b.SEO
	}
	return nil
}

// Set assigns the target for c. A nil target clears it.
func (b *Budget) Set(c report.Category, target *int) {
	switch c {
	case report.CategoryPerformance:
		b.Performance = target
	case report.CategoryAccessibility:
		b.Accessibility = target
	case report.CategoryBestPractices:
		b.BestPractices = target
	case report.CategorySEO:
		b.SEO = target
	}
}

// IsEmpty reports whether no category has a target.
func (b Budget) IsEmpty() bool {
	for _, c := range report.Categories {
		if b.Target(c) != nil {
			return false
		}
	}
	return true
}

// Validate rejects targets outside 0-100.
func (b Budget) Validate() error {
	for _, c := range report.Categories {
		t := b.Target(c)
		if t == nil {
			continue
		}
		if *t < 0 || *t > 100 {
			return fmt.Errorf("%w: %s target %d out of range 0-100", ErrInvalidTarget, c, *t)
		}
	}
	return nil
}

// Check is the outcome for one category that has a target.
type Check struct {
	Category report.Category `json:"category"`
	Target   int             `json:"target"`
	Actual   int             `json:"actual"`
	Met      bool            `json:"met"`
}

// Evaluate compares scores against every set target, in category order.
// Unset categories produce no Check.
func Evaluate(b Budget, scores report.Scores) []Check {
	checks := []Check{}
	for _, c := range report.Categories {
		t := b.Target(c)
		if t == nil {
			continue
		}
		actual := scores.Get(c)
		checks = append(checks, Check{
			Category: c,
			Target:   *t,
			Actual:   actual,
			Met:      actual >= *t,
		})
	}
	return checks
}

// AllMet reports whether every check passed. An empty slice counts as met.
func AllMet(checks []Check) bool {
	for _, c := range checks {
		if !c.Met {
			return false
		}
	}
	return true
}

// PerformanceExceeded reports whether a performance target is set and the
// given score falls below it.
func PerformanceExceeded(b Budget, performance int) bool {
	return b.Performance != nil && performance < *b.Performance
}
