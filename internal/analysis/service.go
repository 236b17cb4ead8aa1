// Package analysis validates analysis requests and turns provider reports
// into normalized results.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/kalambet/pagedoctor/internal/report"
)

// Validation error codes.
const (
	CodeMissingURL      = "MISSING_URL"
	CodeInvalidURL      = "INVALID_URL"
	CodeInvalidStrategy = "INVALID_STRATEGY"
)

// ValidationError reports a request that was rejected before any provider
// call.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Provider fetches a raw report for a URL.
type Provider interface {
	Run(ctx context.Context, url string, strategy report.Strategy) ([]byte, error)
}

// Service is the single entry point for running an analysis.
type Service struct {
	provider   Provider
	normalizer *report.Normalizer
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a Service. A nil normalizer uses the default policy.
func NewService(provider Provider, normalizer *report.Normalizer) *Service {
	if normalizer == nil {
		normalizer = report.NewNormalizer(report.DefaultPolicy())
	}
	return &Service{
		provider:   provider,
		normalizer: normalizer,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Analyze validates the request, fetches the report and normalizes it. An
// empty strategy means mobile.
func (s *Service) Analyze(ctx context.Context, rawURL string, strategy report.Strategy) (report.AnalysisResult, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return report.AnalysisResult{}, err
	}
	strategy, err = ParseStrategy(string(strategy))
	if err != nil {
		return report.AnalysisResult{}, err
	}

	start := s.now()
	raw, err := s.provider.Run(ctx, target, strategy)
	if err != nil {
		return report.AnalysisResult{}, fmt.Errorf("running analysis for %s: %w", target, err)
	}

	res := s.normalizer.Normalize(raw, target, strategy, s.now())
	s.logger.Debug("analysis completed", "url", target, "strategy", strategy,
		"performance", res.Scores.Performance, "audits", len(res.Audits),
		"duration_ms", s.now().Sub(start).Milliseconds())
	return res, nil
}

// ParseStrategy validates s, defaulting an empty value to mobile.
func ParseStrategy(s string) (report.Strategy, error) {
	if s == "" {
		return report.StrategyMobile, nil
	}
	st, ok := report.ParseStrategy(s)
	if !ok {
		return "", &ValidationError{Code: CodeInvalidStrategy, Message: fmt.Sprintf("strategy must be mobile or desktop, got %q", s)}
	}
	return st, nil
}

// NormalizeURL trims raw, adds https:// when no scheme is given, converts
// the host to its ASCII form and drops any fragment.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Code: CodeMissingURL, Message: "url is required"}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Code: CodeInvalidURL, Message: fmt.Sprintf("invalid url %q", raw)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Code: CodeInvalidURL, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return "", &ValidationError{Code: CodeInvalidURL, Message: fmt.Sprintf("url %q has no host", raw)}
	}

	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil || !strings.Contains(ascii, ".") {
			return "", &ValidationError{Code: CodeInvalidURL, Message: fmt.Sprintf("invalid host %q", host)}
		}
		host = ascii
	}
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
