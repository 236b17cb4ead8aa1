// Package crux queries the Chrome UX Report API for real-user field data.
package crux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kalambet/pagedoctor/internal/psi"
	"github.com/kalambet/pagedoctor/internal/report"
)

const (
	DefaultBaseURL = "https://chromeuxreport.googleapis.com/v1"
	DefaultTimeout = 15 * time.Second
)

// MetricValue is the 75th percentile of one metric with its rating.
type MetricValue struct {
	P75    float64       `json:"p75"`
	Rating report.Rating `json:"rating"`
}

// Result is the field data for a URL. When HasData is false the metrics are
// nil. Origin is true when only origin-level data was available.
type Result struct {
	URL     string       `json:"url"`
	HasData bool         `json:"hasData"`
	Origin  bool         `json:"origin,omitempty"`
	LCP     *MetricValue `json:"lcp,omitempty"`
	INP     *MetricValue `json:"inp,omitempty"`
	CLS     *MetricValue `json:"cls,omitempty"`
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls records:queryRecord.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = DefaultTimeout
	}
	return c
}

var errNoRecord = errors.New("no field data")

// Query returns field data for pageURL, falling back to its origin when the
// page itself has no record.
func (c *Client) Query(ctx context.Context, pageURL string) (Result, error) {
	res := Result{URL: pageURL}

	body, err := c.queryRecord(ctx, map[string]string{"url": pageURL})
	if errors.Is(err, errNoRecord) {
		origin := originOf(pageURL)
		if origin == "" {
			return res, nil
		}
		body, err = c.queryRecord(ctx, map[string]string{"origin": origin})
		if errors.Is(err, errNoRecord) {
			return res, nil
		}
		res.Origin = true
	}
	if err != nil {
		return Result{}, err
	}

	metrics := gjson.GetBytes(body, "record.metrics")
	res.LCP = metric(metrics, "largest_contentful_paint", report.MetricLCP)
	res.INP = metric(metrics, "interaction_to_next_paint", report.MetricINP)
	res.CLS = metric(metrics, "cumulative_layout_shift", report.MetricCLS)
	res.HasData = res.LCP != nil || res.INP != nil || res.CLS != nil
	return res, nil
}

func (c *Client) queryRecord(ctx context.Context, payload map[string]string) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/records:queryRecord"
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &psi.Error{Code: psi.CodeRequestFailed, Message: "creating request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return nil, &psi.Error{Code: psi.CodeTimeout, Message: "no response from CrUX", Err: err}
		}
		return nil, &psi.Error{Code: psi.CodeRequestFailed, Message: "executing request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &psi.Error{Code: psi.CodeRequestFailed, Message: "reading response", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errNoRecord
	case http.StatusTooManyRequests:
		return nil, &psi.Error{Code: psi.CodeRateLimited, Status: resp.StatusCode, Message: "CrUX quota exceeded"}
	default:
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &psi.Error{Code: psi.CodeUpstream, Status: resp.StatusCode, Message: msg}
	}

	if !gjson.ValidBytes(body) {
		return nil, &psi.Error{Code: psi.CodeInvalidResponse, Status: resp.StatusCode, Message: "response is not JSON"}
	}
	return body, nil
}

// metric reads percentiles.p75, which the API sends as a number for timings
// and as a decimal string for CLS.
func metric(metrics gjson.Result, key string, m report.Metric) *MetricValue {
	p75 := metrics.Get(key + ".percentiles.p75")
	var v float64
	switch p75.Type {
	case gjson.Number:
		v = p75.Num
	case gjson.String:
		f, err := strconv.ParseFloat(p75.Str, 64)
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	return &MetricValue{P75: v, Rating: report.RateMetric(m, v)}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &t) && t.Timeout())
}
