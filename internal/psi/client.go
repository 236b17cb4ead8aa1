// Package psi calls the PageSpeed Insights v5 API.
package psi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kalambet/pagedoctor/internal/report"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/pagespeedonline/v5"
	DefaultTimeout = 30 * time.Second

	// Reports carry screenshots and can run to several megabytes.
	maxResponseBytes = 32 << 20
)

// Categories requested on every run.
var categories = []string{"PERFORMANCE", "ACCESSIBILITY", "BEST_PRACTICES", "SEO"}

// Code classifies a failed run.
type Code string

const (
	CodeTimeout         Code = "TIMEOUT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUpstream        Code = "UPSTREAM_ERROR"
	CodeInvalidResponse Code = "INVALID_RESPONSE"
	CodeRequestFailed   Code = "REQUEST_FAILED"
)

// Error is returned for every failed run.
type Error struct {
	Code    Code
	Status  int // HTTP status, 0 when no response arrived
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pagespeed %s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("pagespeed %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures a Client. Zero values select the defaults.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Locale  string
}

// Client runs PageSpeed Insights analyses.
type Client struct {
	apiKey     string
	baseURL    string
	locale     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		locale:     cfg.Locale,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Run analyzes pageURL and returns the raw report body. It makes a single
// attempt bounded by the configured timeout.
func (c *Client) Run(ctx context.Context, pageURL string, strategy report.Strategy) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint(pageURL, strategy), nil)
	if err != nil {
		return nil, &Error{Code: CodeRequestFailed, Message: "creating request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Code: CodeRateLimited, Status: resp.StatusCode, Message: upstreamMessage(body, "quota exceeded")}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Code: CodeUpstream, Status: resp.StatusCode, Message: upstreamMessage(body, http.StatusText(resp.StatusCode))}
	}

	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, &Error{Code: CodeInvalidResponse, Status: resp.StatusCode, Message: "response is not a JSON object"}
	}
	return body, nil
}

func (c *Client) endpoint(pageURL string, strategy report.Strategy) string {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("strategy", string(strategy))
	for _, cat := range categories {
		q.Add("category", cat)
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	if c.locale != "" {
		q.Set("locale", c.locale)
	}
	return c.baseURL + "/runPagespeed?" + q.Encode()
}

// transportError maps a failed round trip. Only our own deadline counts as a
// timeout; a cancelled parent context is a plain request failure.
func (c *Client) transportError(parent context.Context, err error) error {
	if parent.Err() == nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &Error{Code: CodeTimeout, Message: fmt.Sprintf("no response within %s", c.timeout), Err: err}
		}
	}
	return &Error{Code: CodeRequestFailed, Message: "executing request", Err: err}
}

// upstreamMessage extracts error.message from a Google API error body.
func upstreamMessage(body []byte, fallback string) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	return fallback
}
