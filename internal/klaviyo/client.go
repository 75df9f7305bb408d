package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPDoer is the interface for executing HTTP requests. *http.Client
// satisfies it; tests inject fakes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klaviyo_requests_total",
		Help: "Upstream Klaviyo API calls by endpoint and status code",
	}, []string{"endpoint", "status"})
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "klaviyo_request_duration_seconds",
		Help:    "Upstream Klaviyo API call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// APIError carries a non-2xx upstream response unmodified so callers can
// surface the raw payload.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("klaviyo: status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL  string
	APIKey   string
	Revision string

	// ReportDelay is inserted between successive calls to the rate-limited
	// aggregate/report endpoints. The high-limit list/event endpoints are
	// never delayed.
	ReportDelay time.Duration

	HTTPTimeout time.Duration
}

// Client issues authenticated calls against the Klaviyo API. No retries are
// performed: a failed call fails that call's contribution to the report, and
// the aggregate-endpoint quota is respected proactively by pacing rather than
// reactively on 429s.
type Client struct {
	baseURL     string
	apiKey      string
	revision    string
	reportDelay time.Duration
	httpClient  HTTPDoer

	mu             sync.Mutex
	lastReportCall time.Time
}

func NewClient(cfg Config) *Client {
	to := cfg.HTTPTimeout
	if to == 0 {
		to = 60 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		revision:    cfg.Revision,
		reportDelay: cfg.ReportDelay,
		httpClient:  &http.Client{Timeout: to},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(doer HTTPDoer) {
	c.httpClient = doer
}

func (c *Client) doRequest(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	req.Header.Set("revision", c.revision)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamDuration.WithLabelValues(req.URL.Path).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamRequests.WithLabelValues(req.URL.Path, "error").Inc()
		return nil, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	upstreamRequests.WithLabelValues(req.URL.Path, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// FetchPage fetches one page of a listing. A non-empty cursor resumes from
// that point; the returned cursor is empty on the last page.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values, cursor string) (Page, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	if cursor != "" {
		q.Set("page[cursor]", cursor)
	}
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	body, err := c.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{}, err
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, fmt.Errorf("parse %s response: %w", path, err)
	}
	return page, nil
}

// FetchAll drains every page of a listing, concatenating data and included
// resources in page order. No deduplication is performed; callers deduplicate
// if they need to.
func (c *Client) FetchAll(ctx context.Context, path string, params url.Values) ([]Resource, []Resource, error) {
	var data, included []Resource
	cursor := ""
	for {
		page, err := c.FetchPage(ctx, path, params, cursor)
		if err != nil {
			return nil, nil, err
		}
		data = append(data, page.Data...)
		included = append(included, page.Included...)
		cursor = nextCursor(page.Links.Next)
		if cursor == "" {
			return data, included, nil
		}
	}
}

// nextCursor extracts the page[cursor] token from a links.next URL.
func nextCursor(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("page[cursor]")
}

// Aggregate runs a metric-aggregate query. These endpoints share a steady
// ~2 requests/minute quota, so successive calls are paced by ReportDelay. The
// pause lands between calls, never before the first one.
func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateResponse, error) {
	if err := c.reportPause(ctx); err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/api/metric-aggregates/", req)
	if err != nil {
		return nil, err
	}
	var out AggregateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse aggregate response: %w", err)
	}
	return &out, nil
}

// reportPause reserves the next send slot under the lock before sleeping, so
// overlapping report requests queue one delay apart instead of waking
// together and bursting past the quota.
func (c *Client) reportPause(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	slot := now
	if c.reportDelay > 0 && !c.lastReportCall.IsZero() {
		if next := c.lastReportCall.Add(c.reportDelay); next.After(now) {
			slot = next
		}
	}
	c.lastReportCall = slot
	c.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ListMetrics fetches every metric definition in the account.
func (c *Client) ListMetrics(ctx context.Context) ([]Metric, error) {
	data, _, err := c.FetchAll(ctx, "/api/metrics/", nil)
	if err != nil {
		return nil, err
	}
	out := make([]Metric, 0, len(data))
	for _, res := range data {
		var attrs MetricAttributes
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		out = append(out, Metric{ID: res.ID, Name: attrs.Name})
	}
	return out, nil
}
