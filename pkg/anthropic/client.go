// Package anthropic is the thin client for the vendor's usage and rate-limit
// surfaces. Responses are cached with short TTLs so repeated dashboard polls
// never translate into repeated outbound calls, and failures are surfaced as
// typed errors, never replaced with fabricated numbers.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/cache"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/config"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/pricing"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	requestTimeout   = 10 * time.Second
	rateLimitTTL     = 30 * time.Second
	usageTTL         = 5 * time.Minute
	usageBucketWidth = "1d"
)

var (
	// ErrNoAPIKey means no key is configured; callers fall back to local
	// estimation.
	ErrNoAPIKey = errors.New("no api key configured")
	// ErrAdminKeyRequired means the configured key class cannot access the
	// usage report.
	ErrAdminKeyRequired = errors.New("usage report requires an admin api key")
	// ErrNoRateLimitData means the endpoint answered without rate-limit
	// headers.
	ErrNoRateLimitData = errors.New("response carried no rate-limit headers")
)

// HTTPError is a transport-level or non-200 failure.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("anthropic api returned status %d", e.StatusCode)
}

// RateLimitInfo is parsed from response headers.
type RateLimitInfo struct {
	UsagePercent          int       `json:"usagePercent"`
	TokensLimit           int64     `json:"tokensLimit,omitempty"`
	TokensRemaining       *int64    `json:"tokensRemaining,omitempty"`
	OutputTokensLimit     int64     `json:"outputTokensLimit,omitempty"`
	OutputTokensRemaining *int64    `json:"outputTokensRemaining,omitempty"`
	ResetAt               time.Time `json:"resetAt,omitzero"`
	FetchedAt             time.Time `json:"fetchedAt"`
}

// WindowTotals is one billing-window slice of the usage report.
type WindowTotals struct {
	Cost         float64 `json:"cost"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

// UsageReport is the day-bucketed usage view, admin keys only.
type UsageReport struct {
	Today     WindowTotals `json:"today"`
	Month     WindowTotals `json:"month"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

type Client struct {
	// BaseURL overrides the production endpoint; tests point it at a local
	// server.
	BaseURL string

	keys    *config.APIKeyStore
	table   pricing.Table
	httpc   *http.Client
	rlCache *cache.TTLMap[string, RateLimitInfo]
	usCache *cache.TTLMap[string, UsageReport]
}

func NewClient(keys *config.APIKeyStore, table pricing.Table) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		keys:    keys,
		table:   table,
		httpc:   &http.Client{Timeout: requestTimeout},
		rlCache: cache.NewTTLMap[string, RateLimitInfo](),
		usCache: cache.NewTTLMap[string, UsageReport](),
	}
}

// RateLimit returns current rate-limit counters. Any key class may call it. A
// fresh cached value is served without an outbound request.
func (c *Client) RateLimit(ctx context.Context) (RateLimitInfo, error) {
	key, ok := c.keys.Get()
	if !ok {
		return RateLimitInfo{}, ErrNoAPIKey
	}
	now := time.Now()
	if info, ok := c.rlCache.GetFresh(key.APIKey, now); ok {
		return info, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models?limit=1", key)
	if err != nil {
		return RateLimitInfo{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return RateLimitInfo{}, fmt.Errorf("rate limit request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RateLimitInfo{}, newHTTPError(resp)
	}

	info, ok := parseRateLimitHeaders(resp.Header, now.UTC())
	if !ok {
		return RateLimitInfo{}, ErrNoRateLimitData
	}
	c.rlCache.SetWithTTL(key.APIKey, info, now, rateLimitTTL)
	return info, nil
}

// Usage returns the day-bucketed usage report for the current month. Only
// admin-class keys have access; anything else is rejected locally.
func (c *Client) Usage(ctx context.Context) (UsageReport, error) {
	key, ok := c.keys.Get()
	if !ok {
		return UsageReport{}, ErrNoAPIKey
	}
	if key.KeyType != config.KeyTypeAdmin {
		return UsageReport{}, ErrAdminKeyRequired
	}
	now := time.Now()
	if report, ok := c.usCache.GetFresh(key.APIKey, now); ok {
		return report, nil
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	q := url.Values{}
	q.Set("starting_at", monthStart.Format(time.RFC3339))
	q.Set("bucket_width", usageBucketWidth)
	q.Add("group_by[]", "model")
	q.Set("limit", "31")

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/organizations/usage_report/messages?"+q.Encode(), key)
	if err != nil {
		return UsageReport{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return UsageReport{}, fmt.Errorf("usage report request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		// The key claimed admin by prefix but the API disagrees.
		return UsageReport{}, ErrAdminKeyRequired
	}
	if resp.StatusCode != http.StatusOK {
		return UsageReport{}, newHTTPError(resp)
	}

	var payload usageReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return UsageReport{}, fmt.Errorf("decode usage report: %w", err)
	}

	report := c.summarize(payload, now.UTC())
	c.usCache.SetWithTTL(key.APIKey, report, now, usageTTL)
	return report, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, key config.APIKeyConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key.KeyType == config.KeyTypeOAuth {
		req.Header.Set("Authorization", "Bearer "+key.APIKey)
	} else {
		req.Header.Set("x-api-key", key.APIKey)
	}
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func newHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}

type usageReportResponse struct {
	Data []struct {
		StartingAt string `json:"starting_at"`
		Results    []struct {
			Model               string `json:"model"`
			UncachedInputTokens int64  `json:"uncached_input_tokens"`
			CacheReadTokens     int64  `json:"cache_read_input_tokens"`
			CacheCreationTokens int64  `json:"cache_creation_input_tokens"`
			OutputTokens        int64  `json:"output_tokens"`
		} `json:"results"`
	} `json:"data"`
}

func (c *Client) summarize(payload usageReportResponse, now time.Time) UsageReport {
	report := UsageReport{FetchedAt: now}
	today := now.Format("2006-01-02")
	for _, bucket := range payload.Data {
		var slice WindowTotals
		for _, r := range bucket.Results {
			p := c.table.Lookup(r.Model)
			slice.InputTokens += r.UncachedInputTokens
			slice.OutputTokens += r.OutputTokens
			slice.Cost += float64(r.UncachedInputTokens) * p.Input / 1_000_000
			slice.Cost += float64(r.OutputTokens) * p.Output / 1_000_000
			slice.Cost += float64(r.CacheReadTokens) * p.CacheRead / 1_000_000
			slice.Cost += float64(r.CacheCreationTokens) * p.CacheCreation / 1_000_000
		}
		report.Month.Cost += slice.Cost
		report.Month.InputTokens += slice.InputTokens
		report.Month.OutputTokens += slice.OutputTokens
		if len(bucket.StartingAt) >= 10 && bucket.StartingAt[:10] == today {
			report.Today.Cost += slice.Cost
			report.Today.InputTokens += slice.InputTokens
			report.Today.OutputTokens += slice.OutputTokens
		}
	}
	return report
}

func parseRateLimitHeaders(h http.Header, now time.Time) (RateLimitInfo, bool) {
	info := RateLimitInfo{FetchedAt: now}
	found := false

	if v, ok := headerInt(h, "anthropic-ratelimit-tokens-limit"); ok {
		info.TokensLimit = v
		found = true
	}
	if v, ok := headerInt(h, "anthropic-ratelimit-tokens-remaining"); ok {
		info.TokensRemaining = &v
		found = true
	}
	if v, ok := headerInt(h, "anthropic-ratelimit-output-tokens-limit"); ok {
		info.OutputTokensLimit = v
		found = true
	}
	if v, ok := headerInt(h, "anthropic-ratelimit-output-tokens-remaining"); ok {
		info.OutputTokensRemaining = &v
		found = true
	}
	for _, name := range []string{"anthropic-ratelimit-output-tokens-reset", "anthropic-ratelimit-tokens-reset"} {
		if raw := h.Get(name); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				info.ResetAt = ts.UTC()
				found = true
				break
			}
		}
	}
	if !found {
		return RateLimitInfo{}, false
	}

	// Prefer the output-token counters; the plan limit tracked here is
	// output-bound.
	switch {
	case info.OutputTokensLimit > 0 && info.OutputTokensRemaining != nil:
		info.UsagePercent = usedPercent(info.OutputTokensLimit, *info.OutputTokensRemaining)
	case info.TokensLimit > 0 && info.TokensRemaining != nil:
		info.UsagePercent = usedPercent(info.TokensLimit, *info.TokensRemaining)
	}
	return info, true
}

func usedPercent(limit, remaining int64) int {
	if limit <= 0 {
		return 0
	}
	used := limit - remaining
	if used < 0 {
		used = 0
	}
	pct := int((used*100 + limit/2) / limit)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func headerInt(h http.Header, name string) (int64, bool) {
	raw := h.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
