package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

const defaultUserAgent = "restock-sentinel/1.0"

// HTTPClient implements Client against an availability HTTP API.
type HTTPClient struct {
	baseURL     string
	userAgent   string
	retries     int
	client      *http.Client
	rateLimiter *RateLimiter
	nowFunc     func() time.Time
}

// Option configures the HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets the fallback endpoint used for items without their own URL.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// WithRetries sets how many times a failed fetch is retried.
func WithRetries(n int) Option {
	return func(c *HTTPClient) {
		c.retries = n
	}
}

// WithRateLimiter injects a rate limiter that controls per-second and daily
// API call limits. When set, every fetch goes through Wait() first.
func WithRateLimiter(r *RateLimiter) Option {
	return func(c *HTTPClient) {
		c.rateLimiter = r
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) Option {
	return func(c *HTTPClient) {
		c.nowFunc = f
	}
}

// NewHTTPClient creates a new availability API client.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		userAgent: defaultUserAgent,
		retries:   2,
		client:    &http.Client{Timeout: 30 * time.Second},
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type availabilityResponse struct {
	Datacenters []LocationStatus `json:"datacenters"`
}

// FetchAvailability queries the source API for an item's per-location stock
// state. Transient failures are retried; persistent failures come back
// wrapped in ErrSourceUnavailable.
func (c *HTTPClient) FetchAvailability(ctx context.Context, it *domain.Item) (*Availability, error) {
	endpoint, err := c.itemURL(it)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		avail, err := c.fetch(ctx, endpoint)
		if err == nil {
			return avail, nil
		}
		if errors.Is(err, ErrDailyLimitReached) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s/%s: %v", ErrSourceUnavailable, it.Code, it.Region, lastErr)
}

func (c *HTTPClient) fetch(ctx context.Context, endpoint string) (*Availability, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			if errors.Is(err, ErrDailyLimitReached) {
				metrics.SourceDailyLimitHits.Inc()
			}
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		metrics.SourceAPICallsTotal.Inc()
		metrics.SourceDailyUsage.Set(float64(c.rateLimiter.DailyCount()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing availability request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp availabilityResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing availability response: %w", err)
	}

	return &Availability{
		Locations:  apiResp.Datacenters,
		Raw:        body,
		ObservedAt: c.nowFunc(),
	}, nil
}

func (c *HTTPClient) itemURL(it *domain.Item) (string, error) {
	if it.URL != "" {
		return it.URL, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("item %s/%s has no availability URL and no base URL is configured", it.Code, it.Region)
	}

	params := url.Values{}
	params.Set("planCode", it.Code)
	return c.baseURL + "?" + params.Encode(), nil
}
