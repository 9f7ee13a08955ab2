// Package polymarket fetches market records from the Gamma API and order books from the CLOB API.
package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
)

// Client provides access to the Polymarket Gamma and CLOB APIs
type Client struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
	timeout    time.Duration

	pageSize           int
	maxConcurrentPages int
	maxRetries         int
	retryDelayBase     time.Duration

	excludedTagIDs   map[string]bool
	excludedTagSlugs map[string]bool

	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithPaging sets the page size (capped at 500) and how many pages may be in flight.
func WithPaging(pageSize, maxConcurrent int) Option {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = min(pageSize, maxPageSize)
		}
		if maxConcurrent > 0 {
			c.maxConcurrentPages = maxConcurrent
		}
	}
}

// WithRetry sets retry behavior for order book requests.
func WithRetry(maxRetries int, delayBase time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelayBase = delayBase
	}
}

// WithExcludedTags drops records carrying any of these tag ids or slugs.
func WithExcludedTags(ids, slugs []string) Option {
	return func(c *Client) {
		for _, id := range ids {
			c.excludedTagIDs[id] = true
		}
		for _, s := range slugs {
			c.excludedTagSlugs[strings.ToLower(s)] = true
		}
	}
}

// WithMetrics counts page and order book failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

const maxPageSize = 500

// NewClient creates a new Polymarket client
func NewClient(gammaURL, clobURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		gammaURL: strings.TrimRight(gammaURL, "/"),
		clobURL:  strings.TrimRight(clobURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout:            timeout,
		pageSize:           maxPageSize,
		maxConcurrentPages: 4,
		maxRetries:         2,
		retryDelayBase:     500 * time.Millisecond,
		excludedTagIDs:     make(map[string]bool),
		excludedTagSlugs:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs a GET with linear-backoff retry on retryable failures.
// attempts is the total number of tries, at least one.
func (c *Client) doRequest(ctx context.Context, url string, attempts int) ([]byte, error) {
	var lastErr error

	for i := 0; i < max(attempts, 1); i++ {
		if i > 0 {
			delay := time.Duration(i) * c.retryDelayBase
			logger.Debug("retrying polymarket request", "url", url, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", models.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}
