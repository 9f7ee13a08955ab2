// Package edgekv is a client for a Cloudflare Workers KV namespace over the REST API.
//
// Values are addressed as {base}/accounts/{account}/storage/kv/namespaces/{namespace}/values/{key}
// and authenticated with a bearer API token.
package edgekv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
)

// MinTTL is the shortest expiration the KV API accepts.
const MinTTL = 60 * time.Second

// APIError is a non-success response from the KV API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("edge kv api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Unwrap lets callers match every KV failure with models.ErrStoreUnavailable.
func (e *APIError) Unwrap() error {
	return models.ErrStoreUnavailable
}

// Client talks to one KV namespace.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a Client for accountID/namespaceID under baseURL.
func NewClient(baseURL, accountID, namespaceID, apiToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL: fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s",
			strings.TrimRight(baseURL, "/"), url.PathEscape(accountID), url.PathEscape(namespaceID)),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get returns the value of key, or false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, status, err := c.do(ctx, http.MethodGet, key, nil, nil)
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Put stores value under key. A positive ttl sets expiration_ttl, raised to MinTTL if needed.
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var q url.Values
	if ttl > 0 {
		q = url.Values{}
		q.Set("expiration_ttl", strconv.Itoa(int(max(ttl, MinTTL).Seconds())))
	}
	_, _, err := c.do(ctx, http.MethodPut, key, q, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, status, err := c.do(ctx, http.MethodDelete, key, nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, key string, query url.Values, payload []byte) ([]byte, int, error) {
	u := c.baseURL + "/values/" + url.PathEscape(key)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s %s: %w", models.ErrStoreUnavailable, method, key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %w", models.ErrStoreUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
	return body, resp.StatusCode, nil
}
