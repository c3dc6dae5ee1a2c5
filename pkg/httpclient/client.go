// Package httpclient is a small resilient HTTP client for calling external
// HTTP services the dispatch core depends on as opaque oracles (the
// Gateway's REST fallback paths, an external routing/ETA provider) —
// anywhere a call needs retry-with-backoff but doesn't warrant pulling in
// a provider-specific SDK.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ridecore/dispatch/pkg/resilience"
)

const defaultTimeout = 10 * time.Second

// Client is a thin wrapper over *http.Client adding a base URL, optional
// retry, and JSON body helpers.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig *resilience.RetryConfig
}

// Option configures a Client after construction.
type Option func(*Client)

// NewClient builds a Client against baseURL. An optional timeout overrides
// the default of 10s; only the first value is used.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	t := defaultTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		t = timeout[0]
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: t},
	}
}

// WithRetry enables retrying failed requests per config.
func WithRetry(config resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// WithDefaultRetry enables retry with resilience.DefaultRetryConfig,
// classifying retryable failures via isHTTPRetryable.
func WithDefaultRetry() Option {
	return func(c *Client) {
		config := resilience.DefaultRetryConfig()
		config.RetryableChecker = isHTTPRetryable
		c.retryConfig = &config
	}
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// isHTTPRetryable classifies 429 and 5xx responses, and any non-HTTPError
// (network/timeout/context) failure, as retryable.
func isHTTPRetryable(err error) bool {
	if err == nil {
		return false
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		return true
	}
	return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	operation := func(ctx context.Context) (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("httpclient: build request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("httpclient: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return respBody, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	}

	if c.retryConfig == nil {
		result, err := operation(ctx)
		if result == nil {
			return nil, err
		}
		return result.([]byte), err
	}

	result, err := resilience.Retry(ctx, *c.retryConfig, operation)
	if result == nil {
		return nil, err
	}
	return result.([]byte), err
}

// Get issues a GET request and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, headers)
}

// Post issues a POST request, JSON-encoding body when non-nil.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
		payload = encoded
	}

	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return c.do(ctx, http.MethodPost, path, payload, h)
}

// PostWithIdempotency is Post with an Idempotency-Key header set, used
// against the opaque Gateway's createOrder-style endpoints where a retried
// POST must not double-charge. An empty idempotencyKey mints a fresh UUID.
func (c *Client) PostWithIdempotency(ctx context.Context, path string, body interface{}, headers map[string]string, idempotencyKey string) ([]byte, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	h := map[string]string{"Idempotency-Key": idempotencyKey}
	for k, v := range headers {
		h[k] = v
	}
	return c.Post(ctx, path, body, h)
}
