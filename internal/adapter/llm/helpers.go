package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

// maxResponseBody is the maximum response body size we read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Default connection pool settings: few hosts, high concurrency,
// long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
	defaultRequestTimeout      = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with pooled transport sized for
// provider API traffic. The overall timeout comes from the credential set;
// streaming requests rely on context cancellation instead.
func NewHTTPClient(cred config.CredentialSet, pool config.PoolConfig) *http.Client {
	timeout := cred.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        maxIdle,
			MaxIdleConnsPerHost: maxIdlePerHost,
			MaxConnsPerHost:     maxConnsPerHost,
			IdleConnTimeout:     idleTimeout,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}

// doJSONRequest performs a JSON POST and returns the response body.
// Non-200 responses are mapped into the domain error taxonomy.
func doJSONRequest(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrAPIRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, domain.Abort(ctx, fmt.Errorf("%w: http request: %v", domain.ErrAPIRequest, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.Abort(ctx, fmt.Errorf("%w: read response: %v", domain.ErrAPIRequest, err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a JSON POST for SSE streaming and returns the
// open *http.Response (caller must close Body).
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrAPIRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, domain.Abort(ctx, fmt.Errorf("%w: http request: %v", domain.ErrAPIRequest, err))
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// safetyMarkers are substrings providers use when rejecting content on
// safety grounds. Checked case-insensitively against error bodies.
var safetyMarkers = []string{
	"content_filter",
	"content_policy",
	"content management policy",
	"safety",
}

// mapHTTPError maps an HTTP status + body into the domain taxonomy.
// A safety rejection must stay distinguishable from a generic failure:
// it is surfaced immediately and never retried.
func mapHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	lower := strings.ToLower(bodyStr)
	for _, marker := range safetyMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: API error %d: %s", domain.ErrUnsafeContent, statusCode, bodyStr)
		}
	}
	return fmt.Errorf("%w: API error %d: %s", domain.ErrAPIRequest, statusCode, bodyStr)
}
