package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single replay; the queue itself never times out
	DefaultTimeout = 10 * time.Second
)

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Endpoint, e.StatusCode)
}

// HTTPTransport replays queued mutations against the remote API
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// Option configures the HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient sets a custom HTTP client. The client is never modified;
// WithTimeout applies to a copy of it.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *HTTPTransport) {
		t.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *HTTPTransport) {
		t.timeout = timeout
	}
}

// WithRateLimit caps outgoing requests per second. 0 disables the limit.
func WithRateLimit(requestsPerSecond int) Option {
	return func(t *HTTPTransport) {
		if requestsPerSecond <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

func NewHTTPTransport(baseURL string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(t)
	}

	switch {
	case t.httpClient == nil:
		timeout := t.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		t.httpClient = &http.Client{Timeout: timeout}
	case t.timeout > 0:
		client := *t.httpClient
		client.Timeout = t.timeout
		t.httpClient = &client
	}
	return t
}

// Send performs one call. Both transport errors and non-2xx statuses are failures.
func (t *HTTPTransport) Send(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	endpoint := t.baseURL + target
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Endpoint:   endpoint,
			Body:       string(msg),
		}
	}

	// Drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	if t.logger != nil {
		t.logger.Debug().
			Str("method", method).
			Str("url", endpoint).
			Int("status", resp.StatusCode).
			Msg("Replay succeeded")
	}
	return nil
}
