// Package api is the shared HTTP client for the MT5 bridge, the model APIs and news feeds.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Client struct {
	http    *http.Client
	baseURL string
	headers http.Header
	verbose bool
	limiter *RateLimiter
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = timeout }
}

// WithBaseURL is prefixed to every relative request URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers.Set(key, value) }
}

func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithLogging logs each request at debug and failures at warn.
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) { c.verbose = enabled }
}

// WithRateLimiter makes every request wait for a token first.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = rl }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !c.verbose {
		return
	}
	if level >= slog.LevelWarn {
		logger.WarnSkip(ctx, 2, msg, args...)
		return
	}
	logger.DebugSkip(ctx, 2, msg, args...)
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
	ctx     context.Context
}

func NewRequest(method, url string) *Request {
	return &Request{Method: method, URL: url, Headers: map[string]string{}, ctx: context.Background()}
}

func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// WithBody sets a body that is sent JSON encoded.
func (r *Request) WithBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// ParseJSON decodes the body into v.
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func (r *Response) String() string { return string(r.Body) }

// Do sends req once inside an "http.<METHOD>" span.
func (c *Client) Do(req *Request) (*Response, error) {
	url := c.baseURL + req.URL
	ctx, span := trace.StartSpan(req.ctx, "http."+req.Method)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", req.Method), attribute.String("http.url", url))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := c.build(ctx, req, url)
	if err != nil {
		return nil, err
	}

	c.log(ctx, slog.LevelDebug, "HTTP request", "method", req.Method, "url", url)
	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log(ctx, slog.LevelWarn, "HTTP request failed", "method", req.Method, "url", url, "error", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))
	c.log(ctx, slog.LevelDebug, "HTTP response", "method", req.Method, "url", url,
		"status", httpResp.StatusCode, "duration", time.Since(start), "bytes", len(body))

	if httpResp.StatusCode >= 400 {
		se := &StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter(httpResp.Header.Get("Retry-After")),
		}
		span.SetStatus(codes.Error, se.Error())
		c.log(ctx, slog.LevelWarn, "HTTP error response", "method", req.Method, "url", url,
			"status", se.StatusCode, "body", truncate(se.Body, 512))
		return nil, se
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body, Headers: httpResp.Header}, nil
}

func (c *Client) build(ctx context.Context, req *Request, url string) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header[k] = v
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (c *Client) GET(ctx context.Context, url string, headers ...map[string]string) (*Response, error) {
	return c.Do(withHeaders(NewRequest(http.MethodGet, url).WithContext(ctx), headers))
}

func (c *Client) POST(ctx context.Context, url string, body any, headers ...map[string]string) (*Response, error) {
	return c.Do(withHeaders(NewRequest(http.MethodPost, url).WithContext(ctx).WithBody(body), headers))
}

func withHeaders(req *Request, headers []map[string]string) *Request {
	for _, h := range headers {
		for k, v := range h {
			req.WithHeader(k, v)
		}
	}
	return req
}

// BrowserHeaders are sent to news sites that refuse non-browser agents.
func BrowserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "application/rss+xml, application/xml, text/html;q=0.9, */*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
}

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 5 * time.Second}
}

// DoWithRetry retries network failures and 429/5xx responses with exponential backoff,
// waiting at least a Retry-After hint but never longer than MaxWait.
// Other 4xx responses are returned immediately.
func (c *Client) DoWithRetry(req *Request, cfg *RetryConfig) (*Response, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	wait := cfg.InitialWait
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := c.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var se *StatusError
		isStatus := errors.As(err, &se)
		if (isStatus && !se.Temporary()) || req.ctx.Err() != nil {
			return nil, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		pause := wait
		if isStatus && se.RetryAfter > pause {
			pause = min(se.RetryAfter, cfg.MaxWait)
		}
		c.log(req.ctx, slog.LevelWarn, "Request failed, retrying", "attempt", attempt, "error", err, "wait", pause)
		select {
		case <-req.ctx.Done():
			return nil, req.ctx.Err()
		case <-time.After(pause):
		}
		wait = min(wait*2, cfg.MaxWait)
	}
	return nil, fmt.Errorf("all %d retry attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// retryAfter parses the delta-seconds form of Retry-After.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
