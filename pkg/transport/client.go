package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/headers"
	"github.com/toshiapp/toshi-auth-go/pkg/metrics"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// HTTPError is returned for any non-2xx response that is not retried
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an HTTPError
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// ClientConfig configures a signed API client
type ClientConfig struct {
	BaseURL  string
	Identity IdentitySource

	// Base is the underlying round tripper. Defaults to a clone of http.DefaultTransport.
	Base    http.RoundTripper
	Timeout time.Duration
	Retry   *RetryConfig

	// RequestsPerSecond limits outgoing attempts. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Client sends signed requests to one Toshi service
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	retryConfig RetryConfig
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewClient validates cfg and builds the signing HTTP client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	rt, err := NewTransport(cfg.Base, cfg.Identity, cfg.Now, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	retry := DefaultRetryConfig
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:     base,
		httpClient:  &http.Client{Transport: rt, Timeout: cfg.Timeout},
		retryConfig: retry,
		limiter:     limiter,
		logger:      l,
		metrics:     cfg.Metrics,
	}, nil
}

// BaseURL is the service root requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends a signed request, retrying transport errors and 5xx responses with
// exponential backoff. Each attempt is signed afresh with a new timestamp.
// Non-2xx responses come back as *HTTPError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) (*Response, error) {
	target := c.baseURL.String() + path

	var lastErr error
	backoff := c.retryConfig.InitialBackoff
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.ObserveRetry(c.baseURL.Host)
			c.logger.Sugar().Debugw("Retrying signed request",
				"method", method,
				"path", path,
				"attempt", attempt+1,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, target, body, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.retryConfig.MaxAttempts, lastErr)
}

// retryable reports whether a failed attempt may succeed when re-sent.
// Signing failures and 4xx responses are final.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, headers.ErrNilIdentity),
		errors.Is(err, headers.ErrEncoding),
		errors.Is(err, cereal.ErrNoIdentity):
		return false
	}
	return true
}

func (c *Client) attempt(ctx context.Context, method, target string, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set(headers.ContentTypeHeader, contentType)
	}
	req.Header.Set("Accept", headers.JSONContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: data}
		var envelope types.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil {
			httpErr.Message = envelope.First()
		}
		return nil, httpErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetJSON sends a signed GET and decodes the response into out when out is non-nil
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// SendDictionary encodes payload the same way the signature does and sends it
func (c *Client) SendDictionary(ctx context.Context, method, path string, payload map[string]interface{}, out interface{}) error {
	body, err := headers.EncodeDictionary(payload)
	if err != nil {
		return err
	}
	if method == "" {
		method = http.MethodPost
	}
	resp, err := c.Do(ctx, method, path, body, headers.JSONContentType)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// SendMultipart posts a multipart body. The boundary is generated when empty.
func (c *Client) SendMultipart(ctx context.Context, path string, body *headers.MultipartBody, out interface{}) error {
	data, err := body.Encode()
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, path, data, body.ContentType())
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *Response, out interface{}) error {
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
