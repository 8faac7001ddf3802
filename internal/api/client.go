// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the healio backend API.
const (
	// DefaultBaseURL is the base URL of a locally running backend.
	DefaultBaseURL = "http://localhost:5001"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for idempotent GETs.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed JSON response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// MaxArtifactSize is the maximum allowed size for a downloaded document.
	MaxArtifactSize = 50 * 1024 * 1024 // 50MB

	// userAgent identifies the client on every request.
	userAgent = "healio/0.1.0"
)

// Client-side request pacing. The backend drives an LLM per chat turn, so a
// misbehaving caller loop must not be allowed to pile up requests.
const (
	defaultRateLimit = rate.Limit(10) // requests per second
	defaultRateBurst = 5
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all non-streaming backend requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for requests whose response may be a
	// live event stream or a large document (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// Error variables for common backend failures.
var (
	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("resource not found")

	// ErrBadRequest indicates the backend rejected the request (HTTP 400).
	ErrBadRequest = errors.New("bad request")

	// ErrServerError indicates a backend-side failure (HTTP 5xx).
	ErrServerError = errors.New("server error")
)

// APIError represents an error response from the healio backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without inspecting status codes themselves.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrServerError:
		return e.Status >= 500
	}
	return false
}

// apiErrorResponse is the backend's error body shape.
type apiErrorResponse struct {
	Error string `json:"error"`
}

// Client is a client for the healio consultation backend.
//
// The zero value is not usable; construct with NewClient. All methods take a
// context and are safe for sequential use from one goroutine; the underlying
// HTTP clients are shared and pooled.
type Client struct {
	baseURL    string
	maxRetries int
	timeout    time.Duration
	limiter    *rate.Limiter
	debug      bool
}

// NewClient creates a client for the backend at baseURL. An empty baseURL
// falls back to DefaultBaseURL.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		limiter:    rate.NewLimiter(defaultRateLimit, defaultRateBurst),
	}
}

// WithTimeout sets the per-request timeout for non-streaming calls.
// Zero disables the deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of attempts for idempotent GETs.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit replaces the client-side request limiter.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithDebug enables request/response logging.
func (c *Client) WithDebug(debug bool) *Client {
	c.debug = debug
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST/RESPONSE LOGGING (without clinical data)
// =============================================================================

// logRequest logs an API request without exposing clinical data.
// Logs method and path only - never headers, never bodies. Message text and
// patient identity must not reach the log.
func (c *Client) logRequest(req *http.Request) {
	if !c.debug {
		return
	}
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration. Status and timing only,
// no response body.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	if !c.debug {
		return
	}
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, duration)
}

// =============================================================================
// RETRY LOGIC WITH EXPONENTIAL BACKOFF
// =============================================================================

// doWithRetry performs an idempotent request with retry on transport errors
// and 5xx responses. Delays follow calculateBackoff. Only GETs go through
// here; chat turns are not idempotent and are sent exactly once.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Apply backoff delay after first attempt
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt - 1)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		// Clone the request for retry (GET requests carry no body)
		reqCopy := req.Clone(ctx)
		c.logRequest(reqCopy)

		startTime := time.Now()
		resp, err := sharedHTTPClient.Do(reqCopy)
		duration := time.Since(startTime)

		if err == nil && resp.StatusCode < 500 {
			c.logResponse(resp, duration)
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			c.logResponse(resp, duration)
			body, readErr := readResponse(resp)
			resp.Body.Close()
			if readErr == nil {
				lastErr = handleErrorResponse(resp.StatusCode, body)
			} else {
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			}
		}

		// Context errors are terminal, not transient
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the headers common to all backend requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// endpoint joins the base URL, a path, and an optional query string.
func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// readResponse reads a response body with a size limit.
//
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Check if we hit the limit (response was truncated)
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// handleErrorResponse converts HTTP error responses to typed errors. The
// backend reports failures as {"error": "..."} bodies.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return &APIError{Status: statusCode, Message: apiErr.Error}
	}

	// Fallback for unparseable error responses
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{Status: statusCode, Message: msg}
}

// getJSON performs a GET with retries and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// postJSON performs a single-shot POST (no retry; writes are not idempotent)
// and decodes the JSON response into out when the status matches wantStatus.
func (c *Client) postJSON(ctx context.Context, path string, in, out any, wantStatus int) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.logRequest(req)
	startTime := time.Now()
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(startTime))

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		return handleErrorResponse(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
