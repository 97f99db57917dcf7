// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Configuration constants for the remote store client.
const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// MaxResponseSize bounds response bodies read into memory.
	MaxResponseSize = 10 * 1024 * 1024

	// restPrefix is the path prefix of the table endpoints.
	restPrefix = "/rest/v1"
)

// Error variables for common store failures.
var (
	// ErrNotConfigured indicates the store URL or key is not set.
	ErrNotConfigured = errors.New("remote store credentials not configured")

	// ErrNoRows indicates an insert returned no representation.
	ErrNoRows = errors.New("no rows returned")
)

// StoreError is a validation-class error: the remote store rejected the
// payload (4xx). These are not retried.
type StoreError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("store error (HTTP %d): %s", e.Status, e.Message)
}

// IsValidation reports whether err is a validation-class rejection from the
// remote store, as opposed to a transport failure.
func IsValidation(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// apiErrorResponse is the error body shape of the remote store.
type apiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for the remote store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration

	// writeLimiter paces mutating calls; reads are not limited.
	writeLimiter *rate.Limiter

	logger *zap.Logger
}

// NewClient creates a remote store client for the given base URL and API key.
// The key is sent both as the apikey header and as a bearer token, matching
// the remote store's authentication scheme.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries:   DefaultMaxRetries,
		retryBase:    retryBaseDelay,
		writeLimiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:       zap.NewNop(),
	}
}

// WithLogger sets the logger used for request tracing.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	c.logger = logger.Named("store")
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the number of attempts for transient errors.
func (c *Client) WithMaxRetries(n int) *Client {
	if n < 1 {
		n = 1
	}
	c.maxRetries = n
	return c
}

// WithWriteLimit sets the sustained write rate and burst size.
func (c *Client) WithWriteLimit(perSecond float64, burst int) *Client {
	c.writeLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// IsConfigured returns true if the client has credentials.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the authentication and content headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// do performs a request with retry and exponential backoff on transport
// failures. Validation errors (4xx) are returned immediately as *StoreError.
// The caller owns the returned body bytes.
func (c *Client) do(ctx context.Context, method, path string, body any, returning bool) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if method != http.MethodGet {
		if err := c.writeLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := c.baseURL + restPrefix + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBase << (attempt - 1)):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)
		if returning {
			req.Header.Set("Prefer", "return=representation")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Debug("store request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		c.logger.Debug("store response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)))

		switch {
		case readErr != nil:
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return nil, c.validationError(resp.StatusCode, respBody)
		default:
			return respBody, nil
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// validationError converts a 4xx response into a *StoreError.
func (c *Client) validationError(status int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return &StoreError{Code: apiErr.Code, Message: apiErr.Message, Status: status}
	}
	return &StoreError{Message: http.StatusText(status), Status: status}
}

// decodeRows unmarshals a JSON array response into out.
func decodeRows[T any](body []byte) ([]T, error) {
	var rows []T
	if len(body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return rows, nil
}

// decodeSingle unmarshals an insert's representation (a one-element array)
// into a single row.
func decodeSingle[T any](body []byte) (T, error) {
	var zero T
	rows, err := decodeRows[T](body)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, ErrNoRows
	}
	return rows[0], nil
}
