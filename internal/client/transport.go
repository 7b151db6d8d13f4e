package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bizledger/internal/api"
)

// RetryConfig bounds how often a transient failure is retried. Only calls
// that are safe to repeat use it: reads, and transaction writes carrying an
// idempotency key.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

func (r RetryConfig) backoff(attempt int) time.Duration {
	delay := r.BaseDelay << (attempt - 1)
	if delay > r.MaxDelay || delay <= 0 {
		delay = r.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	public bool
}

// do sends one request and decodes a 2xx body into out. Non-2xx answers
// come back as the typed errors in errors.go.
func (c *Client) do(ctx context.Context, req request, out any) (int, error) {
	token := c.Token()
	if !req.public && token == "" {
		return 0, &AuthError{Message: "not signed in"}
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return 0, fmt.Errorf("marshal %s %s: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return 0, fmt.Errorf("build %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, responseError(resp)
}

func responseError(resp *http.Response) error {
	var payload api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Status: resp.StatusCode, Err: errors.New(payload.Error)}
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Message: payload.Error, Fields: payload.Fields}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Message: payload.Error}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &AuthError{Message: payload.Error}
	case payload.Code == api.CodePartialFailure:
		return &PartialFailureError{Message: payload.Error}
	default:
		return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}
}

// doRetry repeats do on transient failures with backoff.
func (c *Client) doRetry(ctx context.Context, req request, out any) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.retry.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, ctx.Err()
			case <-timer.C:
			}
			c.logger.Debug("retrying request", "method", req.method, "path", req.path, "attempt", attempt, "error", lastErr)
		}
		status, err := c.do(ctx, req, out)
		if err == nil || !IsTransient(err) {
			return status, err
		}
		lastErr = err
	}
	return 0, lastErr
}
