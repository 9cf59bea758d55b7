package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// TokenSource supplies bearer credentials and a single-flight refresh.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (models.TokenPair, error)
}

// NetworkError wraps transient transport failures so callers can decide
// whether to retry or degrade.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response the pipeline did not absorb.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "pipeline: status " + strconv.Itoa(e.Code) + ": " + e.Body
}

// Client wraps every outbound call the core issues. It attaches the current
// access token and, on a 401, refreshes and retries exactly once. The
// retry-once bound holds regardless of cause: a request never goes out more
// than twice.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	logger *slog.Logger
}

func New(baseURL string, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: baseURL, http: httpClient, tokens: tokens, logger: logger}
}

// Do issues one logical request. The caller owns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("pipeline: encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.issue(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One refresh, one retry. A second 401 goes back to the caller as-is.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	observability.AuthRetries.Inc()
	c.logger.Debug("auth_retry", "method", method, "path", path)

	pair, err := c.tokens.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.issue(ctx, method, path, payload, pair.AccessToken)
}

// DoJSON issues a request and decodes a 2xx body into out. Non-2xx bodies
// come back as a *StatusError carrying the payload.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pipeline: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) issue(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}
