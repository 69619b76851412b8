// Package api is the authenticated request client used by the message
// pipeline. Responses use the relay's JSON envelope; non-2xx answers are
// returned as *Error carrying the server's message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TokenSource supplies bearer tokens
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticTokens is a TokenSource for a fixed token
type StaticTokens string

func (s StaticTokens) GetValidToken(context.Context) (string, error) { return string(s), nil }
func (s StaticTokens) Refresh(context.Context) (string, error)       { return string(s), nil }

// Requester is the request capability consumed by the pipeline
type Requester interface {
	Request(ctx context.Context, method, path string, body, out interface{}) error
}

// Error is a non-2xx answer
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// IsStatus reports whether err is an *Error with the given status
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// envelope mirrors utils.APIResponse on the relay
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Config holds client tuning
type Config struct {
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxRetries      uint64
}

// Client issues requests against the relay
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	conf    Config
}

// NewClient creates a request client for baseURL
func NewClient(baseURL string, tokens TokenSource, conf Config) *Client {
	if conf.MaxRetries == 0 {
		conf.MaxRetries = 3
	}
	if conf.RetryMaxElapsed == 0 {
		conf.RetryMaxElapsed = 10 * time.Second
	}

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:    conf,
	}
}

// WithHTTPClient swaps the underlying client (tests use httptest clients)
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// BaseURL returns the relay address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs method on path. body is JSON-encoded when non-nil, the
// envelope's data is decoded into out when non-nil. GETs are retried with
// exponential backoff on network errors and 5xx answers. A 401 triggers one
// token refresh.
func (c *Client) Request(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	data, err := c.doWithRetry(ctx, method, path, payload, token)
	if IsStatus(err, http.StatusUnauthorized) {
		token, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr != nil {
			return err
		}
		data, err = c.doWithRetry(ctx, method, path, payload, token)
	}
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, payload []byte, token string) (json.RawMessage, error) {
	var data json.RawMessage

	operation := func() error {
		d, err := c.do(ctx, method, path, payload, token)
		if err != nil {
			if method != http.MethodGet || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		data = d
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.conf.RetryMaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.conf.MaxRetries), ctx))
	return data, err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if decodeErr == nil {
			if env.Error != nil {
				apiErr.Code = env.Error.Code
				apiErr.Message = env.Error.Message
			} else {
				apiErr.Message = env.Message
			}
		}
		return nil, apiErr
	}

	if len(raw) == 0 {
		return nil, nil
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode envelope: %w", decodeErr)
	}
	return env.Data, nil
}

func retryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Probe checks relay liveness with GET /health
func Probe(ctx context.Context, h *http.Client, baseURL, path string) error {
	if h == nil {
		h = http.DefaultClient
	}
	if path == "" {
		path = "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return err
	}

	resp, err := h.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("probe: status %d", resp.StatusCode)
	}
	return nil
}

// Probe checks liveness of the client's relay
func (c *Client) Probe(ctx context.Context) error {
	return Probe(ctx, c.http, c.baseURL, "/health")
}
