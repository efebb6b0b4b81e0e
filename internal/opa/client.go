// Package opa is a REST client for the Open Policy Agent data and policy
// APIs.
package opa

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

	"policygate.org/internal/obs"
)

// Error taxonomy for engine calls. ErrTimeout also matches ErrUnreachable so
// callers can treat "engine down" uniformly while still telling timeouts
// apart.
var (
	ErrUnreachable = errors.New("opa: engine unreachable")
	ErrTimeout     = fmt.Errorf("%w: timeout", ErrUnreachable)
	ErrBadResponse = errors.New("opa: unexpected engine response")
)

// Client talks to one OPA instance over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a client for the engine at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("opa: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("opa: invalid base URL: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PushData replaces the data document at path with data.
func (c *Client) PushData(ctx context.Context, path string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("opa: encode data: %w", err)
	}
	_, err = c.do(ctx, "push_data", http.MethodPut, "/v1/data/"+strings.Trim(path, "/"),
		"application/json", bytes.NewReader(body))
	return err
}

// PushPolicy uploads (or replaces) the Rego module stored under id.
func (c *Client) PushPolicy(ctx context.Context, id, source string) error {
	_, err := c.do(ctx, "push_policy", http.MethodPut, "/v1/policies/"+url.PathEscape(id),
		"text/plain", strings.NewReader(source))
	return err
}

// DeletePolicy removes the Rego module stored under id. Deleting an unknown
// id is not an error.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete_policy", http.MethodDelete, "/v1/policies/"+url.PathEscape(id), "", nil)
	var engErr *statusError
	if errors.As(err, &engErr) && engErr.code == http.StatusNotFound {
		return nil
	}
	return err
}

// Diagnostics are compiler messages returned for a rejected module.
type Diagnostics []string

// CompileCheck uploads source under a scratch id to let the engine compile
// it, then removes the scratch module. A compile rejection comes back as
// (diagnostics, nil); transport faults as an error.
func (c *Client) CompileCheck(ctx context.Context, scratchID, source string) (Diagnostics, error) {
	_, err := c.do(ctx, "compile_check", http.MethodPut, "/v1/policies/"+url.PathEscape(scratchID),
		"text/plain", strings.NewReader(source))
	if err != nil {
		var engErr *statusError
		if errors.As(err, &engErr) && engErr.code == http.StatusBadRequest {
			return parseCompileErrors(engErr.body), nil
		}
		return nil, err
	}

	// Scratch module compiled; clean it up. Best effort: an orphaned scratch
	// module does not affect evaluation.
	if err := c.DeletePolicy(ctx, scratchID); err != nil {
		obs.LogEvent("warn", "scratch policy cleanup failed", map[string]any{
			"policy_id": scratchID,
			"error":     err.Error(),
		})
	}
	return nil, nil
}

// Query evaluates the data document at path with the given input and
// decodes the engine's "result" field into out.
func (c *Client) Query(ctx context.Context, path string, input any, out any) error {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return fmt.Errorf("opa: encode input: %w", err)
	}
	resp, err := c.do(ctx, "query", http.MethodPost, "/v1/data/"+strings.Trim(path, "/"),
		"application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if envelope.Result == nil {
		// Undefined document: the queried rule produced no value.
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrBadResponse, err)
	}
	return nil
}

// Liveness probes the engine health endpoint.
func (c *Client) Liveness(ctx context.Context) error {
	_, err := c.do(ctx, "liveness", http.MethodGet, "/health", "", nil)
	return err
}

// statusError carries a non-2xx engine response.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("opa: engine returned status %d", e.code)
}

func (e *statusError) Unwrap() error { return ErrBadResponse }

func (c *Client) do(ctx context.Context, operation, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("opa: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveEngineRequest(operation, "unreachable")
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obs.ObserveEngineRequest(operation, "unreachable")
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.ObserveEngineRequest(operation, "error")
		return nil, fmt.Errorf("opa: %s %s: %w", method, path, &statusError{code: resp.StatusCode, body: data})
	}
	obs.ObserveEngineRequest(operation, "success")
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Timeout()
	}
	return false
}

func parseCompileErrors(body []byte) Diagnostics {
	var payload struct {
		Errors []struct {
			Code     string `json:"code"`
			Message  string `json:"message"`
			Location *struct {
				File string `json:"file"`
				Row  int    `json:"row"`
			} `json:"location"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || (len(payload.Errors) == 0 && payload.Message == "") {
		return Diagnostics{"policy rejected by engine"}
	}
	var out Diagnostics
	for _, e := range payload.Errors {
		msg := e.Message
		if e.Location != nil {
			msg = fmt.Sprintf("%s (row %d)", msg, e.Location.Row)
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = Diagnostics{payload.Message}
	}
	return out
}
