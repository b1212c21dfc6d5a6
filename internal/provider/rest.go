// internal/provider/rest.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 2048

// Option customizes a Google REST client.
type Option func(*restClient)

// WithBaseURL points the client at another host, e.g. a regional endpoint or a test server.
func WithBaseURL(base string) Option {
	return func(c *restClient) { c.base = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *restClient) { c.hc = hc }
}

// restClient carries the transport and credentials shared by the Google REST
// clients. A bearer token takes precedence over an API key.
type restClient struct {
	base   string       // Scheme and host of the API
	token  string       // OAuth access token
	apiKey string       // API key, sent as ?key=
	hc     *http.Client // HTTP client; per-call deadlines come from the context
}

func newRESTClient(base, token, apiKey string, opts ...Option) restClient {
	// Configure HTTP transport with a connection timeout; request deadlines
	// are carried by the caller's context.
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c := restClient{
		base:   base,
		token:  token,
		apiKey: apiKey,
		hc:     &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// APIError is a non-2xx response or an error object returned by a Google API.
type APIError struct {
	StatusCode int    // HTTP status
	Status     string // Canonical status, e.g. RESOURCE_EXHAUSTED
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google api %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("google api %d: %s", e.StatusCode, e.Message)
}

// googleError is the error object embedded in Google API responses.
type googleError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (g *googleError) asAPIError() *APIError {
	return &APIError{StatusCode: g.Code, Status: g.Status, Message: g.Message}
}

func (c restClient) url(path string) string {
	u := c.base + path
	if c.token == "" && c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	return u
}

func (c restClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c restClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c restClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var envelope struct {
			Error *googleError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr := envelope.Error.asAPIError()
			apiErr.StatusCode = resp.StatusCode
			return apiErr
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
