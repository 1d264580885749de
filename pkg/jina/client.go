// Package jina is a client for the Jina AI Reader, which renders a page
// server-side and returns it as markdown. It reaches sites that refuse plain
// HTTP clients.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://r.jina.ai"

// Client reads pages through the Jina Reader.
type Client interface {
	Read(ctx context.Context, targetURL string) (*Page, error)
}

// Page is a rendered page.
type Page struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Tokens      int    `json:"-"`
}

type readResponse struct {
	Code int `json:"code"`
	Data struct {
		Page
		Usage struct {
			Tokens int `json:"tokens"`
		} `json:"usage"`
	} `json:"data"`
}

// StatusError reports a non-200 answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRenderTimeout asks the reader to give up rendering after d.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.renderTimeout = d }
}

// WithMaxAttempts sets how often retryable answers are retried. Default 3.
func WithMaxAttempts(n int) Option {
	return func(c *httpClient) { c.maxAttempts = n }
}

type httpClient struct {
	apiKey        string
	baseURL       string
	renderTimeout time.Duration
	maxAttempts   int
	backoff       time.Duration
	http          *http.Client
}

// NewClient creates a reader client. An empty key uses the anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		maxAttempts: 3,
		backoff:     time.Second,
		http:        &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if c.renderTimeout > 0 {
		req.Header.Set("X-Timeout", strconv.Itoa(int(c.renderTimeout.Seconds())))
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var out readResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	page := out.Data.Page
	page.Tokens = out.Data.Usage.Tokens
	if page.URL == "" {
		page.URL = targetURL
	}
	return &page, nil
}

// do sends req, retrying transport errors and retryable statuses with
// doubling backoff.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = eris.Wrap(err, "jina: request failed")
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrap(err, "jina: read response body")
		}
		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
