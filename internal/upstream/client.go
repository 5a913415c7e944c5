// Package upstream implements the LiteLLM proxy client the gateway
// forwards all completions to.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultBaseURL = "http://localhost:4000"
	upstreamName   = "litellm"

	defaultRetryDelay = time.Second
	healthTimeout     = 5 * time.Second
)

// retryStatus lists upstream statuses worth one more attempt.
var retryStatus = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

var _ cfx.Upstream = (*Client)(nil)

// Client talks to a LiteLLM proxy over its OpenAI-compatible API.
// Auth is handled by the HTTP client's transport chain.
type Client struct {
	baseURL    string
	http       *http.Client
	retryCount int
	retryDelay time.Duration
	retries    prometheus.Counter // nil disables retry counting
}

// New creates a Client for the LiteLLM proxy at baseURL. retryCount is
// the number of extra attempts made for transient failures (connection
// errors and 502/503/504). retries, when non-nil, counts retry attempts.
func New(baseURL string, client *http.Client, retryCount int, retries prometheus.Counter) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if retryCount < 0 {
		retryCount = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       client,
		retryCount: retryCount,
		retryDelay: defaultRetryDelay,
		retries:    retries,
	}
}

// Complete sends a non-streaming chat completion request. Transient
// failures are retried up to the configured count with a fixed delay;
// exhausted retries return an error wrapping cfx.ErrUpstreamUnavailable.
// Non-retryable upstream statuses return an *APIError.
func (c *Client) Complete(ctx context.Context, req *cfx.ChatRequest) (*cfx.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", upstreamName, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			if c.retries != nil {
				c.retries.Inc()
			}
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", upstreamName, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var out cfx.ChatResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("%s: decode response: %w", upstreamName, err)
			}
			resp.Body.Close()
			return &out, nil
		}

		if retryStatus[resp.StatusCode] && attempt < c.retryCount {
			lastErr = fmt.Errorf("%s: HTTP %d", upstreamName, resp.StatusCode)
			resp.Body.Close()
			continue
		}

		// Non-retryable, or a retryable status on the final attempt:
		// surface the upstream error as-is.
		apiErr := ParseAPIError(resp)
		resp.Body.Close()
		return nil, apiErr
	}

	return nil, fmt.Errorf("%w after %d attempts: %v",
		cfx.ErrUpstreamUnavailable, c.retryCount+1, lastErr)
}

// Stream opens a streaming chat completion. stream=true is forced and
// usage reporting is requested so the final chunk carries token counts.
// The returned channel is closed when the upstream stream ends; a chunk
// with Err set terminates it early.
func (c *Client) Stream(ctx context.Context, req *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
	outReq := *req
	outReq.Stream = true
	if outReq.StreamOptions == nil {
		outReq.StreamOptions = &cfx.StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(&outReq)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", upstreamName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", upstreamName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cfx.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := ParseAPIError(resp)
		resp.Body.Close()
		return nil, apiErr
	}

	ch := make(chan cfx.StreamChunk, 8)
	go readSSEStream(ctx, resp, ch)
	return ch, nil
}

// Healthy reports whether the upstream answers its health probe within
// a short deadline.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
