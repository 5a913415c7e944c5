// Package cfx defines domain types and interfaces for the CFX routing gateway.
// This package has no project imports -- it is the dependency root.
package cfx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// --- Wire types ---

// ChatRequest represents an OpenAI-compatible chat completion request.
// Pointer fields distinguish "absent" from zero values so that absent
// fields stay off the upstream wire.
type ChatRequest struct {
	Model            string          `json:"model,omitempty"`
	Messages         []Message       `json:"messages"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Message represents a chat message. Content is kept raw so that both
// plain-string and multi-part content pass through untouched.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ChatResponse represents an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      Message         `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is a single event in a streaming response. Data holds one
// raw SSE data payload forwarded verbatim. Usage is set on the chunk that
// carried an upstream usage block, when the upstream emits one. Err
// terminates the stream.
type StreamChunk struct {
	Data  []byte
	Usage *Usage
	Err   error
}

// Normalize rewrites request fields into canonical form: a string-valued
// stop is wrapped into a one-element list.
func (r *ChatRequest) Normalize() {
	if len(r.Stop) > 0 && r.Stop[0] == '"' {
		arr, err := json.Marshal([]json.RawMessage{r.Stop})
		if err == nil {
			r.Stop = arr
		}
	}
}

// Validate checks field ranges against the OpenAI schema limits.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > 128000) {
		return fmt.Errorf("%w: max_tokens must be between 1 and 128000", ErrInvalidRequest)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidRequest)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p must be between 0 and 1", ErrInvalidRequest)
	}
	if r.N != nil && (*r.N < 1 || *r.N > 10) {
		return fmt.Errorf("%w: n must be between 1 and 10", ErrInvalidRequest)
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		return fmt.Errorf("%w: presence_penalty must be between -2 and 2", ErrInvalidRequest)
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		return fmt.Errorf("%w: frequency_penalty must be between -2 and 2", ErrInvalidRequest)
	}
	return nil
}

// --- Identity ---

// Principal is the authenticated caller for one request. A principal
// exists only if authentication succeeded.
type Principal struct {
	UserID    string `json:"user_id"`
	APIKeyID  int64  `json:"api_key_id,omitempty"` // 0 in dev mode
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// APIKey is a stored credential record.
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	KeyHash    string     `json:"-"` // salted SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"`
	Status     string     `json:"status"` // "active" or "revoked"
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// KeyStatusActive is the only status under which a key authenticates.
const KeyStatusActive = "active"

// --- Request log ---

// LogEntry is the per-request billing record. Immutable once constructed;
// TotalTokens always equals PromptTokens + CompletionTokens.
type LogEntry struct {
	RequestID        string          `json:"request_id"`
	UserID           string          `json:"user_id"`
	APIKeyID         int64           `json:"api_key_id"`
	Stage            string          `json:"stage"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Cost             decimal.Decimal `json:"cost"` // USD
	LatencyMs        int64           `json:"latency_ms"`
	StatusCode       int             `json:"status_code"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Principal field is set later by the authenticate middleware via
// mutation of the same pointer, avoiding a second context.WithValue.
type requestMeta struct {
	RequestID string
	Principal *Principal
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// PrincipalFromContext extracts the authenticated principal from ctx, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if m := metaFromContext(ctx); m != nil {
		return m.Principal
	}
	return nil
}

// ContextWithPrincipal stores the principal in the existing requestMeta if
// present, falling back to new metadata (e.g. in tests).
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Principal = p
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Principal: p})
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Component interfaces ---

// Authenticator validates an Authorization header value and returns the
// caller's principal.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*Principal, error)
}

// Upstream is the single LLM proxy the gateway forwards to.
type Upstream interface {
	// Complete sends a non-streaming chat completion request.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Stream opens a streaming chat completion. The returned channel is
	// closed when the upstream stream ends; a chunk with Err set terminates
	// it early.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	// Healthy reports whether the upstream answers its health probe.
	Healthy(ctx context.Context) bool
}
