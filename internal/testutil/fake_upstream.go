package testutil

import (
	"context"
	"encoding/json"

	cfx "github.com/cfx-labs/cfx/internal"
)

// FakeUpstream is a configurable cfx.Upstream for testing.
type FakeUpstream struct {
	CompleteFn func(ctx context.Context, req *cfx.ChatRequest) (*cfx.ChatResponse, error)
	StreamFn   func(ctx context.Context, req *cfx.ChatRequest) (<-chan cfx.StreamChunk, error)
	HealthyFn  func(ctx context.Context) bool
}

// Complete delegates to CompleteFn or returns a canned response echoing
// the requested model.
func (f *FakeUpstream) Complete(ctx context.Context, req *cfx.ChatRequest) (*cfx.ChatResponse, error) {
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req)
	}
	return &cfx.ChatResponse{
		ID:      "chatcmpl-fake",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   req.Model,
		Choices: []cfx.Choice{{
			Message:      cfx.Message{Role: "assistant", Content: json.RawMessage(`"hello"`)},
			FinishReason: "stop",
		}},
		Usage: &cfx.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}, nil
}

// Stream delegates to StreamFn or returns a short canned stream.
func (f *FakeUpstream) Stream(ctx context.Context, req *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStreamChan(
		cfx.StreamChunk{Data: []byte(`{"id":"chatcmpl-fake","choices":[{"delta":{"content":"hello"}}]}`)},
	), nil
}

// Healthy delegates to HealthyFn or reports healthy.
func (f *FakeUpstream) Healthy(ctx context.Context) bool {
	if f.HealthyFn != nil {
		return f.HealthyFn(ctx)
	}
	return true
}

// FakeStreamChan returns a closed-when-drained channel pre-loaded with the
// given chunks.
func FakeStreamChan(chunks ...cfx.StreamChunk) <-chan cfx.StreamChunk {
	ch := make(chan cfx.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
