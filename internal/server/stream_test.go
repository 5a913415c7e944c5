package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/circuitbreaker"
	"github.com/cfx-labs/cfx/internal/testutil"
)

const streamJSON = `{"stream":true,"messages":[{"role":"user","content":"hello"}]}`

// waitFor polls cond until it holds or two seconds pass. The stream
// forwarder settles its bookkeeping concurrently with the response.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamPassthrough(t *testing.T) {
	t.Parallel()
	chunk1 := `{"id":"chatcmpl-1","choices":[{"delta":{"content":"Hel"}}]}`
	chunk2 := `{"id":"chatcmpl-1","choices":[{"delta":{"content":"lo"}}]}`
	up := &testutil.FakeUpstream{
		StreamFn: func(context.Context, *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
			return testutil.FakeStreamChan(
				cfx.StreamChunk{Data: []byte(chunk1)},
				cfx.StreamChunk{Data: []byte(chunk2)},
			), nil
		},
	}
	ts := newTestServer(testOpts{upstream: up})

	rec := ts.postChat(streamJSON, "code")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
	h := rec.Header()
	if got := h.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	if got := h.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if got := h.Get("X-CFX-Stage"); got != "code" {
		t.Errorf("X-CFX-Stage = %q, want code", got)
	}
	if got := h.Get("X-CFX-Model-Used"); got != "deepseek-coder" {
		t.Errorf("X-CFX-Model-Used = %q, want deepseek-coder", got)
	}

	// Chunks are forwarded verbatim, framed, with exactly one [DONE].
	want := "data: " + chunk1 + "\n\ndata: " + chunk2 + "\n\ndata: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if n := strings.Count(rec.Body.String(), "[DONE]"); n != 1 {
		t.Errorf("[DONE] count = %d, want 1", n)
	}

	if active := ts.streams.Active("test-user"); active != 0 {
		t.Errorf("active streams after completion = %d, want 0", active)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	t.Parallel()
	chunk := `{"id":"chatcmpl-1","choices":[{"delta":{"content":"par"}}]}`
	up := &testutil.FakeUpstream{
		StreamFn: func(context.Context, *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
			return testutil.FakeStreamChan(
				cfx.StreamChunk{Data: []byte(chunk)},
				cfx.StreamChunk{Err: fmt.Errorf("upstream connection lost")},
			), nil
		},
	}
	ts := newTestServer(testOpts{upstream: up})

	rec := ts.postChat(streamJSON, "plan")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (already committed)", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: "+chunk+"\n\n") {
		t.Errorf("body missing forwarded chunk: %q", body)
	}
	// The failure surfaces as a final error event, not a [DONE].
	if !strings.Contains(body, `"code":"service_unavailable"`) {
		t.Errorf("body missing error event: %q", body)
	}
	if !strings.Contains(body, "upstream connection lost") {
		t.Errorf("body missing error detail: %q", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Errorf("body has [DONE] after error: %q", body)
	}

	waitFor(t, func() bool { return ts.streams.Active("test-user") == 0 })
}

func TestStreamSlotDenied(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{maxStreams: 1})

	// Occupy the only slot for the test principal.
	release, ok := ts.streams.Begin("test-user", true)
	if !ok {
		t.Fatal("could not occupy slot")
	}
	defer release()

	rec := ts.postChat(streamJSON, "plan")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	// Routing succeeded before the slot check, so the route headers stay.
	if got := rec.Header().Get("X-CFX-Stage"); got != "plan" {
		t.Errorf("X-CFX-Stage = %q, want plan", got)
	}
	e := decodeError(t, rec)
	if e.Code != "rate_limit_exceeded" {
		t.Errorf("code = %q, want rate_limit_exceeded", e.Code)
	}
	if e.Message != "Too many concurrent streaming requests" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestStreamInitialUpstreamError(t *testing.T) {
	t.Parallel()
	up := &testutil.FakeUpstream{
		StreamFn: func(context.Context, *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
			return nil, fmt.Errorf("%w: dial tcp: connection refused", cfx.ErrUpstreamUnavailable)
		},
	}
	ts := newTestServer(testOpts{upstream: up, threshold: 1})

	rec := ts.postChat(streamJSON, "plan")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body = %s", rec.Code, rec.Body.String())
	}
	// Failed before the SSE commit: a regular JSON error, not an event.
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if e := decodeError(t, rec); e.Code != "service_unavailable" {
		t.Errorf("code = %q, want service_unavailable", e.Code)
	}

	if active := ts.streams.Active("test-user"); active != 0 {
		t.Errorf("active streams = %d, want 0", active)
	}
	if state := ts.breakers.Get("litellm").State(); state != circuitbreaker.StateOpen {
		t.Errorf("breaker state = %v, want open after dial failure", state)
	}
}
