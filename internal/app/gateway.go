// Package app implements application-level services for the CFX routing
// gateway: the request orchestrator that composes quota, routing, circuit
// breaking, upstream calls and logging, and the API key lifecycle manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/circuitbreaker"
	"github.com/cfx-labs/cfx/internal/logpipe"
	"github.com/cfx-labs/cfx/internal/quota"
	"github.com/cfx-labs/cfx/internal/routing"
	"github.com/cfx-labs/cfx/internal/streamlimit"
	"github.com/cfx-labs/cfx/internal/telemetry"
	"github.com/cfx-labs/cfx/internal/tokencount"
	"github.com/cfx-labs/cfx/internal/upstream"
)

// upstreamBreaker names the breaker guarding the LiteLLM proxy. All chat
// traffic funnels through a single upstream, so a single breaker suffices;
// the registry keeps the door open for per-model breakers later.
const upstreamBreaker = "litellm"

// Deps holds the collaborators a Gateway composes. All fields are required
// except Logs and Metrics, which may be nil in tests.
type Deps struct {
	Router   *routing.Router
	Quota    *quota.Limiter
	Streams  *streamlimit.Limiter
	Breakers *circuitbreaker.Registry
	Upstream cfx.Upstream
	Logs     *logpipe.Pipeline
	Metrics  *telemetry.Metrics
}

// Gateway orchestrates one chat completion request end to end: quota check,
// stage routing, breaker consultation, the upstream call, and the log entry.
// It is the single place that decides which error reaches the client; the
// HTTP layer only translates the returned errors into wire responses.
type Gateway struct {
	router  *routing.Router
	quota   *quota.Limiter
	streams *streamlimit.Limiter
	breaker *circuitbreaker.Breaker
	llm     cfx.Upstream
	logs    *logpipe.Pipeline
	metrics *telemetry.Metrics

	now func() time.Time // injectable for latency tests
}

// NewGateway wires a Gateway from deps.
func NewGateway(deps Deps) *Gateway {
	return &Gateway{
		router:  deps.Router,
		quota:   deps.Quota,
		streams: deps.Streams,
		breaker: deps.Breakers.GetOrCreate(upstreamBreaker),
		llm:     deps.Upstream,
		logs:    deps.Logs,
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

// QuotaError reports a denied daily-quota check. It carries the full quota
// result so the HTTP layer can emit RateLimit headers.
type QuotaError struct {
	Result quota.Result
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Resets at %s", e.Result.ResetAt.Format(time.RFC3339))
}

func (e *QuotaError) Is(target error) bool { return target == cfx.ErrRateLimited }

// Ticket is an admitted request: the routing decision plus a quota snapshot
// taken after the increment. It must be passed to Complete or Stream.
type Ticket struct {
	Route routing.Result
	Quota quota.Status
}

// Admit runs the pre-upstream pipeline: quota, routing, breaker. On success
// it returns a Ticket; on failure the typed error determines the client
// response (QuotaError -> 429, routing errors -> 400, ErrBreakerOpen -> 503).
// Denied and rejected requests are not logged; only requests that reach the
// upstream produce billing entries.
func (g *Gateway) Admit(ctx context.Context, p *cfx.Principal, req *cfx.ChatRequest, stageHeader string) (*Ticket, error) {
	res := g.quota.CheckAndIncrement(ctx, p.UserID)
	if !res.Allowed {
		if g.metrics != nil {
			g.metrics.QuotaDenials.Inc()
		}
		return nil, &QuotaError{Result: res}
	}

	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	route, err := g.router.Route(stageHeader, req.Model, req.Messages, maxTokens)
	if err != nil {
		return nil, err
	}

	if !g.breaker.CanExecute() {
		return nil, cfx.ErrBreakerOpen
	}

	return &Ticket{
		Route: route,
		Quota: g.quota.Status(ctx, p.UserID),
	}, nil
}

// buildUpstreamRequest shapes the client request for the routed model. The
// stage decides model and token budget; the client's own sampling settings
// win over stage defaults when present, and unrecognized OpenAI fields pass
// through untouched.
func (g *Gateway) buildUpstreamRequest(t *Ticket, req *cfx.ChatRequest) *cfx.ChatRequest {
	out := *req
	out.Model = t.Route.Model
	maxTokens := t.Route.MaxTokens
	out.MaxTokens = &maxTokens
	if req.Temperature == nil {
		temp := t.Route.Temperature
		out.Temperature = &temp
	}
	return &out
}

// Complete performs a non-streaming completion for an admitted request.
// The response is rebuilt rather than proxied byte-for-byte: the model field
// reports the routed model and the created timestamp is stamped fresh.
func (g *Gateway) Complete(ctx context.Context, t *Ticket, p *cfx.Principal, req *cfx.ChatRequest) (*cfx.ChatResponse, error) {
	start := g.now()

	resp, err := g.llm.Complete(ctx, g.buildUpstreamRequest(t, req))
	if err != nil {
		g.breaker.RecordFailure()
		status := 503
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		g.finish(ctx, t, p, start, status, nil, err.Error())
		return nil, err
	}

	g.breaker.RecordSuccess()
	g.finish(ctx, t, p, start, 200, resp.Usage, "")

	return &cfx.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: g.now().UTC().Unix(),
		Model:   t.Route.Model,
		Choices: resp.Choices,
		Usage:   resp.Usage,
	}, nil
}

// Stream opens a streaming completion for an admitted request. It acquires a
// per-user concurrency slot before dialing the upstream and guarantees the
// slot is released when the returned channel closes, whatever path the stream
// takes. An initial connection failure is returned synchronously so the HTTP
// layer can answer with a proper status instead of a broken event stream;
// mid-stream failures surface as a terminal Err chunk.
func (g *Gateway) Stream(ctx context.Context, t *Ticket, p *cfx.Principal, req *cfx.ChatRequest) (<-chan cfx.StreamChunk, error) {
	release, ok := g.streams.Begin(p.UserID, true)
	if !ok {
		return nil, cfx.ErrTooManyStreams
	}

	start := g.now()
	if g.metrics != nil {
		g.metrics.ActiveStreams.Inc()
	}

	in, err := g.llm.Stream(ctx, g.buildUpstreamRequest(t, req))
	if err != nil {
		g.breaker.RecordFailure()
		status := 503
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		g.finish(ctx, t, p, start, status, nil, err.Error())
		if g.metrics != nil {
			g.metrics.ActiveStreams.Dec()
		}
		release()
		return nil, err
	}

	out := make(chan cfx.StreamChunk)
	go g.forward(ctx, t, p, req, start, in, out, release)
	return out, nil
}

// forward pumps chunks from the upstream channel to the consumer, then
// settles the request: breaker outcome, slot release, gauge, log entry.
// Stream log entries always record status 200 -- the client saw a 200
// response line before the first chunk, whatever happened afterwards.
func (g *Gateway) forward(ctx context.Context, t *Ticket, p *cfx.Principal, req *cfx.ChatRequest, start time.Time, in <-chan cfx.StreamChunk, out chan<- cfx.StreamChunk, release func()) {
	var usage *cfx.Usage
	failed := false

	defer func() {
		if failed {
			g.breaker.RecordFailure()
		} else {
			g.breaker.RecordSuccess()
		}
		if usage == nil {
			// Upstream never reported usage; estimate the prompt side so
			// billing is not silently zero.
			usage = &cfx.Usage{PromptTokens: tokencount.EstimateMessages(req.Messages)}
			usage.TotalTokens = usage.PromptTokens
		}
		g.finish(ctx, t, p, start, 200, usage, "")
		if g.metrics != nil {
			g.metrics.ActiveStreams.Dec()
		}
		release()
		close(out)
	}()

	for chunk := range in {
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Err != nil {
			failed = true
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
		if chunk.Err != nil {
			return
		}
	}
}

// finish records the log entry and per-request metrics. Logging is best
// effort: a full queue drops the entry with a warning inside the pipeline.
func (g *Gateway) finish(ctx context.Context, t *Ticket, p *cfx.Principal, start time.Time, status int, usage *cfx.Usage, errMsg string) {
	var prompt, completion, total int
	if usage != nil {
		prompt, completion, total = usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens
	}

	if g.logs != nil {
		g.logs.Enqueue(cfx.LogEntry{
			RequestID:        cfx.RequestIDFromContext(ctx),
			UserID:           p.UserID,
			APIKeyID:         p.APIKeyID,
			Stage:            string(t.Route.Stage),
			Model:            t.Route.Model,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      total,
			Cost:             logpipe.Cost(t.Route.Model, prompt, completion),
			LatencyMs:        g.now().Sub(start).Milliseconds(),
			StatusCode:       status,
			ErrorMessage:     errMsg,
			CreatedAt:        g.now().UTC(),
		})
	}

	if g.metrics != nil {
		g.metrics.RequestsTotal.With(prometheus.Labels{
			"stage":  string(t.Route.Stage),
			"model":  t.Route.Model,
			"status": strconv.Itoa(status),
		}).Inc()
		g.metrics.RequestDuration.With(prometheus.Labels{
			"stage": string(t.Route.Stage),
		}).Observe(g.now().Sub(start).Seconds())
	}
}
