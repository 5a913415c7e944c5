package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/app"
	"github.com/cfx-labs/cfx/internal/upstream"
)

// sseKeepAliveEvery is how often an SSE comment is written while the
// upstream is quiet, keeping intermediaries from idling out the socket.
const sseKeepAliveEvery = 15 * time.Second

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req cfx.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest("invalid request body: "+err.Error()))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest(err.Error()))
		return
	}

	p := cfx.PrincipalFromContext(r.Context())

	ticket, err := s.deps.Gateway.Admit(r.Context(), p, &req, r.Header.Get("X-CFX-Stage"))
	if err != nil {
		s.writeAdmitError(w, err)
		return
	}

	// From here on every outcome carries the routing and quota headers.
	setRouteHeaders(w, ticket)

	if req.Stream {
		s.streamCompletion(w, r, ticket, p, &req)
		return
	}

	resp, err := s.deps.Gateway.Complete(r.Context(), ticket, p, &req)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamCompletion writes the SSE response for an admitted streaming
// request. The 200 status line commits once the upstream dial succeeds;
// failures before that still surface as proper HTTP errors.
func (s *server) streamCompletion(w http.ResponseWriter, r *http.Request, t *app.Ticket, p *cfx.Principal, req *cfx.ChatRequest) {
	ch, err := s.deps.Gateway.Stream(r.Context(), t, p, req)
	if err != nil {
		if errors.Is(err, cfx.ErrTooManyStreams) {
			writeJSON(w, http.StatusTooManyRequests, errRateLimited("Too many concurrent streaming requests"))
			return
		}
		writeUpstreamError(w, err)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAliveEvery)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, open := <-ch:
			if !open {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				// The 200 already went out; an OpenAI-shaped error event is
				// all that can still reach the client.
				writeSSEError(w, errServiceUnavailable(chunk.Err.Error()))
				flusher.Flush()
				return
			}
			writeSSEData(w, chunk.Data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// setRouteHeaders attaches the stage, model, and a fresh quota snapshot.
func setRouteHeaders(w http.ResponseWriter, t *app.Ticket) {
	h := w.Header()
	h[headerStage] = []string{string(t.Route.Stage)}
	h[headerModelUsed] = []string{t.Route.Model}
	h[headerRateLimit] = []string{strconv.FormatInt(t.Quota.Limit, 10)}
	h[headerRateRemain] = []string{strconv.FormatInt(t.Quota.Remaining, 10)}
	h[headerRateReset] = []string{t.Quota.ResetAt.Format(time.RFC3339)}
}

// writeAdmitError renders pre-upstream rejections: quota, routing, breaker.
func (s *server) writeAdmitError(w http.ResponseWriter, err error) {
	var qe *app.QuotaError
	switch {
	case errors.As(err, &qe):
		h := w.Header()
		h[headerRateLimit] = []string{strconv.FormatInt(qe.Result.Limit, 10)}
		h[headerRateRemain] = []string{"0"}
		h[headerRateReset] = []string{qe.Result.ResetAt.Format(time.RFC3339)}
		writeJSON(w, http.StatusTooManyRequests, errRateLimited(qe.Error()))
	case errors.Is(err, cfx.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errInvalidRequest(err.Error()))
	case errors.Is(err, cfx.ErrBreakerOpen):
		writeJSON(w, http.StatusServiceUnavailable,
			errServiceUnavailable("Service temporarily unavailable due to upstream issues"))
	default:
		writeJSON(w, http.StatusInternalServerError, errServer("Internal server error"))
	}
}

// writeUpstreamError renders upstream call failures. HTTP-level errors
// mirror the upstream status and body; connection-level errors are a 503.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *upstream.APIError
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.HTTPStatus(), errUpstream(apiErr.Body))
	case errors.Is(err, cfx.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errServiceUnavailable(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errServer("Internal server error"))
	}
}
