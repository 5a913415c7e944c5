package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// Response header names in canonical MIME form so direct map access
// (w.Header()[key] = ...) skips textproto.CanonicalMIMEHeaderKey, saving
// an alloc per write that Header.Set would spend on canonicalization.
// HTTP header names are case-insensitive; clients match regardless.
const (
	headerRequestID  = "X-Cfx-Request-Id"
	headerStage      = "X-Cfx-Stage"
	headerModelUsed  = "X-Cfx-Model-Used"
	headerRateLimit  = "X-Ratelimit-Limit"
	headerRateRemain = "X-Ratelimit-Remaining"
	headerRateReset  = "X-Ratelimit-Reset"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500 without leaking stack details.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				// LogAttrs with typed attrs keeps values on the stack (~2 fewer
				// allocs vs slog.Error which boxes every key+value into any).
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errServer("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID mints a fresh "cfx-<32 hex>" ID for every request and attaches
// it to the context and response. Client-supplied IDs are not trusted; the
// gateway's own IDs are what the request log keys on.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.ids.Next()
		w.Header()[headerRequestID] = []string{id}
		ctx := cfx.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		// LogAttrs with typed slog.String/Int/Int64 keeps attrs as stack values,
		// saving ~5 allocs/req vs slog.Info which boxes every key+value into any.
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", cfx.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// authenticate validates the bearer credential and injects the Principal
// into context. When requestMeta already exists (set by requestID), the
// principal is stored by mutation -- no new context or request copy needed.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.deps.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errUnauthorized(authMessage(err)))
			return
		}
		ctx := cfx.ContextWithPrincipal(r.Context(), p)
		if ctx == r.Context() {
			// Principal was stored via pointer mutation; skip Request.WithContext.
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// authMessage maps authentication failures to client-facing text. Store
// failures deliberately read as an auth problem, not an internals dump.
func authMessage(err error) string {
	switch {
	case errors.Is(err, cfx.ErrKeyRevoked):
		return "API key is revoked"
	case errors.Is(err, cfx.ErrUnauthorized):
		return "Invalid API key"
	default:
		return "Authentication service error"
	}
}

// adminAuth guards operator routes with a constant-time token comparison.
func (s *server) adminAuth(next http.Handler) http.Handler {
	token := []byte(s.deps.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), token) != 1 {
			writeJSON(w, http.StatusUnauthorized, errUnauthorized("Invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value,
// matching net/http semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it implements http.Flusher.
// This ensures SSE streaming works through middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
