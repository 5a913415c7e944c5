// Package server implements the HTTP transport layer for the CFX gateway:
// route wiring, request decoding, SSE streaming, and the mapping from
// domain errors to OpenAI-shaped responses.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/app"
	"github.com/cfx-labs/cfx/internal/circuitbreaker"
	"github.com/cfx-labs/cfx/internal/logpipe"
	"github.com/cfx-labs/cfx/internal/quota"
	"github.com/cfx-labs/cfx/internal/routing"
	"github.com/cfx-labs/cfx/internal/storage"
	"github.com/cfx-labs/cfx/internal/streamlimit"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth     cfx.Authenticator
	Gateway  *app.Gateway
	Routes   routing.Config // for /v1/models
	Keys     *app.KeyManager
	Quota    *quota.Limiter
	Streams  *streamlimit.Limiter
	Breakers *circuitbreaker.Registry
	Upstream cfx.Upstream  // health probe
	Store    storage.Store // nil in dev mode; health ping only
	Metrics  http.Handler  // nil = no /metrics route
	Version  string

	// AdminToken guards the /admin subtree. Empty leaves admin unmounted.
	AdminToken string
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, ids: logpipe.NewIDGenerator()}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)

	// System endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Get("/v1/limits", s.handleLimits)
		r.Get("/v1/models", s.handleListModels)
	})

	// Operator API, mounted only when a token is configured.
	if deps.AdminToken != "" {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Post("/keys", s.handleCreateKey)
			r.Get("/keys", s.handleListKeys)
			r.Delete("/keys/{id}", s.handleRevokeKey)
			r.Post("/usage/{user_id}/reset", s.handleResetUsage)
			r.Get("/breakers", s.handleListBreakers)
			r.Post("/breakers/reset", s.handleResetBreakers)
			r.Get("/streams", s.handleStreamStats)
		})
	}

	return r
}

type server struct {
	deps Deps
	ids  *logpipe.IDGenerator
}
