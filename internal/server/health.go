package server

import (
	"net/http"
	"time"
)

// Pre-allocated response body and header value slice (see errors.go:jsonCT).
var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)

type healthStatus struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Checks    map[string]bool `json:"checks"`
}

// handleHealth reports dependency health. "healthy" needs every check
// green; "degraded" means the critical pieces (config, upstream client)
// are present but an optional dependency (database, upstream probe) is
// failing; anything worse is "unhealthy". Always 200 -- the body carries
// the verdict, probes act on it.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"config":         true, // a built server implies loaded config
		"stage_router":   s.deps.Gateway != nil,
		"litellm_client": s.deps.Upstream != nil,
	}
	if s.deps.Store != nil {
		checks["database"] = s.deps.Store.Ping(r.Context()) == nil
	}
	if s.deps.Upstream != nil {
		checks["litellm"] = s.deps.Upstream.Healthy(r.Context())
	}

	allHealthy := true
	for _, ok := range checks {
		if !ok {
			allHealthy = false
			break
		}
	}

	status := "unhealthy"
	switch {
	case allHealthy:
		status = "healthy"
	case checks["config"] && checks["litellm_client"]:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthStatus{
		Status:    status,
		Version:   s.deps.Version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
