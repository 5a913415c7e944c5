package server

import (
	"net/http"
	"time"

	"github.com/cfx-labs/cfx/internal/routing"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleListModels returns an OpenAI-compatible model list: the stage
// models plus the direct-mode allowlist, deduplicated in a stable order
// so stock OpenAI SDKs can discover what the gateway serves.
func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	var names []string
	seen := make(map[string]bool)
	add := func(model string) {
		if model != "" && !seen[model] {
			seen[model] = true
			names = append(names, model)
		}
	}
	for _, stage := range []routing.Stage{routing.StagePlan, routing.StageCode, routing.StageReview} {
		add(s.deps.Routes.Stages[stage].Model)
	}
	for _, model := range s.deps.Routes.Direct.AllowedModels {
		add(model)
	}

	now := time.Now().Unix()
	data := make([]modelEntry, len(names))
	for i, m := range names {
		data[i] = modelEntry{
			ID:      m,
			Object:  "model",
			Created: now,
			OwnedBy: "system",
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}
