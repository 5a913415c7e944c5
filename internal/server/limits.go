package server

import (
	"net/http"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

type limitsResponse struct {
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// handleLimits reports the caller's quota consumption without counting
// the call against the limit.
func (s *server) handleLimits(w http.ResponseWriter, r *http.Request) {
	p := cfx.PrincipalFromContext(r.Context())
	st := s.deps.Quota.Status(r.Context(), p.UserID)
	writeJSON(w, http.StatusOK, limitsResponse{
		Limit:     st.Limit,
		Used:      st.Current,
		Remaining: st.Remaining,
		ResetAt:   st.ResetAt,
	})
}
