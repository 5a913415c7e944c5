package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	cfx "github.com/cfx-labs/cfx/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest("invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking storage internals.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, cfx.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errInvalidRequest("not found"))
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, errServer("internal error"))
}

// --- Keys ---

type keyCreateRequest struct {
	UserID string `json:"user_id"`
}

// keyCreateResponse includes the plaintext key (shown only once).
type keyCreateResponse struct {
	*cfx.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest("user_id is required"))
		return
	}

	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), req.UserID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	w.Header().Set("Location", "/admin/v1/keys/"+strconv.FormatInt(key.ID, 10))
	writeJSON(w, http.StatusCreated, keyCreateResponse{
		APIKey:       key,
		PlaintextKey: plaintext,
	})
}

type keyListResponse struct {
	Data []*cfx.APIKey `json:"data"`
}

// handleListKeys lists a user's keys, newest first. Hashes never leave
// the store; APIKey marshals without them.
func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest("user_id is required"))
		return
	}
	keys, err := s.deps.Keys.ListKeys(r.Context(), userID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*cfx.APIKey{}
	}
	writeJSON(w, http.StatusOK, keyListResponse{Data: keys})
}

func (s *server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errInvalidRequest("invalid key id"))
		return
	}
	if err := s.deps.Keys.RevokeKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Usage ---

func (s *server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := s.deps.Quota.Reset(r.Context(), userID); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Breakers ---

func (s *server) handleListBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Breakers.AllStats())
}

func (s *server) handleResetBreakers(w http.ResponseWriter, _ *http.Request) {
	s.deps.Breakers.ResetAll()
	w.WriteHeader(http.StatusNoContent)
}

// --- Streams ---

func (s *server) handleStreamStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Streams.Stats())
}
