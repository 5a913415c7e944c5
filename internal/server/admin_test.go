package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cfx-labs/cfx/internal/circuitbreaker"
	"github.com/cfx-labs/cfx/internal/streamlimit"
)

const adminToken = "secret-admin"

func (ts *testServer) admin(method, path, body string) *httptest.ResponseRecorder {
	return ts.adminAs(method, path, body, adminToken)
}

func (ts *testServer) adminAs(method, path, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func TestAdminUnmountedWithoutToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{}) // no admin token configured

	rec := ts.admin(http.MethodGet, "/admin/v1/breakers", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when admin surface is off", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	rec := ts.adminAs(http.MethodGet, "/admin/v1/breakers", "", "wrong-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "Invalid admin token" {
		t.Errorf("message = %q", e.Message)
	}

	rec = ts.adminAs(http.MethodGet, "/admin/v1/breakers", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without credentials = %d, want 401", rec.Code)
	}
}

func TestAdminCreateKey(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	rec := ts.admin(http.MethodPost, "/admin/v1/keys", `{"user_id":"alice"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/admin/v1/keys/1" {
		t.Errorf("Location = %q, want /admin/v1/keys/1", loc)
	}

	var got struct {
		ID        int64  `json:"id"`
		UserID    string `json:"user_id"`
		Status    string `json:"status"`
		Plaintext string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 1 || got.UserID != "alice" || got.Status != "active" {
		t.Errorf("key = %+v", got)
	}
	if !strings.HasPrefix(got.Plaintext, "cfx_") {
		t.Errorf("key = %q, want cfx_ prefix", got.Plaintext)
	}
	// The stored hash must never appear in the response.
	if strings.Contains(rec.Body.String(), "key_hash") {
		t.Errorf("response leaks key_hash: %s", rec.Body.String())
	}

	stored, err := ts.store.GetKey(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("key not persisted: %v", err)
	}
	if stored.KeyHash == "" || stored.KeyHash == got.Plaintext {
		t.Error("stored hash missing or equal to plaintext")
	}
}

func TestAdminCreateKeyValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	rec := ts.admin(http.MethodPost, "/admin/v1/keys", `{"user_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "user_id is required" {
		t.Errorf("message = %q", e.Message)
	}

	rec = ts.admin(http.MethodPost, "/admin/v1/keys", `{"user_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestAdminListKeys(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	for _, body := range []string{`{"user_id":"alice"}`, `{"user_id":"alice"}`, `{"user_id":"bob"}`} {
		if rec := ts.admin(http.MethodPost, "/admin/v1/keys", body); rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	rec := ts.admin(http.MethodGet, "/admin/v1/keys?user_id=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
	var got keyListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Data) != 2 {
		t.Fatalf("got %d keys, want 2: %+v", len(got.Data), got.Data)
	}
	for _, k := range got.Data {
		if k.UserID != "alice" {
			t.Errorf("key %d belongs to %q, want alice", k.ID, k.UserID)
		}
	}
	if strings.Contains(rec.Body.String(), "key_hash") {
		t.Errorf("response leaks key_hash: %s", rec.Body.String())
	}

	if rec := ts.admin(http.MethodGet, "/admin/v1/keys", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", rec.Code)
	}
}

func TestAdminRevokeKey(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	if rec := ts.admin(http.MethodPost, "/admin/v1/keys", `{"user_id":"bob"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := ts.admin(http.MethodDelete, "/admin/v1/keys/1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body = %s", rec.Code, rec.Body.String())
	}
	stored, err := ts.store.GetKey(context.Background(), 1)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if stored.Status != "revoked" {
		t.Errorf("status = %q, want revoked", stored.Status)
	}

	if rec := ts.admin(http.MethodDelete, "/admin/v1/keys/999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
	if rec := ts.admin(http.MethodDelete, "/admin/v1/keys/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestAdminResetUsage(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken, quotaLimit: 10})

	for range 2 {
		if rec := ts.postChat(chatJSON, "plan"); rec.Code != http.StatusOK {
			t.Fatalf("completion status = %d", rec.Code)
		}
	}

	rec := ts.admin(http.MethodPost, "/admin/v1/usage/test-user/reset", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	var got limitsResponse
	if err := json.Unmarshal(ts.get("/v1/limits").Body.Bytes(), &got); err != nil {
		t.Fatalf("decode limits: %v", err)
	}
	if got.Used != 0 {
		t.Errorf("used after reset = %d, want 0", got.Used)
	}
}

func TestAdminBreakers(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken, threshold: 3})

	b := ts.breakers.GetOrCreate("litellm")
	b.RecordFailure()

	rec := ts.admin(http.MethodGet, "/admin/v1/breakers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats map[string]circuitbreaker.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := stats["litellm"]
	if !ok {
		t.Fatalf("no litellm entry: %v", stats)
	}
	if got.State != "closed" || got.FailureCount != 1 {
		t.Errorf("stats = %+v, want closed with 1 failure", got)
	}
	if got.Config.FailureThreshold != 3 {
		t.Errorf("failure_threshold = %d, want 3", got.Config.FailureThreshold)
	}

	b.RecordFailure()
	b.RecordFailure()
	if rec := ts.admin(http.MethodPost, "/admin/v1/breakers/reset", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", rec.Code)
	}
	if state := b.State(); state != circuitbreaker.StateClosed {
		t.Errorf("state after reset = %v, want closed", state)
	}
}

func TestAdminStreamStats(t *testing.T) {
	t.Parallel()
	ts := newTestServer(testOpts{adminToken: adminToken})

	release, ok := ts.streams.Begin("bob", true)
	if !ok {
		t.Fatal("could not acquire slot")
	}
	defer release()

	rec := ts.admin(http.MethodGet, "/admin/v1/streams", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats streamlimit.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalActiveStreams != 1 || stats.ActiveByUser["bob"] != 1 {
		t.Errorf("stats = %+v, want one active stream for bob", stats)
	}
	if stats.MaxConcurrentPerUser != 5 {
		t.Errorf("max_concurrent_per_user = %d, want 5", stats.MaxConcurrentPerUser)
	}
}
