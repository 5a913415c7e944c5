package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu     sync.RWMutex
	keys   map[int64]*cfx.APIKey
	nextID int64
	usage  map[string]int64
	logs   []cfx.LogEntry

	// PingErr, when set, makes Ping fail (for health-check tests).
	PingErr error
	// InsertLogsErr, when set, makes InsertLogs fail (for retry tests).
	InsertLogsErr error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:  make(map[int64]*cfx.APIKey),
		usage: make(map[string]int64),
	}
}

// --- APIKeyStore ---

// CreateKey stores a key and assigns it the next ID.
func (s *FakeStore) CreateKey(_ context.Context, key *cfx.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	key.ID = s.nextID
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// GetKeyByHash looks up a key by its stored hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*cfx.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, cfx.ErrNotFound
}

// GetKey looks up a key by ID.
func (s *FakeStore) GetKey(_ context.Context, id int64) (*cfx.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, cfx.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// ListKeys returns all keys for userID, newest first.
func (s *FakeStore) ListKeys(_ context.Context, userID string) ([]*cfx.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cfx.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateKeyStatus flips a key's status.
func (s *FakeStore) UpdateKeyStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return cfx.ErrNotFound
	}
	k.Status = status
	return nil
}

// TouchKeyUsed stamps last_used_at.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return cfx.ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

// --- UsageStore ---

func usageKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format(time.DateOnly)
}

// IncrementDailyUsage adds one to the (userID, day) counter.
func (s *FakeStore) IncrementDailyUsage(_ context.Context, userID string, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey(userID, day)
	s.usage[k]++
	return s.usage[k], nil
}

// DailyUsage reads the (userID, day) counter.
func (s *FakeStore) DailyUsage(_ context.Context, userID string, day time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[usageKey(userID, day)], nil
}

// ResetDailyUsage zeroes the (userID, day) counter.
func (s *FakeStore) ResetDailyUsage(_ context.Context, userID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usage, usageKey(userID, day))
	return nil
}

// --- RequestLogStore ---

// InsertLogs appends a batch to the in-memory log.
func (s *FakeStore) InsertLogs(_ context.Context, entries []cfx.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertLogsErr != nil {
		return s.InsertLogsErr
	}
	s.logs = append(s.logs, entries...)
	return nil
}

// Logs returns a copy of all inserted log entries.
func (s *FakeStore) Logs() []cfx.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cfx.LogEntry(nil), s.logs...)
}

// --- Lifecycle ---

// Ping reports PingErr.
func (s *FakeStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PingErr
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
