// Package streamlimit caps concurrent streaming requests per user.
// Non-streaming requests are exempt; they never touch the slot table.
package streamlimit

import (
	"log/slog"
	"sync"
)

// Stats is a snapshot of the limiter's slot table.
type Stats struct {
	TotalActiveStreams     int            `json:"total_active_streams"`
	UsersWithActiveStreams int            `json:"users_with_active_streams"`
	MaxConcurrentPerUser   int            `json:"max_concurrent_per_user"`
	ActiveByUser           map[string]int `json:"active_by_user"`
}

// Limiter tracks active streams per user under a single mutex.
type Limiter struct {
	mu     sync.Mutex
	max    int
	active map[string]int
}

// NewLimiter creates a Limiter allowing maxPerUser concurrent streams
// per user.
func NewLimiter(maxPerUser int) *Limiter {
	return &Limiter{
		max:    maxPerUser,
		active: make(map[string]int),
	}
}

// Acquire reserves a streaming slot for userID. It returns false when the
// user is already at the limit. Non-streaming requests always succeed
// without touching state.
func (l *Limiter) Acquire(userID string, streaming bool) bool {
	if !streaming {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.active[userID]
	if current >= l.max {
		slog.Warn("concurrent stream limit exceeded",
			"user_id", userID,
			"active", current,
			"max", l.max,
		)
		return false
	}
	l.active[userID] = current + 1
	return true
}

// Release returns a previously acquired slot. The user's entry is evicted
// once its count reaches zero. Releasing a slot that was never acquired
// logs a warning instead of failing.
func (l *Limiter) Release(userID string, streaming bool) {
	if !streaming {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.active[userID]
	if current == 0 {
		slog.Warn("release of stream slot that was never acquired", "user_id", userID)
		return
	}
	if current == 1 {
		delete(l.active, userID)
		return
	}
	l.active[userID] = current - 1
}

// Begin is the scoped form of Acquire. The returned release function is
// idempotent so that deferred and explicit calls cannot double-release.
// When ok is false no slot was taken and release is a no-op.
func (l *Limiter) Begin(userID string, streaming bool) (release func(), ok bool) {
	if !l.Acquire(userID, streaming) {
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.Release(userID, streaming) })
	}, true
}

// Active returns the number of active streams for a user.
func (l *Limiter) Active(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[userID]
}

// Remaining returns the user's unused slots.
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(0, l.max-l.active[userID])
}

// Stats snapshots the slot table.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	byUser := make(map[string]int, len(l.active))
	for user, n := range l.active {
		total += n
		byUser[user] = n
	}
	return Stats{
		TotalActiveStreams:     total,
		UsersWithActiveStreams: len(l.active),
		MaxConcurrentPerUser:   l.max,
		ActiveByUser:           byUser,
	}
}

// Reset clears all tracked slots.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.active)
}
