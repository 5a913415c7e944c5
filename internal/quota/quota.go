// Package quota enforces per-user daily request limits. Counters roll
// over at UTC midnight; the durable backend is consulted through an
// atomic upsert so concurrent gateways share one counter.
package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Counter is a daily request counter keyed by (user, UTC day).
// IncrementDailyUsage must be atomic per key and return the new count.
type Counter interface {
	IncrementDailyUsage(ctx context.Context, userID string, day time.Time) (int64, error)
	DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error)
	ResetDailyUsage(ctx context.Context, userID string, day time.Time) error
}

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Status is a read-only view of a user's quota consumption.
type Status struct {
	Current   int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies a daily request limit on top of a Counter.
type Limiter struct {
	limit   int64
	counter Counter
	now     func() time.Time
}

// NewLimiter creates a Limiter. The counter decides durability: pass a
// store-backed Counter for shared state or NewMemoryCounter for
// single-process development setups.
func NewLimiter(limit int64, counter Counter) *Limiter {
	return &Limiter{limit: limit, counter: counter, now: time.Now}
}

// CheckAndIncrement counts the request and decides admission. The counter
// always increments, even for denied requests; daily resets bound the
// distortion. If the backend errors the request is allowed (fail-open)
// and the error is logged.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID string) Result {
	now := l.now()
	day := utcDay(now)
	reset := NextResetUTC(now)

	count, err := l.counter.IncrementDailyUsage(ctx, userID, day)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota increment failed, allowing request",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: reset}
	}

	return Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(0, l.limit-count),
		ResetAt:   reset,
	}
}

// Status reports consumption without incrementing. Backend errors read
// as zero usage.
func (l *Limiter) Status(ctx context.Context, userID string) Status {
	now := l.now()
	day := utcDay(now)
	reset := NextResetUTC(now)

	count, err := l.counter.DailyUsage(ctx, userID, day)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota status read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		count = 0
	}

	return Status{
		Current:   count,
		Limit:     l.limit,
		Remaining: max(0, l.limit-count),
		ResetAt:   reset,
	}
}

// Reset zeroes today's counter for a user.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	return l.counter.ResetDailyUsage(ctx, userID, utcDay(l.now()))
}

// Limit returns the configured daily limit.
func (l *Limiter) Limit() int64 { return l.limit }

// utcDay truncates t to midnight UTC.
func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextResetUTC returns the next UTC midnight after t.
func NextResetUTC(t time.Time) time.Time {
	return utcDay(t).AddDate(0, 0, 1)
}

// MemoryCounter is a process-local Counter for deployments without a
// database. A day change observed by any call clears the whole map.
type MemoryCounter struct {
	mu        sync.Mutex
	counts    map[string]int64
	lastReset time.Time
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

// IncrementDailyUsage adds one to the user's counter for day.
func (m *MemoryCounter) IncrementDailyUsage(_ context.Context, userID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(day)
	m.counts[userID]++
	return m.counts[userID], nil
}

// DailyUsage returns the user's counter for day without incrementing.
func (m *MemoryCounter) DailyUsage(_ context.Context, userID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(day)
	return m.counts[userID], nil
}

// ResetDailyUsage zeroes the user's counter. Unknown users are a no-op.
func (m *MemoryCounter) ResetDailyUsage(_ context.Context, userID string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(day)
	if _, ok := m.counts[userID]; ok {
		m.counts[userID] = 0
	}
	return nil
}

// rollover clears all counters when day differs from the last reset day.
// Callers must hold m.mu.
func (m *MemoryCounter) rollover(day time.Time) {
	if !m.lastReset.Equal(day) {
		clear(m.counts)
		m.lastReset = day
	}
}
