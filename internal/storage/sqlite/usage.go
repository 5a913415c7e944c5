package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// dayKey formats a counter day as its canonical YYYY-MM-DD form.
func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

// IncrementDailyUsage atomically bumps the (user, day) counter and returns
// the new count. The upsert keeps concurrent gateways agreeing on one value.
func (s *Store) IncrementDailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	var count int64
	err := s.write.QueryRowContext(ctx,
		`INSERT INTO usage_counters (user_id, day, request_count, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (user_id, day)
		 DO UPDATE SET
		     request_count = usage_counters.request_count + 1,
		     updated_at = excluded.updated_at
		 RETURNING request_count`,
		userID, dayKey(day), time.Now().UTC().Format(time.RFC3339),
	).Scan(&count)
	return count, err
}

// DailyUsage returns the counter for (user, day); missing rows read as zero.
func (s *Store) DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	var count int64
	err := s.read.QueryRowContext(ctx,
		`SELECT request_count FROM usage_counters WHERE user_id = ? AND day = ?`,
		userID, dayKey(day),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// ResetDailyUsage zeroes the counter for (user, day). Missing rows are a no-op.
func (s *Store) ResetDailyUsage(ctx context.Context, userID string, day time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE usage_counters SET request_count = 0, updated_at = ? WHERE user_id = ? AND day = ?`,
		time.Now().UTC().Format(time.RFC3339), userID, dayKey(day),
	)
	return err
}
