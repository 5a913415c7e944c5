package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementDailyUsage atomically bumps the request counter for a user/day
// and returns the new count. The upsert keeps the increment race-free
// across gateway instances sharing the database.
func (s *Store) IncrementDailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (user_id, day, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day)
		DO UPDATE SET request_count = usage_counters.request_count + 1, updated_at = NOW()
		RETURNING request_count`,
		userID, dayDate(day),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

// DailyUsage returns the current request count for a user/day, zero when
// no counter row exists yet.
func (s *Store) DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT request_count FROM usage_counters WHERE user_id = $1 AND day = $2`,
		userID, dayDate(day),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query usage: %w", err)
	}
	return count, nil
}

// ResetDailyUsage zeroes the counter for a user/day. Missing counters are
// a no-op.
func (s *Store) ResetDailyUsage(ctx context.Context, userID string, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters SET request_count = 0, updated_at = NOW()
		WHERE user_id = $1 AND day = $2`,
		userID, dayDate(day))
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// dayDate truncates a timestamp to its UTC calendar date for the DATE column.
func dayDate(day time.Time) time.Time {
	d := day.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
