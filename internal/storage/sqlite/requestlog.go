package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// InsertLogs batch-inserts request log entries.
func (s *Store) InsertLogs(ctx context.Context, entries []cfx.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 13
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.RequestID, e.UserID, e.APIKeyID, e.Stage, e.Model,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			// Decimals are stored as text so no precision is lost in
			// SQLite's numeric affinity.
			e.Cost.String(), e.LatencyMs, e.StatusCode,
			nullStr(e.ErrorMessage), e.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO request_logs
		(request_id, user_id, api_key_id, stage, model,
		 prompt_tokens, completion_tokens, total_tokens,
		 cost, latency_ms, status_code, error_message, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
