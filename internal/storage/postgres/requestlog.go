package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	cfx "github.com/cfx-labs/cfx/internal"
)

// InsertLogs writes a batch of request log entries in a single statement.
func (s *Store) InsertLogs(ctx context.Context, entries []cfx.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 13
	placeholders := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*cols)
	for i, e := range entries {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			e.RequestID, e.UserID, e.APIKeyID, e.Stage, e.Model,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			e.Cost, e.LatencyMs, e.StatusCode, nullStr(e.ErrorMessage),
			e.CreatedAt.UTC(),
		)
	}

	query := `
		INSERT INTO request_logs (
			request_id, user_id, api_key_id, stage, model,
			prompt_tokens, completion_tokens, total_tokens,
			cost, latency_ms, status_code, error_message, created_at
		) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert request logs: %w", err)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
