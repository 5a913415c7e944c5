package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// CreateKey inserts an API key record and sets the generated ID.
func (s *Store) CreateKey(ctx context.Context, key *cfx.APIKey) error {
	if key.Status == "" {
		key.Status = cfx.KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, key_hash, key_prefix, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Status, key.CreatedAt,
	).Scan(&key.ID)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetKeyByHash returns the key whose hash matches, or cfx.ErrNotFound.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*cfx.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		FROM api_keys WHERE key_hash = $1`, hash)
	return scanKey(row)
}

// GetKey returns the key with the given ID, or cfx.ErrNotFound.
func (s *Store) GetKey(ctx context.Context, id int64) (*cfx.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

// ListKeys returns all keys for a user, newest first.
func (s *Store) ListKeys(ctx context.Context, userID string) ([]*cfx.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*cfx.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateKeyStatus sets the status of a key. Returns cfx.ErrNotFound if the
// key does not exist.
func (s *Store) UpdateKeyStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update key status: %w", err)
	}
	return checkRowsAffected(res)
}

// TouchKeyUsed stamps the key's last_used_at with the current time.
func (s *Store) TouchKeyUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch key: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*cfx.APIKey, error) {
	var (
		key      cfx.APIKey
		lastUsed sql.NullTime
	)
	err := row.Scan(&key.ID, &key.UserID, &key.KeyHash, &key.KeyPrefix,
		&key.Status, &key.CreatedAt, &lastUsed)
	if err != nil {
		return nil, notFoundErr(err, "scan api key")
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	return &key, nil
}

func notFoundErr(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return cfx.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return cfx.ErrNotFound
	}
	return nil
}
