package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// CreateKey inserts a new API key and fills in the assigned ID.
func (s *Store) CreateKey(ctx context.Context, key *cfx.APIKey) error {
	if key.Status == "" {
		key.Status = cfx.KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, key_hash, key_prefix, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Status,
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	key.ID = id
	return nil
}

// GetKeyByHash retrieves an API key by its salted SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*cfx.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		 FROM api_keys WHERE key_hash = ?`, hash,
	)
	return scanKey(row)
}

// GetKey retrieves an API key by its ID.
func (s *Store) GetKey(ctx context.Context, id int64) (*cfx.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		 FROM api_keys WHERE id = ?`, id,
	)
	return scanKey(row)
}

// ListKeys returns a user's API keys, newest first.
func (s *Store) ListKeys(ctx context.Context, userID string) ([]*cfx.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, status, created_at, last_used_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*cfx.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKeyStatus flips a key between "active" and "revoked".
func (s *Store) UpdateKeyStatus(ctx context.Context, id int64, status string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id int64) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*cfx.APIKey, error) {
	var k cfx.APIKey
	var createdAt string
	var lastUsedAt sql.NullString

	err := s.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Status, &createdAt, &lastUsedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		k.CreatedAt = t
	}
	k.LastUsedAt = parseTime(lastUsedAt)
	return &k, nil
}

// notFoundErr translates sql.ErrNoRows to cfx.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return cfx.ErrNotFound
	}
	return err
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, cfx.ErrNotFound)
	}
	return nil
}
