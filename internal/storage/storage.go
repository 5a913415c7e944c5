// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *cfx.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*cfx.APIKey, error)
	GetKey(ctx context.Context, id int64) (*cfx.APIKey, error)
	ListKeys(ctx context.Context, userID string) ([]*cfx.APIKey, error)
	// UpdateKeyStatus flips a key between "active" and "revoked".
	UpdateKeyStatus(ctx context.Context, id int64, status string) error
	TouchKeyUsed(ctx context.Context, id int64) error
}

// UsageStore manages per-user daily request counters. day is midnight UTC.
type UsageStore interface {
	// IncrementDailyUsage atomically adds one to the (userID, day) counter
	// and returns the new count.
	IncrementDailyUsage(ctx context.Context, userID string, day time.Time) (int64, error)
	DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error)
	ResetDailyUsage(ctx context.Context, userID string, day time.Time) error
}

// RequestLogStore persists request log batches.
type RequestLogStore interface {
	InsertLogs(ctx context.Context, entries []cfx.LogEntry) error
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	UsageStore
	RequestLogStore
	Ping(ctx context.Context) error
	Close() error
}
