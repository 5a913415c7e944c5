// Package auth implements API key authentication for the CFX gateway.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	defaultCacheTTL = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen     = 10_000           // max concurrent active keys expected per deployment
)

// DevUserID is the principal user every request maps to when the gateway
// runs without a database.
const DevUserID = "dev-user"

// APIKeyAuth authenticates requests using bearer API keys.
// It caches resolved keys in an otter W-TinyLFU cache for fast lookups.
// With a nil store it runs in development mode: any well-formed key
// authenticates as DevUserID.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	salt        string
	cache       *otter.Cache[string, *cfx.APIKey]
	keyIDToHash sync.Map // key ID -> hash for cache invalidation by key ID
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store. Hashes are
// salted with salt; cacheTTL bounds how stale a cached key may be
// (defaultCacheTTL when zero).
func NewAPIKeyAuth(store storage.APIKeyStore, salt string, cacheTTL time.Duration) (*APIKeyAuth, error) {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	c, err := otter.New(&otter.Options[string, *cfx.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *cfx.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, salt: salt, cache: c}, nil
}

// Authenticate validates the Authorization header value and returns the
// caller's principal. Malformed headers and unknown keys return
// ErrUnauthorized; revoked keys return ErrKeyRevoked.
func (a *APIKeyAuth) Authenticate(ctx context.Context, authorization string) (*cfx.Principal, error) {
	token := bearerToken(authorization)
	if token == "" || !cfx.ValidTokenFormat(token) {
		return nil, cfx.ErrUnauthorized
	}

	// Development mode: no key store configured.
	if a.store == nil {
		return &cfx.Principal{UserID: DevUserID, KeyPrefix: cfx.TokenDisplayPrefix(token)}, nil
	}

	hash := cfx.HashToken(a.salt, token)

	// Check cache first.
	if key, ok := a.cache.GetIfPresent(hash); ok {
		if key.Status != cfx.KeyStatusActive {
			return nil, cfx.ErrKeyRevoked
		}
		return principal(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, cfx.ErrNotFound) {
			return nil, cfx.ErrUnauthorized
		}
		return nil, err
	}

	// Belt-and-suspenders: constant-time verification of the presented
	// token against the stored hash. The DB lookup already matched, but
	// this guards against hypothetical SQL collation or encoding surprises.
	if !cfx.VerifyToken(token, key.KeyHash, a.salt) {
		return nil, cfx.ErrUnauthorized
	}

	if key.Status != cfx.KeyStatusActive {
		return nil, cfx.ErrKeyRevoked
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	// Touch last-used timestamp asynchronously. Failures are logged,
	// never surfaced to the caller.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.store.TouchKeyUsed(ctx, key.ID); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "update key last_used failed",
				slog.Int64("key_id", key.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return principal(key), nil
}

// InvalidateKey removes a cached API key by its key ID.
// Used when admin operations (revoke) modify a key.
func (a *APIKeyAuth) InvalidateKey(keyID int64) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

// bearerToken extracts the credentials from a Bearer authorization header
// value. The scheme match is case-insensitive per RFC 7235.
func bearerToken(authorization string) string {
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// principal constructs a Principal from a validated API key.
func principal(key *cfx.APIKey) *cfx.Principal {
	return &cfx.Principal{
		UserID:    key.UserID,
		APIKeyID:  key.ID,
		KeyPrefix: key.KeyPrefix,
	}
}
