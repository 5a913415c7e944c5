package app

import (
	"context"
	"errors"
	"time"

	cfx "github.com/cfx-labs/cfx/internal"
	"github.com/cfx-labs/cfx/internal/storage"
)

// errNoKeyStore is returned when key management is attempted in
// development mode, where no database is configured.
var errNoKeyStore = errors.New("key management requires a database")

// Invalidator evicts a cached credential after a status change. Satisfied
// by auth.APIKeyAuth; nil means no cache to maintain.
type Invalidator interface {
	InvalidateKey(keyID int64)
}

// KeyManager handles the API key lifecycle: mint, revoke, list. The
// plaintext token is returned exactly once at creation; only the salted
// hash and a short display prefix are stored.
type KeyManager struct {
	store storage.APIKeyStore
	salt  string
	cache Invalidator
}

// NewKeyManager returns a KeyManager backed by store. salt must match the
// authenticator's salt or minted keys will never verify.
func NewKeyManager(store storage.APIKeyStore, salt string, cache Invalidator) *KeyManager {
	return &KeyManager{store: store, salt: salt, cache: cache}
}

// CreateKey mints a new API key for userID, stores its hash, and returns
// the plaintext (shown once) along with the persisted record.
func (km *KeyManager) CreateKey(ctx context.Context, userID string) (string, *cfx.APIKey, error) {
	if km.store == nil {
		return "", nil, errNoKeyStore
	}
	token, display, err := cfx.GenerateToken(cfx.TokenPrefixDefault)
	if err != nil {
		return "", nil, err
	}

	key := &cfx.APIKey{
		UserID:    userID,
		KeyHash:   cfx.HashToken(km.salt, token),
		KeyPrefix: display,
		Status:    cfx.KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return token, key, nil
}

// RevokeKey flips the key to revoked and evicts it from the auth cache so
// the change takes effect immediately rather than at cache expiry.
func (km *KeyManager) RevokeKey(ctx context.Context, id int64) error {
	if km.store == nil {
		return errNoKeyStore
	}
	if err := km.store.UpdateKeyStatus(ctx, id, "revoked"); err != nil {
		return err
	}
	if km.cache != nil {
		km.cache.InvalidateKey(id)
	}
	return nil
}

// ListKeys returns all keys for userID, newest first.
func (km *KeyManager) ListKeys(ctx context.Context, userID string) ([]*cfx.APIKey, error) {
	if km.store == nil {
		return nil, errNoKeyStore
	}
	return km.store.ListKeys(ctx, userID)
}
