// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"

	cfx "github.com/cfx-labs/cfx/internal"
)

// FakeAuth always authenticates successfully as a fixed test principal.
type FakeAuth struct{}

// Authenticate returns the test principal.
func (FakeAuth) Authenticate(context.Context, string) (*cfx.Principal, error) {
	return &cfx.Principal{
		UserID:    "test-user",
		APIKeyID:  1,
		KeyPrefix: "cfx_test",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, string) (*cfx.Principal, error) {
	return nil, cfx.ErrUnauthorized
}
