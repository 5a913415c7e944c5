package logpipe

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

const (
	idPrefix = "cfx-"

	// Memo bounds: block re-issuing a recent ID without growing forever.
	memoMax  = 100_000
	memoKeep = 50_000
)

// IDGenerator mints request IDs of the form "cfx-<32 hex chars>". A
// bounded memo of recently issued IDs guards against the (vanishing)
// chance of a UUID collision within a process lifetime.
type IDGenerator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIDGenerator returns a ready IDGenerator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{seen: make(map[string]struct{})}
}

// Next returns a fresh request ID, unique among recently issued ones.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		u := uuid.New()
		id := idPrefix + hex.EncodeToString(u[:])
		if _, dup := g.seen[id]; dup {
			continue
		}
		g.seen[id] = struct{}{}
		if len(g.seen) > memoMax {
			g.truncate()
		}
		return id
	}
}

// truncate rebuilds the memo keeping an arbitrary half. Which entries
// survive does not matter for collision purposes.
func (g *IDGenerator) truncate() {
	kept := make(map[string]struct{}, memoKeep)
	for id := range g.seen {
		kept[id] = struct{}{}
		if len(kept) == memoKeep {
			break
		}
	}
	g.seen = kept
}
