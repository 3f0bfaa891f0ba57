// Package identity verifies callers against an external identity provider.
// It never issues credentials itself.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/cimillas/ticket-engine/internal/domain"
)

// Gate turns an opaque bearer token into a verified identity.
//
// Authorize fails with domain.ErrAuthInvalid for a missing, expired or
// malformed token and with domain.ErrAuthUnreachable when the provider
// cannot be contacted. The latter is retryable and must never be treated
// as anonymous access.
type Gate interface {
	Authorize(ctx context.Context, token string) (domain.Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// StaticGate authorizes a fixed set of tokens. Used for local development
// and tests.
type StaticGate struct {
	mu     sync.RWMutex
	tokens map[string]domain.Identity
}

func NewStaticGate(tokens map[string]domain.Identity) *StaticGate {
	g := &StaticGate{tokens: make(map[string]domain.Identity, len(tokens))}
	for tok, id := range tokens {
		g.tokens[tok] = id
	}
	return g
}

// Add registers token for id.
func (g *StaticGate) Add(token string, id domain.Identity) {
	g.mu.Lock()
	g.tokens[token] = id
	g.mu.Unlock()
}

func (g *StaticGate) Authorize(ctx context.Context, token string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	if token == "" {
		return domain.Identity{}, domain.ErrAuthInvalid
	}
	g.mu.RLock()
	id, ok := g.tokens[token]
	g.mu.RUnlock()
	if !ok || !id.Role.Valid() {
		return domain.Identity{}, domain.ErrAuthInvalid
	}
	return id, nil
}
