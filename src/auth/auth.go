// Package auth defines the connection admission contract. The engine only
// cares about yes/no admission and the resulting principal; token issuance
// lives elsewhere.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a token is missing, invalid or expired.
// The handshake layer maps it to close code 1008.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	UserID string
	Name   string
	Claims map[string]any
}

// Authenticator verifies a handshake token. Invoked once per connection.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// StaticAuthenticator admits tokens from a fixed map. Dev and test use.
type StaticAuthenticator struct {
	tokens map[string]Principal
}

// NewStaticAuthenticator builds an authenticator over a token -> principal map.
func NewStaticAuthenticator(tokens map[string]Principal) *StaticAuthenticator {
	return &StaticAuthenticator{tokens: tokens}
}

func (a *StaticAuthenticator) Verify(_ context.Context, token string) (*Principal, error) {
	p, ok := a.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return &p, nil
}

// AnonymousAuthenticator admits every connection with a generated identity.
// Used when admission control is disabled.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Verify(_ context.Context, _ string) (*Principal, error) {
	id := uuid.New().String()
	return &Principal{UserID: "anon-" + id[:8], Name: "anonymous"}, nil
}
