// ABOUTME: Resolves a bearer credential into a Principal with its current role
// ABOUTME: Shared by the HTTP middleware, the gRPC interceptor and the WebSocket handshake

package auth

import (
	"context"
	"errors"

	"github.com/2389/taskboard-gateway/internal/store"
)

// ErrUnauthenticated is the only error Resolve returns. The cause is logged
// by callers, never shown to clients.
var ErrUnauthenticated = errors.New("authentication error")

// UserStore is the subset of store.Store the resolver reads.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Resolver verifies credentials and looks up the account behind them.
type Resolver struct {
	tokens TokenVerifier
	users  UserStore
}

// NewResolver creates a Resolver.
func NewResolver(tokens TokenVerifier, users UserStore) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve verifies the credential's signature and expiry, then loads the
// account so the returned role reflects storage, not the token. Any failure,
// including a deleted account, yields ErrUnauthenticated wrapped with the cause.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	userID, err := r.tokens.Verify(credential)
	if err != nil {
		return nil, errors.Join(ErrUnauthenticated, err)
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrUnauthenticated, err)
	}

	return &Principal{ID: user.ID, Role: user.Role}, nil
}
