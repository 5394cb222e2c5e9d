package auth

import (
	"context"
	"sync"
)

// MemoryAuthenticator is an in-memory Authenticator backed by a static
// token table. Useful for testing and development.
type MemoryAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewMemoryAuthenticator creates an empty in-memory authenticator.
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		tokens: make(map[string]Identity),
	}
}

// Issue registers a token for an identity.
func (a *MemoryAuthenticator) Issue(token string, identity Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tokens[token] = identity
}

// Revoke invalidates a token.
func (a *MemoryAuthenticator) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.tokens, token)
}

// ValidateToken resolves a token to an identity.
func (a *MemoryAuthenticator) ValidateToken(_ context.Context, token string) (Identity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	identity, ok := a.tokens[token]
	if !ok {
		return Identity{}, ErrAuthentication
	}

	return identity, nil
}

// membershipKey uniquely identifies a user-workspace membership.
type membershipKey struct {
	userID      string
	workspaceID string
}

// MemoryAuthorizer is an in-memory Authorizer backed by a membership set.
type MemoryAuthorizer struct {
	mu      sync.RWMutex
	members map[membershipKey]struct{}
}

// NewMemoryAuthorizer creates an empty in-memory authorizer.
func NewMemoryAuthorizer() *MemoryAuthorizer {
	return &MemoryAuthorizer{
		members: make(map[membershipKey]struct{}),
	}
}

// AddMember records that a user belongs to a workspace.
func (a *MemoryAuthorizer) AddMember(userID, workspaceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.members[membershipKey{userID: userID, workspaceID: workspaceID}] = struct{}{}
}

// RemoveMember removes a user from a workspace.
func (a *MemoryAuthorizer) RemoveMember(userID, workspaceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.members, membershipKey{userID: userID, workspaceID: workspaceID})
}

// IsMember reports whether the user belongs to the workspace.
func (a *MemoryAuthorizer) IsMember(_ context.Context, userID, workspaceID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.members[membershipKey{userID: userID, workspaceID: workspaceID}]

	return ok, nil
}

// Ensure implementations satisfy the interfaces.
var (
	_ Authenticator = (*MemoryAuthenticator)(nil)
	_ Authorizer    = (*MemoryAuthorizer)(nil)
)
