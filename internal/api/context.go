package api

import (
	"context"

	"github.com/driftpad/driftpad/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext extracts the authenticated identity from the
// context. Returns a zero identity if not present.
func IdentityFromContext(ctx context.Context) auth.Identity {
	if v := ctx.Value(identityKey); v != nil {
		if identity, ok := v.(auth.Identity); ok {
			return identity
		}
	}

	return auth.Identity{}
}

// withIdentity returns a new context carrying the identity.
func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}
