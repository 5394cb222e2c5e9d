// Package auth defines the authentication and authorization boundary of
// the session manager. Token issuance lives elsewhere; this package only
// validates credentials and workspace membership at connect time.
package auth

import (
	"context"
	"errors"
)

// Common errors.
var (
	// ErrAuthentication indicates an invalid or expired credential.
	// Fatal to the connection presenting it.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization indicates a valid identity that is not permitted
	// on the requested document. Fatal to the connection.
	ErrAuthorization = errors.New("authorization failed")
)

// Identity describes an authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// Authenticator validates bearer credentials.
type Authenticator interface {
	// ValidateToken resolves a token to an identity.
	// Returns ErrAuthentication if the token is invalid or expired.
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

// Authorizer answers workspace membership questions.
type Authorizer interface {
	// IsMember reports whether the user belongs to the workspace.
	IsMember(ctx context.Context, userID, workspaceID string) (bool, error)
}
