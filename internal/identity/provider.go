package identity

import (
	"context"
	"errors"
)

var (
	// ErrNoUser means the identity provider answered without a user.
	ErrNoUser = errors.New("identity provider returned no user")
	// ErrNoSession means the provider returned a user but no usable token pair.
	ErrNoSession = errors.New("identity provider returned no session tokens")
	// ErrInvalidRefreshToken is returned by Refresh for unknown or rotated tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Identity is an anonymous user plus the auth session the browser needs to
// act as that user.
type Identity struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry in epoch seconds, 0 when unknown.
	ExpiresAt int64
}

type Provider interface {
	SignInAnonymously(ctx context.Context) (*Identity, error)
}

// Validate enforces the contract Provisioning relies on: a user id and both
// tokens must be present.
func (i *Identity) Validate() error {
	if i == nil || i.UserID == "" {
		return ErrNoUser
	}
	if i.AccessToken == "" || i.RefreshToken == "" {
		return ErrNoSession
	}
	return nil
}
