package port

import "context"

// CredentialStore persists the current access/refresh credential pair
// across agent restarts. Implementations perform no validation of token
// shape; that is the session service's job.
type CredentialStore interface {
	// Save writes the credential pair under stable keys.
	Save(ctx context.Context, accessToken, refreshToken string) error

	// LoadAccess returns the stored access token, or
	// repository.ErrNotFound when none is stored.
	LoadAccess(ctx context.Context) (string, error)

	// LoadRefresh returns the stored refresh token, or
	// repository.ErrNotFound when none is stored.
	LoadRefresh(ctx context.Context) (string, error)

	// Clear removes both credentials. Idempotent; called on every
	// failure path that invalidates the session.
	Clear(ctx context.Context) error
}
