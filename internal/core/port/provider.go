package port

import "context"

// TokenResponse is the credential pair returned by the provider's token
// endpoint for both grant types.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// IdentityProvider abstracts the external OpenID provider endpoints the
// agent consumes. It is implemented by infra/provider and stubbed in
// tests.
type IdentityProvider interface {
	// AuthorizationURL builds the provider authorization endpoint URL
	// parameterized with the proof-key challenge and CSRF state.
	AuthorizationURL(challenge, method, state string) string

	// EndSessionURL builds the provider end-session redirect target.
	EndSessionURL() string

	// Exchange redeems an authorization code together with the saved
	// proof-key verifier for a credential pair.
	Exchange(ctx context.Context, code, verifier string) (TokenResponse, error)

	// Refresh redeems a refresh token for a new credential pair.
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
}
