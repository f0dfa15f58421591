package domain

import "time"

// SessionState enumerates the lifecycle states of the local session.
type SessionState string

const (
	// SessionAnonymous means no credential is held.
	SessionAnonymous SessionState = "anonymous"
	// SessionAuthenticating means a login redirect has been issued and the
	// matching callback has not yet been processed.
	SessionAuthenticating SessionState = "authenticating"
	// SessionAuthenticated means a valid credential pair is held.
	SessionAuthenticated SessionState = "authenticated"
	// SessionRenewing means a silent refresh exchange is in flight.
	SessionRenewing SessionState = "renewing"
	// SessionExpired means the credential lapsed and the refresh exchange
	// failed; a new interactive login is required.
	SessionExpired SessionState = "expired"
)

// String returns the state name.
func (s SessionState) String() string {
	return string(s)
}

// Claims carries the identity attributes decoded from the access token.
// They are used only for UI gating; the server re-validates every request.
type Claims struct {
	Subject     string
	DisplayName string
	Roles       []string
	ExpiresAt   time.Time
}

// HasRole reports whether the subject carries the named role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session is the authoritative authentication state held by the agent.
// Claims.ExpiresAt is always the decoded expiry of AccessToken; the two
// are never allowed to diverge.
type Session struct {
	AccessToken  string
	RefreshToken string
	Claims       Claims
}

// TimeToExpiry returns the remaining lifetime of the access token at the
// supplied moment. Negative when already expired.
func (s Session) TimeToExpiry(at time.Time) time.Duration {
	return s.Claims.ExpiresAt.Sub(at)
}
