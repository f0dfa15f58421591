package domain

// Challenge methods understood by the identity provider.
const (
	// ChallengeMethodS256 derives the challenge by hashing the verifier.
	ChallengeMethodS256 = "S256"
	// ChallengeMethodPlain sends the verifier itself as the challenge.
	// Only used when secure hashing is explicitly allowed to degrade.
	ChallengeMethodPlain = "plain"
)

// ProofKeyAttempt is the ephemeral per-login secret and its derived
// challenge. It lives only until the matching authorization callback is
// processed, then is discarded unconditionally.
type ProofKeyAttempt struct {
	Verifier  string
	Challenge string
	Method    string

	// Degraded marks a challenge that was not derived with a one-way
	// hash. A security-relevant event, surfaced to the caller rather
	// than silently accepted.
	Degraded bool
}
