package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
)

// verifierEntropyBytes yields an 86-character verifier, exactly twice
// the 43-character minimum the proof-key standard requires.
const verifierEntropyBytes = 64

// GenerateProofKey produces a fresh proof-key attempt with an S256
// challenge. The verifier is base64url encoded without padding, so its
// alphabet is a subset of the unreserved URL-safe set. No side effects;
// the caller persists the attempt for the redirect round trip.
func GenerateProofKey() (domain.ProofKeyAttempt, error) {
	verifier, err := randomVerifier()
	if err != nil {
		return domain.ProofKeyAttempt{}, err
	}

	sum := sha256.Sum256([]byte(verifier))
	return domain.ProofKeyAttempt{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:    domain.ChallengeMethodS256,
	}, nil
}

// GenerateDegradedProofKey produces an attempt whose challenge is the
// unhashed verifier. Only for providers that cannot verify S256; the
// Degraded flag forces callers to treat it as a security event.
func GenerateDegradedProofKey() (domain.ProofKeyAttempt, error) {
	verifier, err := randomVerifier()
	if err != nil {
		return domain.ProofKeyAttempt{}, err
	}

	return domain.ProofKeyAttempt{
		Verifier:  verifier,
		Challenge: verifier,
		Method:    domain.ChallengeMethodPlain,
		Degraded:  true,
	}, nil
}

func randomVerifier() (string, error) {
	buf := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
