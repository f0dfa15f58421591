package security

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
)

// ErrMissingExpiry indicates the access token carries no exp claim, so
// renewal cannot be scheduled against it.
var ErrMissingExpiry = errors.New("access token has no expiry claim")

type accessTokenClaims struct {
	DisplayName string   `json:"name"`
	Roles       []string `json:"roles"`
	jwt.RegisteredClaims
}

// DecodeClaims extracts the identity claims from an access token
// without verifying its signature. The agent never makes authorization
// decisions from these claims beyond UI gating; the server re-validates
// every request.
func DecodeClaims(accessToken string) (domain.Claims, error) {
	var raw accessTokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &raw); err != nil {
		return domain.Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	if raw.ExpiresAt == nil {
		return domain.Claims{}, ErrMissingExpiry
	}

	claims := domain.Claims{
		Subject:     raw.Subject,
		DisplayName: raw.DisplayName,
		ExpiresAt:   raw.ExpiresAt.Time,
	}
	if len(raw.Roles) > 0 {
		claims.Roles = append([]string(nil), raw.Roles...)
	}

	return claims, nil
}
