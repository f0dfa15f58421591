package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
)

// Credential record keys shared by every store backend. Two durable
// string-keyed records under stable keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)
