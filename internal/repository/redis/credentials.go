package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/repository"
)

const defaultCredentialPrefix = "pdms:credentials"

// CredentialStore implements port.CredentialStore on Redis. Used by
// kiosk deployments where several bedside terminals share one session
// record.
type CredentialStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

var _ port.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore constructs a Redis-backed credential store. A zero
// ttl stores credentials without expiry.
func NewCredentialStore(client *red.Client, keyPrefix string, ttl time.Duration) *CredentialStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCredentialPrefix
	}

	return &CredentialStore{client: client, prefix: prefix, ttl: ttl}
}

// Save writes both credentials under stable keys.
func (r *CredentialStore) Save(ctx context.Context, accessToken, refreshToken string) error {
	if err := r.client.Set(ctx, r.key(repository.KeyAccessToken), accessToken, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set access token: %w", err)
	}
	if err := r.client.Set(ctx, r.key(repository.KeyRefreshToken), refreshToken, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set refresh token: %w", err)
	}
	return nil
}

// LoadAccess returns the stored access token, ErrNotFound on miss.
func (r *CredentialStore) LoadAccess(ctx context.Context) (string, error) {
	return r.load(ctx, repository.KeyAccessToken)
}

// LoadRefresh returns the stored refresh token, ErrNotFound on miss.
func (r *CredentialStore) LoadRefresh(ctx context.Context) (string, error) {
	return r.load(ctx, repository.KeyRefreshToken)
}

func (r *CredentialStore) load(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	if value == "" {
		return "", repository.ErrNotFound
	}
	return value, nil
}

// Clear removes both credentials. Deleting absent keys is a no-op, so
// the operation is idempotent.
func (r *CredentialStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key(repository.KeyAccessToken), r.key(repository.KeyRefreshToken)).Err(); err != nil {
		return fmt.Errorf("redis clear credentials: %w", err)
	}
	return nil
}

func (r *CredentialStore) key(suffix string) string {
	return r.prefix + ":" + suffix
}
