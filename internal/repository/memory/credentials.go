// Package memory provides an in-process credential store for tests and
// ephemeral runs where nothing should outlive the agent process.
package memory

import (
	"context"
	"sync"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/repository"
)

// CredentialStore implements port.CredentialStore with a mutex-guarded map.
type CredentialStore struct {
	mu      sync.RWMutex
	records map[string]string
}

var _ port.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore constructs an empty in-memory store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{records: make(map[string]string)}
}

// Save writes the credential pair.
func (m *CredentialStore) Save(_ context.Context, accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[repository.KeyAccessToken] = accessToken
	m.records[repository.KeyRefreshToken] = refreshToken
	return nil
}

// LoadAccess returns the stored access token, ErrNotFound when absent.
func (m *CredentialStore) LoadAccess(context.Context) (string, error) {
	return m.load(repository.KeyAccessToken)
}

// LoadRefresh returns the stored refresh token, ErrNotFound when absent.
func (m *CredentialStore) LoadRefresh(context.Context) (string, error) {
	return m.load(repository.KeyRefreshToken)
}

func (m *CredentialStore) load(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.records[key]
	if !ok || value == "" {
		return "", repository.ErrNotFound
	}
	return value, nil
}

// Clear removes both credentials. Idempotent.
func (m *CredentialStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, repository.KeyAccessToken)
	delete(m.records, repository.KeyRefreshToken)
	return nil
}
