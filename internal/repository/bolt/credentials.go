// Package bolt provides a bbolt-backed credential store.
package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/repository"
)

var bucketCredentials = []byte("credentials")

// CredentialStore implements port.CredentialStore backed by a bbolt
// database file. It survives agent restarts but not deletion of the
// agent's data directory.
type CredentialStore struct {
	db *bbolt.DB
}

var _ port.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore returns a store backed by the given bbolt database.
func NewCredentialStore(db *bbolt.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Open opens the bbolt database at path and returns a store over it.
func Open(path string) (*CredentialStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return NewCredentialStore(db), nil
}

// Close closes the underlying database.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

// Save writes both credentials in one transaction.
func (s *CredentialStore) Save(_ context.Context, accessToken, refreshToken string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCredentials)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(repository.KeyAccessToken), []byte(accessToken)); err != nil {
			return err
		}
		return b.Put([]byte(repository.KeyRefreshToken), []byte(refreshToken))
	})
}

// LoadAccess returns the stored access token.
func (s *CredentialStore) LoadAccess(_ context.Context) (string, error) {
	return s.load(repository.KeyAccessToken)
}

// LoadRefresh returns the stored refresh token.
func (s *CredentialStore) LoadRefresh(_ context.Context) (string, error) {
	return s.load(repository.KeyRefreshToken)
}

func (s *CredentialStore) load(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b == nil {
			return fmt.Errorf("%s: %w", key, repository.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if len(data) == 0 {
			return fmt.Errorf("%s: %w", key, repository.ErrNotFound)
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Clear removes both credentials. Idempotent.
func (s *CredentialStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(repository.KeyAccessToken)); err != nil {
			return err
		}
		return b.Delete([]byte(repository.KeyRefreshToken))
	})
}
