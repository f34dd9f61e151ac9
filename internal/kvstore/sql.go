package kvstore

import (
	"context"

	"github.com/staysense/staysense-go/internal/datastore/repository"
	"github.com/staysense/staysense-go/internal/errors"
)

// SQLStore stores values in the kv_entries table of the local database.
type SQLStore struct {
	repo    repository.KVRepository
	closeFn func() error
}

// NewSQLStore wraps a KV repository. closeFn, when non-nil, runs on Close and
// normally closes the owning datastore.
func NewSQLStore(repo repository.KVRepository, closeFn func() error) *SQLStore {
	return &SQLStore{repo: repo, closeFn: closeFn}
}

// Get returns the value stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrKVNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

// Set stores value under key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.repo.Put(ctx, key, value)
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, key)
}

// Close releases the underlying database.
func (s *SQLStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
