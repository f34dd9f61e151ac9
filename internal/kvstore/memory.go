package kvstore

import (
	"context"
	"slices"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps values in process memory. Values never expire.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v.([]byte)), nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.c.Set(key, slices.Clone(value), cache.NoExpiration)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.c.Delete(key)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
