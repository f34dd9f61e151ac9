package repository

import (
	"context"

	"github.com/staysense/staysense-go/internal/datastore/entities"
)

// KVRepository persists opaque values by string key.
type KVRepository interface {
	Get(ctx context.Context, key string) (*entities.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ResponseCacheRepository persists named partitions of cached HTTP responses.
type ResponseCacheRepository interface {
	EnsurePartition(ctx context.Context, name string) error
	ListPartitions(ctx context.Context) ([]string, error)
	DeletePartition(ctx context.Context, name string) (bool, error)

	GetResponse(ctx context.Context, partition, requestKey string) (*entities.CachedResponse, error)
	PutResponse(ctx context.Context, resp *entities.CachedResponse) error
	CountResponses(ctx context.Context, partition string) (int64, error)
}
