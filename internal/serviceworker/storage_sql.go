package serviceworker

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/staysense/staysense-go/internal/datastore/entities"
	"github.com/staysense/staysense-go/internal/datastore/repository"
	"github.com/staysense/staysense-go/internal/errors"
)

// SQLStorage stores partitions in the local database.
type SQLStorage struct {
	repo repository.ResponseCacheRepository
}

// NewSQLStorage wraps a response cache repository.
func NewSQLStorage(repo repository.ResponseCacheRepository) *SQLStorage {
	return &SQLStorage{repo: repo}
}

func (s *SQLStorage) Open(ctx context.Context, partition string) error {
	return s.repo.EnsurePartition(ctx, partition)
}

func (s *SQLStorage) Partitions(ctx context.Context) ([]string, error) {
	return s.repo.ListPartitions(ctx)
}

func (s *SQLStorage) Delete(ctx context.Context, partition string) (bool, error) {
	return s.repo.DeletePartition(ctx, partition)
}

func (s *SQLStorage) Count(ctx context.Context, partition string) (int, error) {
	n, err := s.repo.CountResponses(ctx, partition)
	return int(n), err
}

func (s *SQLStorage) Match(ctx context.Context, partition, key string) (*Response, error) {
	row, err := s.repo.GetResponse(ctx, partition, key)
	if err != nil {
		if errors.Is(err, repository.ErrResponseNotFound) {
			return nil, ErrNotCached
		}
		return nil, err
	}
	header := http.Header{}
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			// A damaged header is not worth losing the body for.
			header = http.Header{}
		}
	}
	return &Response{
		Status:   row.Status,
		Header:   header,
		Body:     row.Body,
		StoredAt: row.StoredAt,
	}, nil
}

func (s *SQLStorage) Put(ctx context.Context, partition, key string, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return errors.Newf("failed to encode response header: %w", err).
			Component("serviceworker").
			Category(errors.CategoryStorage).
			Build()
	}
	return s.repo.PutResponse(ctx, &entities.CachedResponse{
		Partition:  partition,
		RequestKey: key,
		Status:     resp.Status,
		Header:     string(header),
		Body:       resp.Body,
		StoredAt:   resp.StoredAt,
	})
}
