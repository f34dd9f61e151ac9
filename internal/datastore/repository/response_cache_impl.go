package repository

import (
	"context"
	"fmt"

	"github.com/staysense/staysense-go/internal/datastore/entities"
	"github.com/staysense/staysense-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// responseCacheRepository implements ResponseCacheRepository.
type responseCacheRepository struct {
	db *gorm.DB
}

// NewResponseCacheRepository creates a new ResponseCacheRepository.
func NewResponseCacheRepository(db *gorm.DB) ResponseCacheRepository {
	return &responseCacheRepository{db: db}
}

// EnsurePartition creates the partition if it does not exist yet.
func (r *responseCacheRepository) EnsurePartition(ctx context.Context, name string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entities.CachePartition{Name: name}).Error
	if err != nil {
		return fmt.Errorf("failed to create cache partition %q: %w", name, err)
	}
	return nil
}

// ListPartitions returns all partition names in lexical order.
func (r *responseCacheRepository) ListPartitions(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&entities.CachePartition{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache partitions: %w", err)
	}
	return names, nil
}

// DeletePartition removes a partition and all of its responses. It reports
// whether the partition existed.
func (r *responseCacheRepository) DeletePartition(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("partition_name = ?", name).Delete(&entities.CachedResponse{}).Error; err != nil {
			return fmt.Errorf("failed to delete responses of %q: %w", name, err)
		}
		result := tx.Where("name = ?", name).Delete(&entities.CachePartition{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete cache partition %q: %w", name, result.Error)
		}
		existed = result.RowsAffected > 0
		return nil
	})
	return existed, err
}

// GetResponse returns the response stored for requestKey, or ErrResponseNotFound.
func (r *responseCacheRepository) GetResponse(ctx context.Context, partition, requestKey string) (*entities.CachedResponse, error) {
	var resp entities.CachedResponse
	err := r.db.WithContext(ctx).
		Where("partition_name = ? AND request_key = ?", partition, requestKey).
		First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("failed to get cached response: %w", err)
	}
	return &resp, nil
}

// PutResponse upserts a response. The partition is created on demand.
func (r *responseCacheRepository) PutResponse(ctx context.Context, resp *entities.CachedResponse) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&entities.CachePartition{Name: resp.Partition}).Error; err != nil {
			return fmt.Errorf("failed to create cache partition %q: %w", resp.Partition, err)
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partition_name"}, {Name: "request_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "header", "body", "stored_at"}),
		}).Create(resp).Error
		if err != nil {
			return fmt.Errorf("failed to store cached response: %w", err)
		}
		return nil
	})
}

// CountResponses returns the number of responses held by a partition.
func (r *responseCacheRepository) CountResponses(ctx context.Context, partition string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CachedResponse{}).Where("partition_name = ?", partition).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count cached responses: %w", err)
	}
	return count, nil
}
