package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/staysense/staysense-go/internal/datastore/entities"
	"github.com/staysense/staysense-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// kvRepository implements KVRepository.
type kvRepository struct {
	db *gorm.DB
}

// NewKVRepository creates a new KVRepository.
func NewKVRepository(db *gorm.DB) KVRepository {
	return &kvRepository{db: db}
}

// Get returns the entry stored under key, or ErrKVNotFound.
func (r *kvRepository) Get(ctx context.Context, key string) (*entities.KVEntry, error) {
	var entry entities.KVEntry
	if err := r.db.WithContext(ctx).Where(`"key" = ?`, key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKVNotFound
		}
		return nil, fmt.Errorf("failed to get kv entry %q: %w", key, err)
	}
	return &entry, nil
}

// Put inserts or replaces the value stored under key.
func (r *kvRepository) Put(ctx context.Context, key string, value []byte) error {
	entry := &entities.KVEntry{Key: key, Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put kv entry %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *kvRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where(`"key" = ?`, key).Delete(&entities.KVEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete kv entry %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix, in lexical order.
func (r *kvRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	query := r.db.WithContext(ctx).Model(&entities.KVEntry{})
	if prefix != "" {
		query = query.Where(`"key" LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}
	if err := query.Order(`"key" ASC`).Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	return keys, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
