package entities

import "time"

// CachePartition is a named response cache partition ("staysense-core-v1").
// A partition exists independently of whether it holds responses.
type CachePartition struct {
	Name      string    `gorm:"primaryKey;size:255" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (CachePartition) TableName() string {
	return "cache_partitions"
}

// CachedResponse is a stored HTTP response keyed by partition and request.
type CachedResponse struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Partition  string    `gorm:"column:partition_name;size:255;not null;uniqueIndex:idx_cached_response_key,priority:1" json:"partition"`
	RequestKey string    `gorm:"size:2048;not null;uniqueIndex:idx_cached_response_key,priority:2" json:"request_key"`
	Status     int       `gorm:"not null" json:"status"`
	Header     string    `gorm:"type:text;default:''" json:"header"` // JSON-encoded http.Header
	Body       []byte    `gorm:"type:blob" json:"-"`
	StoredAt   time.Time `gorm:"not null" json:"stored_at"`
}

// TableName returns the table name for GORM.
func (CachedResponse) TableName() string {
	return "cached_responses"
}
