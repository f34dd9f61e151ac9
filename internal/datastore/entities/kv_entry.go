package entities

import "time"

// KVEntry is one persisted key/value pair of the local client store.
// Value holds the JSON encoding produced by the caller.
type KVEntry struct {
	Key       string    `gorm:"primaryKey;size:255" json:"key"`
	Value     []byte    `gorm:"type:blob;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (KVEntry) TableName() string {
	return "kv_entries"
}
