// Package scorecache keeps the most recently fetched score results, keyed by
// quantized coordinates, so a score can still be shown while offline.
package scorecache

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/staysense/staysense-go/internal/geo"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/observability/metrics"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 50

// Entry is one cached score result. Payload is stored verbatim.
type Entry struct {
	Key       string          `json:"key"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Cache is a bounded LRU list persisted as a whole after every insert.
// Lookups do not change recency; only inserts promote an entry.
type Cache struct {
	store    kvstore.Store
	capacity int
	logger   logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries []Entry // most recently used first
	loaded  bool    // persisted list has been read; no writes before that
}

// New creates an empty cache. Call Load to restore persisted entries.
func New(store kvstore.Store, capacity int, log logger.Logger, m *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		store:    store,
		capacity: capacity,
		logger:   log.Module("scorecache"),
		metrics:  m,
	}
}

// Load replaces the in-memory list with the persisted one. Missing or
// corrupt data leaves the cache empty. When the store cannot be read the
// cache stays unloaded and the read is retried before the next write or
// lookup.
func (c *Cache) Load(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		c.entries = nil
		c.loaded = false
	}
	if err := c.syncLocked(ctx); err != nil {
		c.logger.Warn("score cache unreadable, will retry", logger.Error(err))
		return
	}
	c.logger.Debug("score cache loaded", logger.Int("entries", len(c.entries)))
}

// syncLocked reads the persisted list if it has not been read yet. Entries
// inserted in memory meanwhile stay in front. c.mu must be held.
func (c *Cache) syncLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	var stored []Entry
	found, err := kvstore.ReadJSON(ctx, c.store, kvstore.KeyScoreCache, &stored)
	if err != nil {
		return err
	}
	c.loaded = true

	seen := make(map[string]struct{}, len(c.entries)+len(stored))
	entries := make([]Entry, 0, c.capacity)
	candidates := c.entries
	if found {
		candidates = append(slices.Clone(c.entries), stored...)
	}
	for _, e := range candidates {
		if e.Key == "" || len(e.Payload) == 0 {
			continue
		}
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		entries = append(entries, e)
		if len(entries) == c.capacity {
			break
		}
	}
	c.entries = entries
	c.metrics.CacheSize(len(entries))
	return nil
}

// Put inserts or replaces entry at the most recently used position, evicts
// beyond capacity and persists. A persistence failure is logged only.
func (c *Cache) Put(ctx context.Context, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	syncErr := c.syncLocked(ctx)
	c.entries = slices.DeleteFunc(c.entries, func(e Entry) bool { return e.Key == entry.Key })
	c.entries = slices.Insert(c.entries, 0, entry)
	if len(c.entries) > c.capacity {
		evicted := c.entries[c.capacity:]
		for _, e := range evicted {
			c.logger.Debug("evicted score cache entry", logger.String("key", e.Key))
		}
		c.entries = slices.Clip(c.entries[:c.capacity])
	}
	c.metrics.CacheSize(len(c.entries))

	if syncErr != nil {
		c.logger.Warn("score cache unreadable, entry kept in memory only", logger.Error(syncErr))
		return
	}
	if err := kvstore.SaveJSON(ctx, c.store, kvstore.KeyScoreCache, c.entries); err != nil {
		c.logger.Warn("failed to persist score cache", logger.Error(err))
	}
}

// PutScore caches payload for the quantized coordinate and returns the entry.
func (c *Cache) PutScore(ctx context.Context, lat, lon float64, payload json.RawMessage, fetchedAt time.Time) Entry {
	entry := Entry{
		Key:       geo.Key(lat, lon),
		FetchedAt: fetchedAt.UTC(),
		Payload:   slices.Clone(payload),
	}
	c.Put(ctx, entry)
	return entry
}

// Find returns the entry for the quantized coordinate.
func (c *Cache) Find(lat, lon float64) (Entry, bool) {
	return c.FindKey(geo.Key(lat, lon))
}

// FindKey returns the entry stored under an already quantized key.
func (c *Cache) FindKey(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.syncLocked(context.Background()); err != nil {
		c.logger.Debug("score cache still unreadable", logger.Error(err))
	}

	for _, e := range c.entries {
		if e.Key == key {
			c.metrics.CacheLookup(true)
			return e, true
		}
	}
	c.metrics.CacheLookup(false)
	return Entry{}, false
}

// Entries returns a snapshot, most recently used first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured bound.
func (c *Cache) Capacity() int {
	return c.capacity
}
