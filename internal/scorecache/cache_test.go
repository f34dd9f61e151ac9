package scorecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func payload(score int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"spot_id":"spot-%d","score":%d,"ampel":"green"}`, score, score))
}

func entry(key string, score int) Entry {
	return Entry{Key: key, FetchedAt: time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC), Payload: payload(score)}
}

func TestPut_BoundedEvictsLeastRecentlyInserted(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := New(kvstore.NewMemoryStore(), 50, testLogger(), nil)

	for i := range 51 {
		c.Put(ctx, entry(fmt.Sprintf("k%02d", i), i))
	}

	assert.Equal(t, 50, c.Len())
	_, ok := c.FindKey("k00")
	assert.False(t, ok, "oldest key must be evicted")
	_, ok = c.FindKey("k50")
	assert.True(t, ok)
	_, ok = c.FindKey("k01")
	assert.True(t, ok)
}

func TestPut_DuplicateReplacesAndPromotes(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := New(kvstore.NewMemoryStore(), 3, testLogger(), nil)

	c.Put(ctx, entry("a", 1))
	c.Put(ctx, entry("b", 2))
	c.Put(ctx, entry("c", 3))
	c.Put(ctx, entry("a", 10)) // promote a; b is now LRU
	c.Put(ctx, entry("d", 4))  // evicts b

	keys := make([]string, 0, 3)
	for _, e := range c.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"d", "a", "c"}, keys)

	a, ok := c.FindKey("a")
	require.True(t, ok)
	assert.JSONEq(t, string(payload(10)), string(a.Payload))
}

func TestFind_DoesNotPromote(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := New(kvstore.NewMemoryStore(), 2, testLogger(), nil)

	c.Put(ctx, entry("a", 1))
	c.Put(ctx, entry("b", 2))
	_, ok := c.FindKey("a")
	require.True(t, ok)
	c.Put(ctx, entry("c", 3))

	_, ok = c.FindKey("a")
	assert.False(t, ok, "lookup must not refresh recency")
}

func TestFind_QuantizedKeys(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := New(kvstore.NewMemoryStore(), DefaultCapacity, testLogger(), nil)

	stored := c.PutScore(ctx, 51.25001, 6.97299, payload(72), time.Now())
	assert.Equal(t, "51.2500,6.9730", stored.Key)

	got, ok := c.Find(51.25004, 6.97301)
	require.True(t, ok)
	assert.Equal(t, stored.Key, got.Key)

	_, ok = c.Find(51.2510, 6.9730)
	assert.False(t, ok)
}

func TestLoad_RestoresPersistedOrder(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := kvstore.NewMemoryStore()

	first := New(store, 5, testLogger(), nil)
	first.Put(ctx, entry("a", 1))
	first.Put(ctx, entry("b", 2))

	second := New(store, 5, testLogger(), nil)
	second.Load(ctx)
	require.Equal(t, 2, second.Len())
	assert.Equal(t, "b", second.Entries()[0].Key)

	got, ok := second.FindKey("a")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC), got.FetchedAt)
}

func TestLoad_Sanitizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stored   string
		capacity int
		wantKeys []string
	}{
		{"corrupt json", `[{"key":`, 5, nil},
		{"wrong shape", `{"key":"a"}`, 5, nil},
		{"drops duplicates keeping most recent", `[{"key":"a","payload":{"n":2}},{"key":"a","payload":{"n":1}}]`, 5, []string{"a"}},
		{"drops entries without key or payload", `[{"key":"","payload":{}},{"key":"b"},{"key":"c","payload":{}}]`, 5, []string{"c"}},
		{"truncates to capacity", `[{"key":"a","payload":1},{"key":"b","payload":2},{"key":"c","payload":3}]`, 2, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := kvstore.NewMemoryStore()
			require.NoError(t, store.Set(ctx, kvstore.KeyScoreCache, []byte(tt.stored)))

			c := New(store, tt.capacity, testLogger(), nil)
			c.Load(ctx)

			var keys []string
			for _, e := range c.Entries() {
				keys = append(keys, e.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

type brokenStore struct{ *kvstore.MemoryStore }

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.NewStd("storage unavailable")
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.NewStd("quota exceeded")
}

func TestUnavailableStorageNeverFails(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := New(brokenStore{kvstore.NewMemoryStore()}, 5, testLogger(), nil)

	c.Load(ctx)
	assert.Zero(t, c.Len())

	c.PutScore(ctx, 50.9375, 6.9603, payload(40), time.Now())
	_, ok := c.Find(50.9375, 6.9603)
	assert.True(t, ok, "in-memory copy survives a failed write")
}

func TestNew_DefaultCapacity(t *testing.T) {
	t.Parallel()
	c := New(kvstore.NewMemoryStore(), 0, testLogger(), nil)
	assert.Equal(t, DefaultCapacity, c.Capacity())
}

type flakyReadStore struct {
	*kvstore.MemoryStore
	mu   sync.Mutex
	down bool
}

func (s *flakyReadStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *flakyReadStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return nil, errors.NewStd("storage unavailable")
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestPut_WhileUnreadableKeepsStoredEntries(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &flakyReadStore{MemoryStore: kvstore.NewMemoryStore()}

	seed := New(store, 5, testLogger(), nil)
	seed.Put(ctx, entry("a", 1))
	seed.Put(ctx, entry("b", 2))

	store.setDown(true)
	c := New(store, 5, testLogger(), nil)
	c.Load(ctx)
	c.Put(ctx, entry("c", 3))

	var stored []Entry
	require.True(t, kvstore.LoadJSON(ctx, store.MemoryStore, kvstore.KeyScoreCache, &stored))
	assert.Len(t, stored, 2, "unread entries are never overwritten")

	store.setDown(false)
	c.Put(ctx, entry("d", 4))

	var keys []string
	for _, e := range c.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, keys)

	stored = nil
	require.True(t, kvstore.LoadJSON(ctx, store.MemoryStore, kvstore.KeyScoreCache, &stored))
	assert.Len(t, stored, 4)
}
