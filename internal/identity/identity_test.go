package identity

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestDeviceToken_StableAcrossCallsAndReloads(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := kvstore.NewMemoryStore()

	p := NewProvider(store, testLogger())
	first, err := p.DeviceToken(ctx)
	require.NoError(t, err)
	second, err := p.DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = uuid.Parse(first)
	require.NoError(t, err, "token should be a UUID")

	// A fresh provider on the same store simulates a restart.
	reloaded, err := NewProvider(store, testLogger()).DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, reloaded)
}

func TestDeviceToken_ConcurrentCallersAgree(t *testing.T) {
	t.Parallel()
	p := NewProvider(kvstore.NewMemoryStore(), testLogger())

	const n = 16
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			tok, err := p.DeviceToken(t.Context())
			assert.NoError(t, err)
			tokens[i] = tok
		})
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestDeviceToken_ReplacesInvalidStoredValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stored string
	}{
		{"too short", `"abc123"`},
		{"not json", `abc`},
		{"wrong type", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := kvstore.NewMemoryStore()
			require.NoError(t, store.Set(ctx, kvstore.KeyDeviceToken, []byte(tt.stored)))

			tok, err := NewProvider(store, testLogger()).DeviceToken(ctx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(tok), MinTokenLength)

			var persisted string
			require.True(t, kvstore.LoadJSON(ctx, store, kvstore.KeyDeviceToken, &persisted))
			assert.Equal(t, tok, persisted)
		})
	}
}

func TestDeviceToken_KeepsExistingValidToken(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := kvstore.NewMemoryStore()
	require.NoError(t, kvstore.SaveJSON(ctx, store, kvstore.KeyDeviceToken, "legacy-device-token-0001"))

	tok, err := NewProvider(store, testLogger()).DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy-device-token-0001", tok)
}

type readOnlyStore struct{ *kvstore.MemoryStore }

func (readOnlyStore) Set(context.Context, string, []byte) error {
	return errors.NewStd("read-only")
}

func TestDeviceToken_PersistFailureStillServesSession(t *testing.T) {
	t.Parallel()
	p := NewProvider(readOnlyStore{kvstore.NewMemoryStore()}, testLogger())

	first, err := p.DeviceToken(t.Context())
	require.NoError(t, err)
	second, err := p.DeviceToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// lockedStore fails reads while locked.
type lockedStore struct {
	*kvstore.MemoryStore
	mu     sync.Mutex
	locked bool
}

func (s *lockedStore) setLocked(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = v
}

func (s *lockedStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	locked := s.locked
	s.mu.Unlock()
	if locked {
		return nil, errors.NewStd("database is locked")
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestDeviceToken_ReadFailureNeverRotates(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &lockedStore{MemoryStore: kvstore.NewMemoryStore()}

	original, err := NewProvider(store, testLogger()).DeviceToken(ctx)
	require.NoError(t, err)

	store.setLocked(true)
	p := NewProvider(store, testLogger())
	_, err = p.DeviceToken(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))

	store.setLocked(false)
	tok, err := p.DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, tok, "the provider retries the read after a failure")

	reloaded, err := NewProvider(store, testLogger()).DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, reloaded)
}
