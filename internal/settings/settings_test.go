package settings

import (
	"io"
	"testing"

	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	s := New(kvstore.NewMemoryStore(), testLogger())
	s.Load(t.Context())
	assert.True(t, s.SignalsEnabled())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stored string
		want   bool
	}{
		{"disabled", `{"signalsEnabled":false}`, false},
		{"enabled", `{"signalsEnabled":true}`, true},
		{"missing field keeps default", `{}`, true},
		{"corrupt keeps default", `{"signalsEnabled":`, true},
		{"wrong type keeps default", `{"signalsEnabled":"no"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kv := kvstore.NewMemoryStore()
			require.NoError(t, kv.Set(t.Context(), kvstore.KeySettings, []byte(tt.stored)))

			s := New(kv, testLogger())
			s.Load(t.Context())
			assert.Equal(t, tt.want, s.SignalsEnabled())
		})
	}
}

func TestSetSignalsEnabled_Persists(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	kv := kvstore.NewMemoryStore()

	s := New(kv, testLogger())
	require.NoError(t, s.SetSignalsEnabled(ctx, false))
	assert.False(t, s.SignalsEnabled())

	reloaded := New(kv, testLogger())
	reloaded.Load(ctx)
	assert.False(t, reloaded.SignalsEnabled())
}
