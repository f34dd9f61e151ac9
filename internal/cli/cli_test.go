package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/staysense/staysense-go/internal/signalqueue"
	"github.com/staysense/staysense-go/internal/spot"
	"github.com/staysense/staysense-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `main:
  data_dir: %s
  log_level: error
api:
  base_url: %s
  rate_limit: 0
storage:
  backend: %s
location:
  enabled: true
  latitude: 51.25
  longitude: 6.97
serviceworker:
  enabled: false
mqtt:
  password: hunter2
`

type harness struct {
	origin *testutil.Origin
	config string
}

func newHarness(t *testing.T, backend string) *harness {
	t.Helper()
	origin := testutil.NewOrigin(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "staysense.yaml")
	content := fmt.Sprintf(testConfig, dir, origin.URL, backend)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &harness{origin: origin, config: path}
}

// run executes one command line and returns stdout and the command error.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(append([]string{"--config", h.config}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, "staysense %v", args)
	return out
}

func TestScoreCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sqlite")

	out := h.mustRun(t, "score", "--lat", "51.25", "--lon", "6.97")
	assert.Contains(t, out, "Spot:    spot-1")
	assert.Contains(t, out, "Score:   72 (green)")
	assert.Contains(t, out, "Night:   22:00-06:00")
	assert.Contains(t, out, "Source:  live")

	h.origin.SetOffline(true)
	out = h.mustRun(t, "score", "--lat", "51.25", "--lon", "6.97")
	assert.Contains(t, out, "Source:  cache")
}

func TestScoreCommand_JSON(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sqlite")

	out := h.mustRun(t, "--json", "score", "--here")
	var view spot.ScoreView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "spot-1", view.SpotID)
	assert.Equal(t, spot.SourceLive, view.Source)
	assert.Equal(t, "51.2500,6.9700", view.Key)
}

func TestScoreCommand_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "memory")

	tests := []struct {
		name string
		args []string
	}{
		{"no location flags", []string{"score"}},
		{"lat without lon", []string{"score", "--lat", "1"}},
		{"here and lat", []string{"score", "--here", "--lat", "1", "--lon", "2"}},
		{"out of range", []string{"score", "--lat", "91", "--lon", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(t, tt.args...)
			assert.Error(t, err)
		})
	}

	h.origin.SetOffline(true)
	_, err := h.run(t, "score", "--lat", "10", "--lon", "10")
	require.Error(t, err)
	assert.ErrorIs(t, err, spot.ErrNoData)
}

func TestSignalQueuedOfflineAndFlushedOnNextStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "bolt")
	h.mustRun(t, "score", "--here")

	h.origin.SetOffline(true)
	out := h.mustRun(t, "signal", "noise", "--here")
	assert.Contains(t, out, "Offline: signal queued")

	out = h.mustRun(t, "--json", "queue", "list")
	var queued []signalqueue.Signal
	require.NoError(t, json.Unmarshal([]byte(out), &queued))
	require.Len(t, queued, 1)
	assert.Equal(t, "noise", queued[0].SignalType)
	assert.Equal(t, "spot-1", queued[0].SpotID)

	h.origin.SetOffline(false)
	out = h.mustRun(t, "queue", "list")
	assert.Equal(t, "Queue is empty\n", out)
	require.Len(t, h.origin.Signals(), 1)
	assert.Equal(t, "noise", h.origin.Signals()[0].SignalType)
}

func TestSignalCommand_SentAndRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sqlite")

	out := h.mustRun(t, "signal", "calm", "--here")
	assert.Equal(t, "Signal sent, thank you\n", out)

	h.origin.RejectSignals("daily_limit", time.Time{})
	out = h.mustRun(t, "signal", "calm", "--here")
	assert.Equal(t, "Daily signal limit reached\n", out)

	out = h.mustRun(t, "queue", "flush")
	assert.Equal(t, "Sent 0, dropped 0, still queued 0\n", out)
}

func TestSettingsCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sqlite")

	assert.Equal(t, "Signals: on\n", h.mustRun(t, "settings"))
	assert.Equal(t, "Signals: off\n", h.mustRun(t, "settings", "signals", "off"))
	assert.Equal(t, "Signals: off\n", h.mustRun(t, "settings"))

	_, err := h.run(t, "signal", "calm", "--here")
	assert.ErrorIs(t, err, spot.ErrSignalsDisabled)
	assert.Empty(t, h.origin.Signals())

	_, err = h.run(t, "settings", "signals", "maybe")
	assert.Error(t, err)

	assert.Equal(t, "Signals: on\n", h.mustRun(t, "settings", "signals", "on"))
}

func TestDeviceCommand_StableToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sqlite")

	first := h.mustRun(t, "device")
	second := h.mustRun(t, "device")
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "memory")

	out := h.mustRun(t, "status")
	assert.Contains(t, out, "API:      online")
	assert.Contains(t, out, "Queue:    0 signal(s)")
	assert.Contains(t, out, "Signals:  on")

	h.origin.SetOffline(true)
	out = h.mustRun(t, "status")
	assert.Contains(t, out, "API:      offline")
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "memory")

	out := h.mustRun(t, "config")
	assert.Contains(t, out, "base_url: "+h.origin.URL)
	assert.Contains(t, out, "backend: memory")
	assert.Contains(t, out, "timeout: 15s")
	assert.NotContains(t, out, "hunter2")
}

func TestExecute_ExitCodes(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer

	code := Execute(t.Context(), []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "device"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error:")

	stdout.Reset()
	code = Execute(t.Context(), []string{"--version"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "staysense version")
}
