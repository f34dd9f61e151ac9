package signalqueue

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/staysense/staysense-go/internal/apiclient"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// fakeSubmitter records submissions and answers from a per-spot script.
type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []string
	results map[string]error
	// hook runs before answering, outside the lock.
	hook func(spotID string)
}

func (f *fakeSubmitter) SubmitSignal(_ context.Context, s apiclient.Signal) (*apiclient.SignalAck, error) {
	if f.hook != nil {
		f.hook(s.SpotID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s.SpotID)
	if err := f.results[s.SpotID]; err != nil {
		return nil, err
	}
	return &apiclient.SignalAck{Accepted: true}, nil
}

func (f *fakeSubmitter) setResult(spotID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = map[string]error{}
	}
	f.results[spotID] = err
}

func (f *fakeSubmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func signal(spot string) Signal {
	return Signal{
		SpotID:      spot,
		SignalType:  "noise",
		DeviceToken: "device-token-0123456789",
		Timestamp:   time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC),
	}
}

func spots(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.SpotID)
	}
	return out
}

func cooldown(next time.Time) error {
	return errors.New(&apiclient.RejectionError{Code: apiclient.CodeCooldownActive, NextAllowedAt: next}).
		Category(errors.CategoryRejected).
		Build()
}

func transient() error {
	return errors.Newf("connection refused").Category(errors.CategoryNetwork).Build()
}

func TestFlush_FIFOWithPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	sub := &fakeSubmitter{}
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)

	for _, s := range []string{"A", "B", "C"} {
		_, err := q.Enqueue(ctx, signal(s))
		require.NoError(t, err)
	}

	sub.setResult("B", transient())
	report, err := q.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, sub.Calls(), "submitted in FIFO order")
	assert.Equal(t, []string{"B"}, spots(q.Snapshot()))
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Remaining)

	// B keeps its place ahead of later signals.
	_, err = q.Enqueue(ctx, signal("D"))
	require.NoError(t, err)
	sub.setResult("B", nil)
	_, err = q.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "B", "D"}, sub.Calls())
	assert.Zero(t, q.Len())
}

func TestFlush_CooldownRejectionIsDroppedForGood(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	next := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	sub := &fakeSubmitter{}
	sub.setResult("A", cooldown(next))
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)

	_, err := q.Enqueue(ctx, signal("A"))
	require.NoError(t, err)

	report, err := q.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, apiclient.CodeCooldownActive, report.Dropped[0].Code)
	assert.Equal(t, next, report.Dropped[0].NextAllowedAt)
	assert.Equal(t, "A", report.Dropped[0].Signal.SpotID)
	assert.Zero(t, q.Len())

	_, err = q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sub.Calls(), "rejected signal must never be resubmitted")
}

func TestFlush_DailyLimitIsPermanent(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	sub := &fakeSubmitter{}
	sub.setResult("A", errors.New(&apiclient.RejectionError{Code: apiclient.CodeDailyLimit}).Build())
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)

	_, err := q.Enqueue(ctx, signal("A"))
	require.NoError(t, err)

	report, err := q.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Dropped, 1)
	assert.True(t, report.Dropped[0].NextAllowedAt.IsZero())
	assert.Zero(t, q.Len())
}

func TestFlush_SignalsEnqueuedDuringPassArePreserved(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	sub := &fakeSubmitter{}
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)

	_, err := q.Enqueue(ctx, signal("A"))
	require.NoError(t, err)

	var once sync.Once
	sub.hook = func(string) {
		once.Do(func() {
			_, err := q.Enqueue(ctx, signal("LATE"))
			assert.NoError(t, err)
		})
	}

	report, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted, "late signal is not part of the snapshot")
	assert.Equal(t, []string{"LATE"}, spots(q.Snapshot()))
	assert.Equal(t, 1, report.Remaining)
}

func TestFlush_OverlappingCallIsSkipped(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	entered := make(chan struct{})
	release := make(chan struct{})
	sub := &fakeSubmitter{}
	var once sync.Once
	sub.hook = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)
	_, err := q.Enqueue(ctx, signal("A"))
	require.NoError(t, err)

	done := make(chan FlushReport)
	go func() {
		r, _ := q.Flush(ctx)
		done <- r
	}()
	<-entered

	skipped, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, 1, skipped.Remaining)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, []string{"A"}, sub.Calls(), "no double submission")
}

func TestFlush_CancelledContextKeepsUnprocessed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	sub := &fakeSubmitter{}
	sub.hook = func(spot string) {
		if spot == "A" {
			cancel()
		}
	}
	q := New(kvstore.NewMemoryStore(), sub, testLogger(), nil)
	for _, s := range []string{"A", "B", "C"} {
		_, err := q.Enqueue(t.Context(), signal(s))
		require.NoError(t, err)
	}

	report, err := q.Flush(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, []string{"A"}, sub.Calls())
	assert.Equal(t, []string{"B", "C"}, spots(q.Snapshot()))
}

func TestFlush_PersistsResult(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := kvstore.NewMemoryStore()
	sub := &fakeSubmitter{}
	sub.setResult("B", transient())

	q := New(store, sub, testLogger(), nil)
	for _, s := range []string{"A", "B"} {
		_, err := q.Enqueue(ctx, signal(s))
		require.NoError(t, err)
	}
	_, err := q.Flush(ctx)
	require.NoError(t, err)

	reloaded := New(store, sub, testLogger(), nil)
	reloaded.Load(ctx)
	assert.Equal(t, []string{"B"}, spots(reloaded.Snapshot()))
}

func TestFlush_Empty(t *testing.T) {
	t.Parallel()
	q := New(kvstore.NewMemoryStore(), &fakeSubmitter{}, testLogger(), nil)
	report, err := q.Flush(t.Context())
	require.NoError(t, err)
	assert.Equal(t, FlushReport{}, report)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stored    string
		wantSpots []string
	}{
		{"corrupt", `[{"spot_id":`, []string{}},
		{"not a list", `{"spot_id":"A"}`, []string{}},
		{"legacy entries without id", `[{"spot_id":"A","signal_type":"calm"},{"spot_id":"B","signal_type":"noise"}]`, []string{"A", "B"}},
		{"drops entries without spot", `[{"signal_type":"calm"},{"spot_id":"B","signal_type":"noise"}]`, []string{"B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := kvstore.NewMemoryStore()
			require.NoError(t, store.Set(ctx, kvstore.KeySignalQueue, []byte(tt.stored)))

			q := New(store, &fakeSubmitter{}, testLogger(), nil)
			q.Load(ctx)
			assert.Equal(t, tt.wantSpots, spots(q.Snapshot()))
			for _, s := range q.Snapshot() {
				assert.NotEmpty(t, s.ID)
			}
		})
	}
}

func TestLoad_AssignedIDsAreStable(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, kvstore.KeySignalQueue, []byte(`[{"spot_id":"A","signal_type":"calm"}]`)))

	first := New(store, &fakeSubmitter{}, testLogger(), nil)
	first.Load(ctx)
	second := New(store, &fakeSubmitter{}, testLogger(), nil)
	second.Load(ctx)

	assert.Equal(t, first.Snapshot()[0].ID, second.Snapshot()[0].ID)
}

func TestEnqueue_Validates(t *testing.T) {
	t.Parallel()
	q := New(kvstore.NewMemoryStore(), &fakeSubmitter{}, testLogger(), nil)

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"missing spot", func(s *Signal) { s.SpotID = "" }},
		{"unknown type", func(s *Signal) { s.SignalType = "party" }},
		{"missing token", func(s *Signal) { s.DeviceToken = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := signal("A")
			tt.mutate(&s)
			_, err := q.Enqueue(t.Context(), s)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
	assert.Zero(t, q.Len())
}

func TestSignalPayloadOmitsLocalID(t *testing.T) {
	t.Parallel()
	s := signal("A")
	s.ID = "local"
	p := s.Payload()
	assert.Equal(t, apiclient.Signal{
		SpotID:      "A",
		SignalType:  "noise",
		DeviceToken: "device-token-0123456789",
		Timestamp:   s.Timestamp,
	}, p)
}

// flakyStore fails reads and writes while its outage is on, the way a
// SQLite file locked by another process does.
type flakyStore struct {
	*kvstore.MemoryStore
	mu         sync.Mutex
	readFails  bool
	writeFails bool
}

func (s *flakyStore) set(readFails, writeFails bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFails, s.writeFails = readFails, writeFails
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	fail := s.readFails
	s.mu.Unlock()
	if fail {
		return nil, errors.NewStd("database is locked")
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	fail := s.writeFails
	s.mu.Unlock()
	if fail {
		return errors.NewStd("database is locked")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func persistedSpots(t *testing.T, store kvstore.Store) []string {
	t.Helper()
	q := New(store, &fakeSubmitter{}, testLogger(), nil)
	q.Load(t.Context())
	return spots(q.Snapshot())
}

func TestLoad_ReadFailureNeverOverwritesStoredSignals(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}

	first := New(store, &fakeSubmitter{}, testLogger(), nil)
	for _, s := range []string{"A", "B"} {
		_, err := first.Enqueue(ctx, signal(s))
		require.NoError(t, err)
	}

	store.set(true, false)
	q := New(store, &fakeSubmitter{}, testLogger(), nil)
	q.Load(ctx)
	assert.Zero(t, q.Len())
	assert.True(t, q.NeedsFlush(), "an unread queue may still hold signals")

	store.set(false, false)
	_, err := q.Enqueue(ctx, signal("C"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, spots(q.Snapshot()))
	assert.Equal(t, []string{"A", "B", "C"}, persistedSpots(t, store))
}

func TestEnqueue_WhileUnreadableKeepsSignalInMemory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	_, err := New(store, &fakeSubmitter{}, testLogger(), nil).Enqueue(ctx, signal("A"))
	require.NoError(t, err)

	store.set(true, false)
	q := New(store, &fakeSubmitter{}, testLogger(), nil)
	q.Load(ctx)

	queued, err := q.Enqueue(ctx, signal("B"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))
	assert.NotEmpty(t, queued.ID)
	assert.Equal(t, []string{"B"}, spots(q.Snapshot()))

	store.set(false, false)
	assert.Equal(t, []string{"A"}, persistedSpots(t, store), "nothing was written while unread")

	_, err = q.Enqueue(ctx, signal("C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, spots(q.Snapshot()))
	assert.Equal(t, []string{"A", "B", "C"}, persistedSpots(t, store))
}

func TestEnqueue_PersistFailureIsReported(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	q := New(store, &fakeSubmitter{}, testLogger(), nil)
	q.Load(ctx)

	store.set(false, true)
	queued, err := q.Enqueue(ctx, signal("A"))
	require.Error(t, err)
	assert.Equal(t, "A", queued.SpotID)
	assert.Equal(t, 1, q.Len())
}

func TestFlush_LoadsUnreadQueueFirst(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	for _, s := range []string{"A", "B"} {
		_, err := New(store, &fakeSubmitter{}, testLogger(), nil).Enqueue(ctx, signal(s))
		require.NoError(t, err)
	}

	store.set(true, false)
	sub := &fakeSubmitter{}
	q := New(store, sub, testLogger(), nil)
	q.Load(ctx)

	report, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Equal(t, []string{"A", "B"}, persistedSpots(t, &flakyStore{MemoryStore: store.MemoryStore}))

	store.set(false, false)
	report, err = q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, []string{"A", "B"}, sub.Calls())
	assert.False(t, q.NeedsFlush())
	assert.Empty(t, persistedSpots(t, store))
}
