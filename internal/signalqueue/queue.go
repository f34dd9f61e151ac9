// Package signalqueue holds signals that could not be delivered and retries
// them, oldest first, whenever the API is known to be reachable.
package signalqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staysense/staysense-go/internal/apiclient"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/observability/metrics"
)

// KnownSignalTypes are the signal types the server accepts.
var KnownSignalTypes = []string{"calm", "noise", "knock", "police"}

// Signal is one queued submission. ID is local only and never sent.
type Signal struct {
	ID          string    `json:"id"`
	SpotID      string    `json:"spot_id"`
	SignalType  string    `json:"signal_type"`
	DeviceToken string    `json:"device_token"`
	Timestamp   time.Time `json:"timestamp"`
}

// Payload returns the wire representation.
func (s Signal) Payload() apiclient.Signal {
	return apiclient.Signal{
		SpotID:      s.SpotID,
		SignalType:  s.SignalType,
		DeviceToken: s.DeviceToken,
		Timestamp:   s.Timestamp,
	}
}

// Validate checks the fields the server requires.
func (s Signal) Validate() error {
	switch {
	case s.SpotID == "":
		return invalidSignal("spot_id is required", s)
	case !slices.Contains(KnownSignalTypes, s.SignalType):
		return invalidSignal("unknown signal type", s)
	case s.DeviceToken == "":
		return invalidSignal("device_token is required", s)
	}
	return nil
}

func invalidSignal(msg string, s Signal) error {
	return errors.Newf("invalid signal: %s", msg).
		Component("signalqueue").
		Category(errors.CategoryValidation).
		Context("spot_id", s.SpotID).
		Context("signal_type", s.SignalType).
		Build()
}

// Submitter delivers one signal. A *apiclient.RejectionError in the returned
// error chain marks a permanent rejection.
type Submitter interface {
	SubmitSignal(ctx context.Context, s apiclient.Signal) (*apiclient.SignalAck, error)
}

// Rejection describes a signal dropped because the server will never accept it.
type Rejection struct {
	Signal        Signal    `json:"signal"`
	Code          string    `json:"code"`
	NextAllowedAt time.Time `json:"next_allowed_at,omitzero"`
}

// FlushReport summarizes one flush pass.
type FlushReport struct {
	Attempted int         `json:"attempted"`
	Sent      int         `json:"sent"`
	Dropped   []Rejection `json:"dropped,omitempty"`
	Failed    int         `json:"failed"`
	Remaining int         `json:"remaining"`
	Skipped   bool        `json:"skipped,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

// Queue is the durable FIFO of undelivered signals.
type Queue struct {
	store     kvstore.Store
	submitter Submitter
	logger    logger.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex // guards signals and their persistence
	signals []Signal
	// loaded is false until the persisted queue has been read. Nothing is
	// written before that, so unread signals are never overwritten.
	loaded bool

	flushMu sync.Mutex // held for the duration of a flush pass
}

// New creates an empty queue. Call Load to restore persisted signals.
func New(store kvstore.Store, submitter Submitter, log logger.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		store:     store,
		submitter: submitter,
		logger:    log.Module("signalqueue"),
		metrics:   m,
	}
}

// Load replaces the in-memory queue with the persisted one. A missing or
// corrupt value yields an empty queue and entries without an id get one.
// When the store cannot be read the queue stays unloaded: the read is
// retried before the next write or flush, and nothing is persisted until it
// succeeds.
func (q *Queue) Load(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.loaded {
		q.signals = nil
		q.loaded = false
	}
	if err := q.syncLocked(ctx); err != nil {
		q.logger.Warn("signal queue unreadable, will retry before the next write", logger.Error(err))
		return
	}
	q.logger.Debug("signal queue loaded", logger.Int("length", len(q.signals)))
}

// syncLocked reads the persisted queue if it has not been read yet. Signals
// queued in memory meanwhile are kept behind the persisted ones. q.mu must
// be held.
func (q *Queue) syncLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}

	var stored []Signal
	found, err := kvstore.ReadJSON(ctx, q.store, kvstore.KeySignalQueue, &stored)
	if err != nil {
		return err
	}
	q.loaded = true

	pending := q.signals
	signals := make([]Signal, 0, len(stored)+len(pending))
	seen := make(map[string]struct{}, len(stored))
	dirty := len(pending) > 0
	if found {
		for _, s := range stored {
			if s.SpotID == "" {
				continue
			}
			if s.ID == "" {
				s.ID = uuid.NewString()
				dirty = true
			}
			seen[s.ID] = struct{}{}
			signals = append(signals, s)
		}
	}
	for _, s := range pending {
		if _, ok := seen[s.ID]; !ok {
			signals = append(signals, s)
		}
	}
	q.signals = signals
	q.metrics.QueueLength(len(signals))

	if dirty {
		return q.persistLocked(ctx)
	}
	return nil
}

// Enqueue appends s and persists the queue. The stored copy is returned with
// its id set. When the queue cannot be persisted the signal is still kept
// in memory and returned together with the storage error.
func (q *Queue) Enqueue(ctx context.Context, s Signal) (Signal, error) {
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.syncLocked(ctx)
	q.signals = append(q.signals, s)
	q.metrics.QueueLength(len(q.signals))
	if err == nil {
		err = q.persistLocked(ctx)
	}

	q.logger.Info("signal queued",
		logger.String("id", s.ID),
		logger.String("spot_id", s.SpotID),
		logger.String("signal_type", s.SignalType),
		logger.Int("length", len(q.signals)),
		logger.Bool("persisted", err == nil))
	return s, err
}

// Snapshot returns a copy of the queue in FIFO order.
func (q *Queue) Snapshot() []Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.signals)
}

// NeedsFlush reports whether a flush pass could deliver anything: signals
// are queued, or the persisted queue has not been read yet.
func (q *Queue) NeedsFlush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals) > 0 || !q.loaded
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// Flush submits a point-in-time snapshot of the queue, one signal at a time
// in FIFO order. Delivered and permanently rejected signals are removed;
// everything else stays in place for the next pass. Signals enqueued while
// the pass runs are untouched. If another flush is running the call returns
// immediately with Skipped set.
func (q *Queue) Flush(ctx context.Context) (FlushReport, error) {
	if !q.flushMu.TryLock() {
		q.metrics.Flush("skipped")
		return FlushReport{Skipped: true, Remaining: q.Len()}, nil
	}
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if err := q.syncLocked(ctx); err != nil {
		q.logger.Warn("flushing unloaded signal queue", logger.Error(err))
	}
	snapshot := slices.Clone(q.signals)
	q.mu.Unlock()

	report := FlushReport{}
	if len(snapshot) == 0 {
		return report, nil
	}

	resolved := make(map[string]struct{}, len(snapshot))
	var cancelErr error
	for _, s := range snapshot {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			report.Cancelled = true
			break
		}

		report.Attempted++
		_, err := q.submitter.SubmitSignal(ctx, s.Payload())
		if err == nil {
			resolved[s.ID] = struct{}{}
			report.Sent++
			q.metrics.SignalOutcome("flushed")
			continue
		}
		if rej, ok := apiclient.AsRejection(err); ok {
			resolved[s.ID] = struct{}{}
			report.Dropped = append(report.Dropped, Rejection{
				Signal:        s,
				Code:          rej.Code,
				NextAllowedAt: rej.NextAllowedAt,
			})
			q.metrics.SignalOutcome("dropped")
			q.logger.Warn("dropping rejected signal",
				logger.String("id", s.ID),
				logger.String("spot_id", s.SpotID),
				logger.String("code", rej.Code))
			continue
		}
		report.Failed++
		q.logger.Debug("signal still undeliverable",
			logger.String("id", s.ID),
			logger.Error(err))
	}

	q.mu.Lock()
	if len(resolved) > 0 {
		// Resolved signals may only exist in memory while the store is
		// unreadable; the merge still has to happen before any write.
		syncErr := q.syncLocked(context.WithoutCancel(ctx))
		q.signals = slices.DeleteFunc(q.signals, func(s Signal) bool {
			_, ok := resolved[s.ID]
			return ok
		})
		if syncErr == nil {
			_ = q.persistLocked(ctx)
		}
	}
	report.Remaining = len(q.signals)
	q.metrics.QueueLength(report.Remaining)
	q.mu.Unlock()

	switch {
	case report.Cancelled:
		q.metrics.Flush("cancelled")
	case report.Failed > 0:
		q.metrics.Flush("partial")
	default:
		q.metrics.Flush("completed")
	}
	q.logger.Info("signal queue flushed",
		logger.Int("attempted", report.Attempted),
		logger.Int("sent", report.Sent),
		logger.Int("dropped", len(report.Dropped)),
		logger.Int("remaining", report.Remaining))

	return report, cancelErr
}

// persistLocked writes the queue. q.mu must be held and the queue loaded.
// The removal of resolved signals is persisted with a context that survives
// cancellation of the pass.
func (q *Queue) persistLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := kvstore.SaveJSON(ctx, q.store, kvstore.KeySignalQueue, q.signals); err != nil {
		q.logger.Error("failed to persist signal queue", logger.Error(err))
		return err
	}
	return nil
}
