// Package spot loads scores with cache fallback and sends signals for the
// currently shown spot, queuing them when the API cannot be reached.
package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staysense/staysense-go/internal/apiclient"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/geo"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/observability/metrics"
	"github.com/staysense/staysense-go/internal/scorecache"
	"github.com/staysense/staysense-go/internal/signalqueue"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors.
var (
	ErrNoData              = errors.NewStd("no score data available")
	ErrSignalsDisabled     = errors.NewStd("signals are disabled")
	ErrNoSpot              = errors.NewStd("no spot loaded")
	ErrLocationUnavailable = errors.NewStd("location unavailable")
)

// ScoreFetcher performs the live score request.
type ScoreFetcher interface {
	Score(ctx context.Context, lat, lon float64, at time.Time) (json.RawMessage, error)
}

// LocationProvider returns the device position.
type LocationProvider interface {
	Location(ctx context.Context) (lat, lon float64, err error)
}

// TokenSource returns the device token.
type TokenSource interface {
	DeviceToken(ctx context.Context) (string, error)
}

// SignalToggle reports whether signals may be sent.
type SignalToggle interface {
	SignalsEnabled() bool
}

// Source tells where a score view came from.
type Source string

// Score sources.
const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// ScoreView is a score ready for display. FetchedAt is the time of the live
// fetch that produced the payload, which for cached views lies in the past.
type ScoreView struct {
	Key       string                 `json:"key"`
	Lat       float64                `json:"lat"`
	Lon       float64                `json:"lon"`
	Source    Source                 `json:"source"`
	FetchedAt time.Time              `json:"fetched_at"`
	SpotID    string                 `json:"spot_id"`
	Summary   apiclient.ScoreSummary `json:"summary"`
	Payload   json.RawMessage        `json:"payload"`
}

// FromCache reports whether the view is a cached fallback.
func (v *ScoreView) FromCache() bool { return v.Source == SourceCache }

// Outcome is the result of sending a signal.
type Outcome string

// Signal outcomes.
const (
	OutcomeSent     Outcome = "sent"
	OutcomeRejected Outcome = "rejected"
	OutcomeQueued   Outcome = "queued"
)

// SignalOutcome describes what happened to a signal.
type SignalOutcome struct {
	Outcome       Outcome            `json:"outcome"`
	Signal        signalqueue.Signal `json:"signal"`
	Code          string             `json:"code,omitempty"`
	NextAllowedAt time.Time          `json:"next_allowed_at,omitzero"`
	Unsaved       bool               `json:"unsaved,omitempty"` // queued in memory only
	Message       string             `json:"message"`
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Fetcher  ScoreFetcher
	Sender   signalqueue.Submitter
	Cache    *scorecache.Cache
	Queue    *signalqueue.Queue
	Tokens   TokenSource
	Settings SignalToggle
	Location LocationProvider // optional
	Bus      events.Publisher // optional
	Metrics  *metrics.Metrics // optional
	Logger   logger.Logger
}

// Service implements score retrieval and signal sending.
type Service struct {
	deps   Deps
	logger logger.Logger
	now    func() time.Time
	group  singleflight.Group

	mu      sync.RWMutex
	current *ScoreView

	locationReported atomic.Bool
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.Bus == nil {
		deps.Bus = events.Discard{}
	}
	return &Service{
		deps:   deps,
		logger: deps.Logger.Module("spot"),
		now:    time.Now,
	}
}

// Current returns the most recently displayed view, or nil.
func (s *Service) Current() *ScoreView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

func (s *Service) setCurrent(v *ScoreView) {
	if v.SpotID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.current = &cp
}

// LoadScore fetches the live score and caches it. When the fetch fails for
// any reason the cached score for the same quantized coordinate is returned
// with Source set to SourceCache; without one the result is ErrNoData.
// Concurrent loads for the same key share one fetch.
func (s *Service) LoadScore(ctx context.Context, lat, lon float64) (*ScoreView, error) {
	if err := geo.Validate(lat, lon); err != nil {
		return nil, err
	}
	key := geo.Key(lat, lon)

	ch := s.group.DoChan(key, func() (any, error) {
		return s.loadScore(context.WithoutCancel(ctx), key, lat, lon)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		view := *res.Val.(*ScoreView)
		return &view, nil
	}
}

func (s *Service) loadScore(ctx context.Context, key string, lat, lon float64) (*ScoreView, error) {
	fetchedAt := s.now().UTC()
	raw, fetchErr := s.deps.Fetcher.Score(ctx, lat, lon, fetchedAt)
	if fetchErr == nil {
		entry := s.deps.Cache.PutScore(ctx, lat, lon, raw, fetchedAt)
		view := s.view(entry, lat, lon, SourceLive)
		s.setCurrent(view)
		s.deps.Metrics.ScoreLoad(string(SourceLive))
		s.publishScore(view, events.LevelSuccess, "Score updated")
		return view, nil
	}

	s.logger.Warn("live score unavailable, trying cache",
		logger.String("key", key),
		logger.Error(fetchErr))

	entry, ok := s.deps.Cache.FindKey(key)
	if !ok {
		s.deps.Metrics.ScoreLoad("none")
		s.deps.Bus.Publish(&events.Event{
			Kind:       events.KindScoreLoaded,
			Level:      events.LevelError,
			Message:    "No data available for this location",
			Properties: map[string]any{"key": key},
		})
		return nil, errors.New(fmt.Errorf("%w for %s: %w", ErrNoData, key, fetchErr)).
			Component("spot").
			Category(errors.CategoryNotFound).
			Context("key", key).
			Build()
	}

	view := s.view(entry, lat, lon, SourceCache)
	s.setCurrent(view)
	s.deps.Metrics.ScoreLoad(string(SourceCache))
	s.publishScore(view, events.LevelWarning,
		"Offline: showing cached score from "+view.FetchedAt.Local().Format("2006-01-02 15:04"))
	return view, nil
}

func (s *Service) view(entry scorecache.Entry, lat, lon float64, src Source) *ScoreView {
	summary, err := apiclient.ParseScore(entry.Payload)
	if err != nil {
		s.logger.Debug("score payload has unexpected shape", logger.Error(err))
	}
	return &ScoreView{
		Key:       entry.Key,
		Lat:       lat,
		Lon:       lon,
		Source:    src,
		FetchedAt: entry.FetchedAt,
		SpotID:    summary.SpotID,
		Summary:   summary,
		Payload:   entry.Payload,
	}
}

func (s *Service) publishScore(v *ScoreView, level events.Level, msg string) {
	s.deps.Bus.Publish(&events.Event{
		Kind:    events.KindScoreLoaded,
		Level:   level,
		Message: msg,
		Properties: map[string]any{
			"key":        v.Key,
			"source":     string(v.Source),
			"spot_id":    v.SpotID,
			"score":      v.Summary.Score,
			"ampel":      v.Summary.Ampel,
			"fetched_at": v.FetchedAt,
		},
	})
}

// LoadHere loads the score at the device position. A location failure is
// announced on the bus once per Service and returns ErrLocationUnavailable.
func (s *Service) LoadHere(ctx context.Context) (*ScoreView, error) {
	if s.deps.Location == nil {
		return nil, s.locationFailed(errors.NewStd("no location provider configured"))
	}
	lat, lon, err := s.deps.Location.Location(ctx)
	if err != nil {
		return nil, s.locationFailed(err)
	}
	return s.LoadScore(ctx, lat, lon)
}

func (s *Service) locationFailed(cause error) error {
	if s.locationReported.CompareAndSwap(false, true) {
		s.logger.Warn("location unavailable", logger.Error(cause))
		s.deps.Bus.Publish(&events.Event{
			Kind:    events.KindLocation,
			Level:   events.LevelWarning,
			Message: "Location unavailable: enter coordinates manually",
		})
	}
	return fmt.Errorf("%w: %w", ErrLocationUnavailable, cause)
}

// SendSignal submits a signal for the current spot. Permanent rejections are
// reported and not queued; any other failure queues the signal for a later
// flush.
func (s *Service) SendSignal(ctx context.Context, signalType string) (*SignalOutcome, error) {
	if !s.deps.Settings.SignalsEnabled() {
		return nil, ErrSignalsDisabled
	}
	current := s.Current()
	if current == nil || current.SpotID == "" {
		return nil, ErrNoSpot
	}

	token, err := s.deps.Tokens.DeviceToken(ctx)
	if err != nil {
		return nil, err
	}
	sig := signalqueue.Signal{
		SpotID:      current.SpotID,
		SignalType:  signalType,
		DeviceToken: token,
		Timestamp:   s.now().UTC().Truncate(time.Second),
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}

	_, err = s.deps.Sender.SubmitSignal(ctx, sig.Payload())
	if err == nil {
		return s.signalOutcome(&SignalOutcome{
			Outcome: OutcomeSent,
			Signal:  sig,
			Message: "Signal sent, thank you",
		}, events.LevelSuccess), nil
	}

	if rej, ok := apiclient.AsRejection(err); ok {
		return s.signalOutcome(&SignalOutcome{
			Outcome:       OutcomeRejected,
			Signal:        sig,
			Code:          rej.Code,
			NextAllowedAt: rej.NextAllowedAt,
			Message:       RejectionMessage(rej.Code, rej.NextAllowedAt),
		}, events.LevelWarning), nil
	}

	s.logger.Info("signal send failed, queuing", logger.Error(err))
	queued, qerr := s.deps.Queue.Enqueue(ctx, sig)
	if qerr != nil {
		if queued.ID == "" {
			return nil, qerr
		}
		s.logger.Warn("queued signal not saved", logger.Error(qerr))
		return s.signalOutcome(&SignalOutcome{
			Outcome: OutcomeQueued,
			Signal:  queued,
			Unsaved: true,
			Message: "Offline: signal queued but could not be saved, it is lost if the app closes before it is sent",
		}, events.LevelWarning), nil
	}
	return s.signalOutcome(&SignalOutcome{
		Outcome: OutcomeQueued,
		Signal:  queued,
		Message: "Offline: signal queued and will be sent automatically",
	}, events.LevelInfo), nil
}

func (s *Service) signalOutcome(o *SignalOutcome, level events.Level) *SignalOutcome {
	s.deps.Metrics.SignalOutcome(string(o.Outcome))
	props := map[string]any{
		"outcome":     string(o.Outcome),
		"spot_id":     o.Signal.SpotID,
		"signal_type": o.Signal.SignalType,
	}
	if o.Code != "" {
		props["code"] = o.Code
	}
	if !o.NextAllowedAt.IsZero() {
		props["next_allowed_at"] = o.NextAllowedAt
	}
	s.deps.Bus.Publish(&events.Event{
		Kind:       events.KindSignal,
		Level:      level,
		Message:    o.Message,
		Properties: props,
	})
	return o
}

// RejectionMessage renders the user-facing text for a permanent rejection.
func RejectionMessage(code string, next time.Time) string {
	switch code {
	case apiclient.CodeDailyLimit:
		return "Daily signal limit reached"
	case apiclient.CodeCooldownActive:
		if next.IsZero() {
			return "Signal already sent for this spot recently"
		}
		return "Signal already sent for this spot, next possible at " + next.Local().Format("2006-01-02 15:04")
	default:
		return "Signal rejected: " + code
	}
}
