// Package monitor tracks whether the StaySense API is reachable. Only a
// completed probe changes the belief; connectivity hints from the platform
// merely trigger an earlier probe.
package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/staysense/staysense-go/internal/apiclient"
	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/observability/metrics"
)

// Defaults used when Options leave a field zero.
const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 10 * time.Second
)

// HealthChecker performs the liveness request.
type HealthChecker interface {
	Health(ctx context.Context) (*apiclient.HealthResponse, error)
}

// State is the current reachability belief.
type State string

// Reachability states.
const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Status is a snapshot of the monitor.
type Status struct {
	State       State               `json:"state"`
	LastCheck   time.Time           `json:"last_check,omitzero"`
	LastSuccess time.Time           `json:"last_success,omitzero"`
	Latency     time.Duration       `json:"latency_ns"`
	LastError   string              `json:"last_error,omitempty"`
	Freshness   apiclient.Freshness `json:"freshness"`
	Sources     []apiclient.Source  `json:"sources,omitempty"`
}

// Online reports whether the last probe succeeded.
func (s Status) Online() bool { return s.State == StateOnline }

// Options configures a Monitor.
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Monitor probes the API on a fixed interval and on demand.
type Monitor struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   logger.Logger
	metrics  *metrics.Metrics
	bus      events.Publisher
	now      func() time.Time

	probeMu sync.Mutex // serializes probes

	mu     sync.RWMutex
	status Status
	hooks  []func(ctx context.Context)

	notifyCh chan bool
}

// New creates a Monitor. bus may be nil.
func New(checker HealthChecker, opts Options, log logger.Logger, m *metrics.Metrics, bus events.Publisher) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Monitor{
		checker:  checker,
		interval: opts.Interval,
		timeout:  opts.ProbeTimeout,
		logger:   log.Module("monitor"),
		metrics:  m,
		bus:      bus,
		now:      time.Now,
		status:   Status{State: StateUnknown},
		notifyCh: make(chan bool, 1),
	}
}

// OnReachable registers fn to run after every successful probe.
func (m *Monitor) OnReachable(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Status returns the current belief.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// NotifyConnectivity asks Run for an immediate probe. The reported flag is
// only logged; it never changes the status.
func (m *Monitor) NotifyConnectivity(online bool) {
	m.logger.Debug("connectivity change reported", logger.Bool("online", online))
	select {
	case m.notifyCh <- online:
	default:
		// A probe is already pending.
	}
}

// Probe checks the API once, records the result and, on success, runs the
// reachable hooks.
func (m *Monitor) Probe(ctx context.Context) Status {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	start := m.now()
	health, err := m.checker.Health(probeCtx)
	cancel()
	latency := m.now().Sub(start)

	m.mu.Lock()
	prev := m.status
	next := prev
	next.LastCheck = m.now()
	if err != nil {
		next.State = StateOffline
		next.LastError = err.Error()
	} else {
		next.State = StateOnline
		next.LastError = ""
		next.LastSuccess = next.LastCheck
		next.Latency = latency
		next.Freshness = health.Health
		next.Sources = health.Sources
	}
	m.status = next
	hooks := append(([]func(context.Context))(nil), m.hooks...)
	m.mu.Unlock()

	m.metrics.Probe(err == nil, latency)
	m.report(prev, next, err)

	if err == nil {
		for _, hook := range hooks {
			if ctx.Err() != nil {
				break
			}
			m.safeHook(ctx, hook)
		}
	}
	return next
}

func (m *Monitor) report(prev, next Status, err error) {
	props := map[string]any{
		"state":      string(next.State),
		"latency_ms": next.Latency.Milliseconds(),
	}
	m.bus.Publish(&events.Event{Kind: events.KindProbe, Properties: props})

	if next.State == StateOnline && len(next.Freshness.StaleSources) > 0 &&
		(prev.State != StateOnline || !slices.Equal(prev.Freshness.StaleSources, next.Freshness.StaleSources)) {
		m.bus.Publish(&events.Event{
			Kind:       events.KindProbe,
			Level:      events.LevelWarning,
			Message:    "Stale data sources: " + strings.Join(next.Freshness.StaleSources, ", "),
			Properties: map[string]any{"stale_sources": next.Freshness.StaleSources},
		})
	}

	if prev.State == next.State {
		return
	}
	if next.State == StateOnline {
		m.logger.Info("api reachable", logger.Duration("latency", next.Latency))
		m.bus.Publish(&events.Event{
			Kind:       events.KindConnectivity,
			Level:      events.LevelSuccess,
			Message:    fmt.Sprintf("Online (%d ms)", next.Latency.Milliseconds()),
			Properties: props,
		})
		return
	}
	m.logger.Warn("api unreachable", logger.Error(err))
	m.bus.Publish(&events.Event{
		Kind:       events.KindConnectivity,
		Level:      events.LevelWarning,
		Message:    "Offline: using cached data, signals will be queued",
		Properties: props,
	})
}

func (m *Monitor) safeHook(ctx context.Context, hook func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reachable hook panicked", logger.Any("panic", r))
		}
	}()
	hook(ctx)
}

// Run probes immediately, then every interval and whenever
// NotifyConnectivity is called, until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started",
		logger.Duration("interval", m.interval),
		logger.Duration("probe_timeout", m.timeout))

	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Probe(ctx)
		case <-m.notifyCh:
			m.Probe(ctx)
			ticker.Reset(m.interval)
		}
	}
}
