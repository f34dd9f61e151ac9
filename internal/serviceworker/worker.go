// Package serviceworker is the caching request router placed in front of the
// StaySense origin. A versioned Worker installs a core asset manifest,
// activates by discarding every other cache partition, then answers GET
// requests with a per-route strategy so the client keeps working offline.
package serviceworker

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/observability/metrics"
)

// State is the lifecycle state of a Worker.
type State string

// Worker states.
const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Partition name prefixes.
const (
	CorePrefix    = "staysense-core-"
	RuntimePrefix = "staysense-runtime-"
)

// Config describes one worker version.
type Config struct {
	Version     string
	CoreAssets  []string
	ShellPath   string
	SkipWaiting bool
}

// Worker is one version of the caching router.
type Worker struct {
	cfg     Config
	storage Storage
	fetcher Fetcher
	logger  logger.Logger
	metrics *metrics.Metrics
	bus     events.Publisher
	now     func() time.Time

	mu    sync.RWMutex
	state State
}

// NewWorker creates a worker in StateNew. m and bus may be nil.
func NewWorker(cfg Config, storage Storage, fetcher Fetcher, log logger.Logger, m *metrics.Metrics, bus events.Publisher) *Worker {
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/index.html"
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Worker{
		cfg:     cfg,
		storage: storage,
		fetcher: fetcher,
		logger:  log.Module("serviceworker").With(logger.String("version", cfg.Version)),
		metrics: m,
		bus:     bus,
		now:     time.Now,
		state:   StateNew,
	}
}

// Version returns the worker version tag.
func (w *Worker) Version() string { return w.cfg.Version }

// CoreName returns the name of the install-time partition.
func (w *Worker) CoreName() string { return CorePrefix + w.cfg.Version }

// RuntimeName returns the name of the lazily filled partition.
func (w *Worker) RuntimeName() string { return RuntimePrefix + w.cfg.Version }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	w.logger.Debug("worker state changed",
		logger.String("from", string(prev)),
		logger.String("to", string(s)))
	w.bus.Publish(&events.Event{
		Kind:       events.KindWorkerState,
		Properties: map[string]any{"version": w.cfg.Version, "state": string(s)},
	})
}

// Install fetches every core asset and stores them in the core partition.
// Nothing is written unless every asset fetched with a 2xx status; on any
// failure the worker becomes redundant.
func (w *Worker) Install(ctx context.Context) error {
	if st := w.State(); st != StateNew {
		return fmt.Errorf("cannot install worker in state %s", st)
	}
	w.setState(StateInstalling)

	assets := make(map[string]*Response, len(w.cfg.CoreAssets))
	for _, asset := range w.cfg.CoreAssets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
		if err != nil {
			return w.installFailed(asset, err)
		}
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			return w.installFailed(asset, err)
		}
		if !resp.OK() {
			return w.installFailed(asset, fmt.Errorf("status %d", resp.Status))
		}
		resp.StoredAt = w.now().UTC()
		assets[RequestKey(req)] = resp
	}

	core := w.CoreName()
	existing, err := w.storage.Partitions(ctx)
	if err != nil {
		return w.installFailed("", err)
	}
	// A reinstall of the active version shares its core partition, which
	// must survive a failed write.
	created := !slices.Contains(existing, core)
	if err := w.storage.Open(ctx, core); err != nil {
		return w.installFailed("", err)
	}
	for _, key := range slices.Sorted(maps.Keys(assets)) {
		if err := w.storage.Put(ctx, core, key, assets[key]); err != nil {
			if created {
				if _, derr := w.storage.Delete(context.WithoutCancel(ctx), core); derr != nil {
					w.logger.Warn("failed to clean up partial core partition", logger.Error(derr))
				}
			}
			return w.installFailed(key, err)
		}
	}

	w.setState(StateInstalled)
	w.logger.Info("worker installed", logger.Int("core_assets", len(assets)))
	return nil
}

func (w *Worker) installFailed(asset string, cause error) error {
	w.setState(StateRedundant)
	w.logger.Warn("worker install failed",
		logger.String("asset", asset),
		logger.Error(cause))
	w.bus.Publish(&events.Event{
		Kind:    events.KindWorkerState,
		Level:   events.LevelWarning,
		Message: "Offline support could not be updated",
	})
	return errors.Newf("install %s failed at %q: %w", w.cfg.Version, asset, cause).
		Component("serviceworker").
		Category(errors.CategoryNetwork).
		Context("version", w.cfg.Version).
		Build()
}

// Activate opens this version's core and runtime partitions, deletes every
// other partition, then starts intercepting requests. Stale partitions are
// only deleted once both current partitions are open.
func (w *Worker) Activate(ctx context.Context) error {
	if st := w.State(); st != StateInstalled {
		return fmt.Errorf("cannot activate worker in state %s", st)
	}
	w.setState(StateActivating)

	keep := []string{w.CoreName(), w.RuntimeName()}
	for _, name := range keep {
		if err := w.storage.Open(ctx, name); err != nil {
			w.setState(StateInstalled)
			return w.storageError("open partition "+name, err)
		}
	}

	names, err := w.storage.Partitions(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return w.storageError("list partitions", err)
	}
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.setState(StateInstalled)
			return w.storageError("delete partition "+name, err)
		}
		w.logger.Info("deleted stale cache partition", logger.String("partition", name))
	}

	w.setState(StateActivated)
	w.logger.Info("worker activated")
	w.bus.Publish(&events.Event{
		Kind:    events.KindWorkerState,
		Level:   events.LevelSuccess,
		Message: "Offline support ready (" + w.cfg.Version + ")",
	})
	return nil
}

func (w *Worker) storageError(op string, err error) error {
	return errors.Newf("%s: %w", op, err).
		Component("serviceworker").
		Category(errors.CategoryStorage).
		Context("version", w.cfg.Version).
		Build()
}

func (w *Worker) retire() {
	if w.State() != StateRedundant {
		w.setState(StateRedundant)
	}
}

// PartitionInfo describes one stored partition.
type PartitionInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// Info is a diagnostic snapshot of a worker and its storage.
type Info struct {
	Version    string          `json:"version"`
	State      State           `json:"state"`
	Core       string          `json:"core_partition"`
	Runtime    string          `json:"runtime_partition"`
	Partitions []PartitionInfo `json:"partitions"`
}

// Info lists the worker state and every stored partition.
func (w *Worker) Info(ctx context.Context) (Info, error) {
	info := Info{
		Version: w.cfg.Version,
		State:   w.State(),
		Core:    w.CoreName(),
		Runtime: w.RuntimeName(),
	}
	names, err := w.storage.Partitions(ctx)
	if err != nil {
		return info, w.storageError("list partitions", err)
	}
	for _, name := range names {
		n, err := w.storage.Count(ctx, name)
		if err != nil {
			return info, w.storageError("count partition "+name, err)
		}
		info.Partitions = append(info.Partitions, PartitionInfo{Name: name, Entries: n})
	}
	return info, nil
}
