package app

import (
	"context"

	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/monitor"
	"github.com/staysense/staysense-go/internal/serviceworker"
	"github.com/staysense/staysense-go/internal/spot"
)

// Snapshot is the client state shown by the status endpoint and command.
type Snapshot struct {
	Connectivity   monitor.Status      `json:"connectivity"`
	QueueLength    int                 `json:"queue_length"`
	CacheSize      int                 `json:"cache_size"`
	CacheCapacity  int                 `json:"cache_capacity"`
	SignalsEnabled bool                `json:"signals_enabled"`
	Current        *spot.ScoreView     `json:"current,omitempty"`
	LastMessage    *events.Event       `json:"last_message,omitempty"`
	Worker         *serviceworker.Info `json:"worker,omitempty"`
}

// Snapshot collects the current state of every component.
func (a *App) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		Connectivity:   a.Monitor.Status(),
		QueueLength:    a.Queue.Len(),
		CacheSize:      a.Cache.Len(),
		CacheCapacity:  a.Cache.Capacity(),
		SignalsEnabled: a.Preferences.SignalsEnabled(),
		Current:        a.Spot.Current(),
		LastMessage:    a.Status.Last(),
	}
	if info, ok := a.WorkerInfo(ctx); ok {
		s.Worker = &info
	}
	return s
}

// WorkerInfo describes the active worker. It reports false when the service
// worker is disabled or not yet installed.
func (a *App) WorkerInfo(ctx context.Context) (serviceworker.Info, bool) {
	if a.Worker == nil {
		return serviceworker.Info{}, false
	}
	w := a.Worker.Active()
	if w == nil {
		return serviceworker.Info{}, false
	}
	info, err := w.Info(ctx)
	if err != nil {
		a.Logger.Warn("failed to read service worker partitions", logger.Error(err))
	}
	return info, true
}
