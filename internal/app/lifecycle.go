package app

import (
	"context"
	"fmt"

	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/serviceworker"
	"github.com/staysense/staysense-go/internal/signalqueue"
	"github.com/staysense/staysense-go/internal/spot"
)

// Start restores persisted state and attempts the startup flush: the
// device token is ensured, then the cache, queue and preferences are loaded.
// It does not start the monitor; see Run.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.Identity.DeviceToken(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		a.Logger.Warn("device token unavailable, retrying on first signal", logger.Error(err))
	}
	a.Cache.Load(ctx)
	a.Queue.Load(ctx)
	a.Preferences.Load(ctx)

	if a.mqttClient != nil {
		if err := a.mqttClient.Connect(ctx); err != nil {
			a.Logger.Warn("mqtt unavailable, status events will not be published", logger.Error(err))
		}
	}

	if a.Queue.NeedsFlush() {
		if _, err := a.FlushQueue(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the health monitor until ctx is done. Every successful probe
// flushes the signal queue.
func (a *App) Run(ctx context.Context) error {
	a.Monitor.Run(ctx)
	return nil
}

func (a *App) onReachable(ctx context.Context) {
	if a.Queue.NeedsFlush() {
		if _, err := a.FlushQueue(ctx); err != nil {
			a.Logger.Debug("flush interrupted", logger.Error(err))
		}
	}
	if a.Worker != nil && a.Worker.Active() == nil {
		if err := a.InstallWorker(ctx); err != nil {
			a.Logger.Debug("service worker install retry failed", logger.Error(err))
		}
	}
}

// FlushQueue runs one flush pass and announces its result: delivered
// signals as a success message, each permanently rejected signal as a
// warning with the server's reason.
func (a *App) FlushQueue(ctx context.Context) (signalqueue.FlushReport, error) {
	report, err := a.Queue.Flush(ctx)
	if report.Skipped || report.Attempted == 0 {
		return report, err
	}

	for _, d := range report.Dropped {
		a.Bus.Publish(&events.Event{
			Kind:    events.KindSignal,
			Level:   events.LevelWarning,
			Message: spot.RejectionMessage(d.Code, d.NextAllowedAt),
			Properties: map[string]any{
				"outcome":    "dropped",
				"spot_id":    d.Signal.SpotID,
				"signal_id":  d.Signal.ID,
				"code":       d.Code,
				"queued_for": d.Signal.Timestamp,
			},
		})
	}

	event := &events.Event{
		Kind: events.KindQueueFlushed,
		Properties: map[string]any{
			"attempted": report.Attempted,
			"sent":      report.Sent,
			"dropped":   len(report.Dropped),
			"failed":    report.Failed,
			"remaining": report.Remaining,
		},
	}
	if report.Sent > 0 {
		event.Level = events.LevelSuccess
		event.Message = sentMessage(report.Sent)
	}
	a.Bus.Publish(event)
	return report, err
}

func sentMessage(n int) string {
	if n == 1 {
		return "1 queued signal sent"
	}
	return fmt.Sprintf("%d queued signals sent", n)
}

// InstallWorker installs the configured worker version into the
// registration. A failed install leaves the previous worker in control.
func (a *App) InstallWorker(ctx context.Context) error {
	if a.Worker == nil {
		return nil
	}
	sw := a.Settings.ServiceWorker
	w := serviceworker.NewWorker(serviceworker.Config{
		Version:     sw.Version,
		CoreAssets:  sw.CoreAssets,
		ShellPath:   sw.ShellPath,
		SkipWaiting: sw.SkipWaiting,
	}, a.swStorage, a.swFetcher, a.root, a.Metrics, a.Bus)
	return a.Worker.Update(ctx, w)
}
