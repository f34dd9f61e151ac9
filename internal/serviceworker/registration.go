package serviceworker

import (
	"context"
	"sync"

	"github.com/staysense/staysense-go/internal/logger"
)

// Registration tracks the active worker and any installed worker waiting to
// take over.
type Registration struct {
	logger logger.Logger

	mu      sync.Mutex // serializes lifecycle changes
	active  *Worker
	waiting *Worker
}

// NewRegistration creates an empty registration.
func NewRegistration(log logger.Logger) *Registration {
	return &Registration{logger: log.Module("serviceworker")}
}

// Active returns the controlling worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns an installed worker waiting for activation, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Update installs w. It is activated at once when it skips waiting or no
// worker is active; otherwise it waits until ActivateWaiting. A failed
// install leaves the current worker in control.
func (r *Registration) Update(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := w.Install(ctx); err != nil {
		return err
	}
	if r.waiting != nil {
		r.waiting.retire()
		r.waiting = nil
	}
	if r.active != nil && !w.cfg.SkipWaiting {
		r.waiting = w
		r.logger.Info("worker installed and waiting", logger.String("version", w.Version()))
		return nil
	}
	return r.activateLocked(ctx, w)
}

// ActivateWaiting promotes the waiting worker, if any.
func (r *Registration) ActivateWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == nil {
		return nil
	}
	w := r.waiting
	r.waiting = nil
	return r.activateLocked(ctx, w)
}

func (r *Registration) activateLocked(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		w.retire()
		return err
	}
	prev := r.active
	r.active = w
	if prev != nil && prev != w {
		prev.retire()
		r.logger.Info("worker replaced",
			logger.String("previous", prev.Version()),
			logger.String("current", w.Version()))
	}
	return nil
}
