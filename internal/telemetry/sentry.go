// Package telemetry forwards unexpected errors to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
)

// Operational categories are expected while offline or on bad input and are
// never reported.
var skipped = map[errors.Category]struct{}{
	errors.CategoryNetwork:    {},
	errors.CategoryRejected:   {},
	errors.CategoryValidation: {},
	errors.CategoryNotFound:   {},
}

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter sends enhanced errors to Sentry.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter wraps a configured Sentry client.
func NewReporter(client *sentry.Client) *Reporter {
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}
}

// Init creates a Sentry client and installs it as the error reporter for
// every error built by the errors package. Call Close on shutdown.
func Init(opts Options, log logger.Logger) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, errors.Newf("sentry init: %w", err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	r := NewReporter(client)
	errors.SetReporter(r.Report)
	log.Module("telemetry").Info("error reporting enabled", logger.String("environment", opts.Environment))
	return r, nil
}

// ShouldReport reports whether errors of category c are sent.
func ShouldReport(c errors.Category) bool {
	_, skip := skipped[c]
	return !skip
}

// Report captures ee unless its category is operational.
func (r *Reporter) Report(ee *errors.EnhancedError) {
	if ee == nil || !ShouldReport(ee.GetCategory()) {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.GetCategory()))
		if data := ee.GetContext(); len(data) > 0 {
			scope.SetContext("error", sentry.Context(data))
		}
		r.hub.CaptureException(ee.Err)
	})
}

// Close detaches the reporter and flushes pending events.
func (r *Reporter) Close(timeout time.Duration) {
	errors.SetReporter(nil)
	r.hub.Flush(timeout)
}
