// Package app owns every long-lived component of the client and wires them
// together. There are no package-level singletons; commands build one App
// and pass it explicitly.
package app

import (
	"net/http"
	"os"
	"time"

	"github.com/staysense/staysense-go/internal/apiclient"
	"github.com/staysense/staysense-go/internal/conf"
	"github.com/staysense/staysense-go/internal/datastore"
	"github.com/staysense/staysense-go/internal/datastore/repository"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/identity"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
	"github.com/staysense/staysense-go/internal/monitor"
	"github.com/staysense/staysense-go/internal/mqtt"
	"github.com/staysense/staysense-go/internal/observability/metrics"
	"github.com/staysense/staysense-go/internal/scorecache"
	"github.com/staysense/staysense-go/internal/serviceworker"
	"github.com/staysense/staysense-go/internal/settings"
	"github.com/staysense/staysense-go/internal/signalqueue"
	"github.com/staysense/staysense-go/internal/spot"
	"github.com/staysense/staysense-go/internal/telemetry"
)

// Version is the build version, set with -ldflags at release time.
var Version = "dev"

const telemetryFlushTimeout = 2 * time.Second

// App is the root context of a running client.
type App struct {
	Settings *conf.Settings
	Logger   logger.Logger
	Bus      *events.Bus
	Status   *events.StatusLine
	Metrics  *metrics.Metrics

	Store       kvstore.Store
	Identity    *identity.Provider
	Cache       *scorecache.Cache
	Queue       *signalqueue.Queue
	Preferences *settings.Store
	API         *apiclient.Client
	Monitor     *monitor.Monitor
	Spot        *spot.Service

	// Worker is nil when the service worker is disabled.
	Worker *serviceworker.Registration

	root       logger.Logger
	db         *datastore.Manager
	swStorage  serviceworker.Storage
	swFetcher  serviceworker.Fetcher
	mqttClient mqtt.Client
	reporter   *telemetry.Reporter
	closers    []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	location   spot.LocationProvider
	fetcher    serviceworker.Fetcher
	mqttClient mqtt.Client
}

// WithHTTPClient replaces the HTTP client used for API calls and the
// service worker upstream.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLocation replaces the configured location provider.
func WithLocation(p spot.LocationProvider) Option {
	return func(o *options) { o.location = p }
}

// WithWorkerFetcher replaces the service worker upstream fetcher.
func WithWorkerFetcher(f serviceworker.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithMQTTClient replaces the broker client built from settings.
func WithMQTTClient(c mqtt.Client) Option {
	return func(o *options) { o.mqttClient = c }
}

// New builds every component from cfg. Nothing is loaded or contacted until
// Start. Close releases what New opened, also when New fails halfway.
func New(cfg *conf.Settings, log logger.Logger, opts ...Option) (a *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{
		Settings: cfg,
		Logger:   log.Module("app"),
		root:     log,
		Bus:      events.NewBus(),
		Status:   &events.StatusLine{},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()
	a.Bus.Subscribe(a.Status.Handle)
	a.Bus.Subscribe(a.logEvent)

	if cfg.Sentry.Enabled {
		a.reporter, err = telemetry.Init(telemetry.Options{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "staysense@" + Version,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	if err := a.openStorage(); err != nil {
		return nil, err
	}

	a.API, err = apiclient.New(apiclient.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout.Std(),
		UserAgent:  cfg.API.UserAgent,
		RateLimit:  cfg.API.RateLimit,
		RateBurst:  cfg.API.RateBurst,
		HTTPClient: o.httpClient,
	}, log)
	if err != nil {
		return nil, err
	}

	a.Identity = identity.NewProvider(a.Store, log)
	a.Cache = scorecache.New(a.Store, cfg.Cache.Capacity, log, a.Metrics)
	a.Queue = signalqueue.New(a.Store, a.API, log, a.Metrics)
	a.Preferences = settings.New(a.Store, log)
	a.Monitor = monitor.New(a.API, monitor.Options{
		Interval:     cfg.Monitor.Interval.Std(),
		ProbeTimeout: cfg.Monitor.ProbeTimeout.Std(),
	}, log, a.Metrics, a.Bus)

	location := o.location
	if location == nil {
		location = newFixedLocation(cfg)
	}
	a.Spot = spot.New(spot.Deps{
		Fetcher:  a.API,
		Sender:   a.API,
		Cache:    a.Cache,
		Queue:    a.Queue,
		Tokens:   a.Identity,
		Settings: a.Preferences,
		Location: location,
		Bus:      a.Bus,
		Metrics:  a.Metrics,
		Logger:   log,
	})

	if cfg.ServiceWorker.Enabled {
		if err := a.setupWorker(o); err != nil {
			return nil, err
		}
	}

	if cfg.MQTT.Enabled || o.mqttClient != nil {
		a.mqttClient = o.mqttClient
		if a.mqttClient == nil {
			a.mqttClient, err = mqtt.NewClient(cfg.MQTT, log)
			if err != nil {
				return nil, err
			}
		}
		a.Bus.Subscribe(mqtt.NewPublisher(a.mqttClient, cfg.MQTT.Topic, cfg.MQTT.Retain, log).Handle)
	}

	a.Monitor.OnReachable(a.onReachable)
	return a, nil
}

func (a *App) openStorage() error {
	cfg := a.Settings
	needDB := cfg.Storage.Backend == conf.BackendSQLite ||
		(cfg.ServiceWorker.Enabled && cfg.ServiceWorker.Storage == conf.BackendSQLite)
	if needDB {
		db, err := datastore.NewSQLiteManager(datastore.Config{DataDir: cfg.Main.DataDir}, a.root)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if err := db.Initialize(); err != nil {
			return err
		}
	}

	if cfg.Storage.Backend == conf.BackendBolt {
		if err := os.MkdirAll(cfg.Main.DataDir, 0o755); err != nil {
			return errors.Newf("failed to create data directory: %w", err).
				Component("app").
				Category(errors.CategoryStorage).
				Context("data_dir", cfg.Main.DataDir).
				Build()
		}
	}
	store, err := kvstore.Open(cfg.Storage.Backend, cfg.Main.DataDir, a.db)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) setupWorker(o options) error {
	cfg := a.Settings
	a.swStorage = serviceworker.NewMemoryStorage()
	if cfg.ServiceWorker.Storage == conf.BackendSQLite {
		a.swStorage = serviceworker.NewSQLStorage(repository.NewResponseCacheRepository(a.db.DB()))
	}

	a.swFetcher = o.fetcher
	if a.swFetcher == nil {
		f, err := serviceworker.NewUpstreamFetcher(cfg.UpstreamURL(), cfg.API.Timeout.Std(), o.httpClient)
		if err != nil {
			return err
		}
		a.swFetcher = f
	}
	a.Worker = serviceworker.NewRegistration(a.root)
	return nil
}

// Close stops background delivery and releases storage. Safe to call once
// after Start or after a failed New.
func (a *App) Close() error {
	a.Bus.Stop()
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.reporter != nil {
		a.reporter.Close(telemetryFlushTimeout)
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) logEvent(e *events.Event) {
	if e.Message == "" {
		return
	}
	a.Logger.Info("status", logger.String("kind", string(e.Kind)),
		logger.String("level", string(e.Level)),
		logger.String("message", e.Message))
}
