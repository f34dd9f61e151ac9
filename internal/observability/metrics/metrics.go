// Package metrics exposes Prometheus instruments for the client components.
// All methods are safe on a nil *Metrics so components work without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/staysense/staysense-go/internal/errors"
)

const namespace = "staysense"

// Metrics holds every instrument.
type Metrics struct {
	registry *prometheus.Registry

	scoreCacheHits   prometheus.Counter
	scoreCacheMisses prometheus.Counter
	scoreCacheSize   prometheus.Gauge
	scoreLoads       *prometheus.CounterVec

	signalOutcomes *prometheus.CounterVec
	queueLength    prometheus.Gauge
	flushes        *prometheus.CounterVec

	probes       *prometheus.CounterVec
	probeLatency prometheus.Histogram
	online       prometheus.Gauge

	workerRequests *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		scoreCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "score_cache_hits_total",
			Help: "Score cache lookups that found an entry.",
		}),
		scoreCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "score_cache_misses_total",
			Help: "Score cache lookups that found nothing.",
		}),
		scoreCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "score_cache_entries",
			Help: "Entries currently held by the score cache.",
		}),
		scoreLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "score_loads_total",
			Help: "Score loads by result source (live, cache, none).",
		}, []string{"source"}),
		signalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signal_outcomes_total",
			Help: "Signal submissions by outcome (sent, rejected, queued, flushed, dropped).",
		}, []string{"outcome"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "signal_queue_length",
			Help: "Signals waiting in the outbound queue.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_flushes_total",
			Help: "Queue flush passes by result (completed, partial, skipped, cancelled).",
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "health_probes_total",
			Help: "Health probes by result (online, offline).",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "health_probe_duration_seconds",
			Help:    "Round-trip latency of successful health probes.",
			Buckets: prometheus.DefBuckets,
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online",
			Help: "1 when the last health probe succeeded, 0 otherwise.",
		}),
		workerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_requests_total",
			Help: "Requests handled by the caching router by strategy and result.",
		}, []string{"strategy", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Requests served by the local HTTP surface by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Latency of the local HTTP surface by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scoreCacheHits,
		m.scoreCacheMisses,
		m.scoreCacheSize,
		m.scoreLoads,
		m.signalOutcomes,
		m.queueLength,
		m.flushes,
		m.probes,
		m.probeLatency,
		m.online,
		m.workerRequests,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry holding every instrument.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheLookup records a score cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.scoreCacheHits.Inc()
		return
	}
	m.scoreCacheMisses.Inc()
}

// CacheSize records the current score cache size.
func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.scoreCacheSize.Set(float64(n))
}

// ScoreLoad records where a score view came from.
func (m *Metrics) ScoreLoad(source string) {
	if m == nil {
		return
	}
	m.scoreLoads.WithLabelValues(source).Inc()
}

// SignalOutcome records one signal submission result.
func (m *Metrics) SignalOutcome(outcome string) {
	if m == nil {
		return
	}
	m.signalOutcomes.WithLabelValues(outcome).Inc()
}

// QueueLength records the outbound queue length.
func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// Flush records a flush pass.
func (m *Metrics) Flush(result string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(result).Inc()
}

// Probe records a health probe.
func (m *Metrics) Probe(online bool, latency time.Duration) {
	if m == nil {
		return
	}
	if online {
		m.probes.WithLabelValues("online").Inc()
		m.probeLatency.Observe(latency.Seconds())
		m.online.Set(1)
		return
	}
	m.probes.WithLabelValues("offline").Inc()
	m.online.Set(0)
}

// WorkerRequest records a request handled by the caching router.
func (m *Metrics) WorkerRequest(strategy, result string) {
	if m == nil {
		return
	}
	m.workerRequests.WithLabelValues(strategy, result).Inc()
}

// Middleware records request counts and latency per echo route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
