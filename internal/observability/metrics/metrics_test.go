package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// family returns the gathered metric family with the given name.
func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	require.FailNowf(t, "metric family not found", "%s", name)
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup(true)
		m.CacheSize(3)
		m.ScoreLoad("live")
		m.SignalOutcome("sent")
		m.QueueLength(1)
		m.Flush("completed")
		m.Probe(true, time.Millisecond)
		m.WorkerRequest("cache-first", "hit")
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()

	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheSize(7)
	m.Probe(true, 120*time.Millisecond)
	m.Probe(false, 0)

	assert.InDelta(t, 2, family(t, m, "staysense_score_cache_hits_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.InDelta(t, 1, family(t, m, "staysense_score_cache_misses_total").GetMetric()[0].GetCounter().GetValue(), 0)
	assert.InDelta(t, 7, family(t, m, "staysense_score_cache_entries").GetMetric()[0].GetGauge().GetValue(), 0)
	assert.InDelta(t, 0, family(t, m, "staysense_online").GetMetric()[0].GetGauge().GetValue(), 0)

	probes := family(t, m, "staysense_health_probes_total")
	require.Len(t, probes.GetMetric(), 2)
	for _, metric := range probes.GetMetric() {
		assert.InDelta(t, 1, metric.GetCounter().GetValue(), 0, labelValue(metric, "result"))
	}
	latency := family(t, m, "staysense_health_probe_duration_seconds").GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), latency.GetSampleCount())
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	t.Parallel()
	m := New()

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/app/status", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/app/fail", func(echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway, "upstream") })

	for _, path := range []string{"/app/status", "/app/status", "/app/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := map[string]float64{}
	for _, metric := range family(t, m, "staysense_http_requests_total").GetMetric() {
		counts[labelValue(metric, "route")+" "+labelValue(metric, "status")] = metric.GetCounter().GetValue()
	}
	assert.InDelta(t, 2, counts["/app/status 200"], 0)
	assert.InDelta(t, 1, counts["/app/fail 502"], 0)
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()
	m := New()
	m.SignalOutcome("queued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `staysense_signal_outcomes_total{outcome="queued"} 1`))
}
