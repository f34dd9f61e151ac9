// Package testutil holds test doubles shared across packages.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/staysense/staysense-go/internal/apiclient"
)

// Origin is an in-process StaySense server. While offline every request is
// answered with 503; while unreachable every connection is dropped before a
// response is written.
type Origin struct {
	*httptest.Server

	mu          sync.Mutex
	offline     bool
	unreachable bool
	rejection   string
	nextAt      time.Time
	score       map[string]any
	signals     []apiclient.Signal
	requests    map[string]int
}

// NewOrigin starts an online origin closed at test cleanup.
func NewOrigin(t *testing.T) *Origin {
	t.Helper()
	o := &Origin{
		score: map[string]any{
			"spot_id": "spot-1",
			"score":   72,
			"ampel":   "green",
			"reasons": []string{"quiet street"},
			"factors": []map[string]any{{"name": "bars", "weight": 0.2}},
			"night_window": map[string]string{
				"start": "22:00",
				"end":   "06:00",
			},
		},
		requests: map[string]int{},
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

// SetOffline switches the simulated outage on or off.
func (o *Origin) SetOffline(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = v
}

// SetUnreachable switches connection dropping on or off.
func (o *Origin) SetUnreachable(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unreachable = v
}

// RejectSignals makes every signal fail with code, or accepts them again
// when code is empty.
func (o *Origin) RejectSignals(code string, next time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejection = code
	o.nextAt = next
}

// Signals returns the accepted signals in arrival order.
func (o *Origin) Signals() []apiclient.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]apiclient.Signal(nil), o.signals...)
}

// Requests returns how often path was requested.
func (o *Origin) Requests(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[path]
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[r.URL.Path]++

	if o.unreachable {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	if o.offline {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
		return
	}

	switch {
	case r.URL.Path == "/health":
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"sources": []map[string]any{{"source_name": "osm", "imported_at": "2026-06-01T00:00:00Z", "record_count": 1200}},
			"health":  map[string]any{"has_data": true, "freshest_age_hours": 2.5, "stalest_age_hours": 30.0, "stale_sources": []string{}},
		})
	case r.URL.Path == "/spot/score":
		writeJSON(w, http.StatusOK, o.score)
	case r.URL.Path == "/spot/signal" && r.Method == http.MethodPost:
		if o.rejection != "" {
			body := map[string]string{"error": o.rejection}
			if !o.nextAt.IsZero() {
				body["next_allowed_at"] = o.nextAt.UTC().Format(time.RFC3339)
			}
			writeJSON(w, http.StatusTooManyRequests, body)
			return
		}
		var s apiclient.Signal
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
			return
		}
		o.signals = append(o.signals, s)
		writeJSON(w, http.StatusCreated, map[string]any{"accepted": true, "cooldown_hours": 12})
	case r.Method == http.MethodGet:
		w.Header().Set("Content-Type", contentType(r.URL.Path))
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	default:
		http.NotFound(w, r)
	}
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".css"):
		return "text/css"
	case strings.HasSuffix(path, ".js"):
		return "text/javascript"
	default:
		return "text/html; charset=utf-8"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
