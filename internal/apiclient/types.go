package apiclient

import (
	"encoding/json"
	"time"
)

// Source describes one upstream import as reported by /health.
type Source struct {
	Name        string `json:"source_name"`
	ImportedAt  string `json:"imported_at"`
	RecordCount int    `json:"record_count"`
	Notes       string `json:"notes,omitempty"`
}

// Freshness summarizes data age. Ages are nil when the server has no data.
type Freshness struct {
	HasData          bool     `json:"has_data"`
	FreshestAgeHours *float64 `json:"freshest_age_hours"`
	StalestAgeHours  *float64 `json:"stalest_age_hours"`
	StaleSources     []string `json:"stale_sources"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Sources []Source  `json:"sources"`
	Health  Freshness `json:"health"`
}

// ScoreSummary is the subset of a score payload the client reads. The full
// payload is kept verbatim in the score cache.
type ScoreSummary struct {
	SpotID      string   `json:"spot_id"`
	Score       float64  `json:"score"`
	Ampel       string   `json:"ampel"`
	Reasons     []string `json:"reasons"`
	NightWindow struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"night_window"`
}

// ParseScore decodes the summary fields of a raw score payload.
func ParseScore(raw json.RawMessage) (ScoreSummary, error) {
	var s ScoreSummary
	err := json.Unmarshal(raw, &s)
	return s, err
}

// Signal is the body of POST /spot/signal.
type Signal struct {
	SpotID      string    `json:"spot_id"`
	SignalType  string    `json:"signal_type"`
	DeviceToken string    `json:"device_token"`
	Timestamp   time.Time `json:"timestamp"`
}

// SignalAck is the body of an accepted signal.
type SignalAck struct {
	Accepted      bool    `json:"accepted"`
	CooldownHours float64 `json:"cooldown_hours"`
}

// Rejection codes returned in the "error" field of a signal response.
const (
	CodeCooldownActive = "cooldown_active"
	CodeDailyLimit     = "daily_limit"
)

// errorBody is the generic server error shape.
type errorBody struct {
	Error         string `json:"error"`
	NextAllowedAt string `json:"next_allowed_at"`
}
