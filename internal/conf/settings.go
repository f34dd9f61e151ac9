// Package conf loads and validates the client configuration.
package conf

// Settings is the complete client configuration.
type Settings struct {
	Main struct {
		Name     string `mapstructure:"name" yaml:"name"`
		DataDir  string `mapstructure:"data_dir" yaml:"data_dir"`
		LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	} `mapstructure:"main" yaml:"main"`

	API struct {
		BaseURL   string   `mapstructure:"base_url" yaml:"base_url"`
		Timeout   Duration `mapstructure:"timeout" yaml:"timeout"`
		UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
		RateLimit float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables pacing
		RateBurst int      `mapstructure:"rate_burst" yaml:"rate_burst"`
	} `mapstructure:"api" yaml:"api"`

	Monitor struct {
		Interval     Duration `mapstructure:"interval" yaml:"interval"`
		ProbeTimeout Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	} `mapstructure:"monitor" yaml:"monitor"`

	Cache struct {
		Capacity int `mapstructure:"capacity" yaml:"capacity"`
	} `mapstructure:"cache" yaml:"cache"`

	// Location is the fixed device position used by "score here". Devices
	// without a configured position behave like a denied location prompt.
	Location struct {
		Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
		Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
		Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	} `mapstructure:"location" yaml:"location"`

	Storage struct {
		Backend string `mapstructure:"backend" yaml:"backend"` // sqlite, bolt or memory
	} `mapstructure:"storage" yaml:"storage"`

	Server struct {
		Listen   string `mapstructure:"listen" yaml:"listen"`
		Upstream string `mapstructure:"upstream" yaml:"upstream"` // defaults to api.base_url
	} `mapstructure:"server" yaml:"server"`

	ServiceWorker ServiceWorkerSettings `mapstructure:"serviceworker" yaml:"serviceworker"`

	MQTT MQTTSettings `mapstructure:"mqtt" yaml:"mqtt"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Path    string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"metrics" yaml:"metrics"`

	Sentry struct {
		Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
		DSN         string `mapstructure:"dsn" yaml:"dsn"`
		Environment string `mapstructure:"environment" yaml:"environment"`
	} `mapstructure:"sentry" yaml:"sentry"`
}

// ServiceWorkerSettings configures the caching request router.
type ServiceWorkerSettings struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
	Version     string   `mapstructure:"version" yaml:"version"`
	SkipWaiting bool     `mapstructure:"skip_waiting" yaml:"skip_waiting"`
	CoreAssets  []string `mapstructure:"core_assets" yaml:"core_assets"`
	ShellPath   string   `mapstructure:"shell_path" yaml:"shell_path"`
	Storage     string   `mapstructure:"storage" yaml:"storage"` // sqlite or memory
}

// MQTTSettings configures the optional status publisher.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Retain   bool   `mapstructure:"retain" yaml:"retain"`
}

// UpstreamURL returns the origin the local server proxies to.
func (s *Settings) UpstreamURL() string {
	if s.Server.Upstream != "" {
		return s.Server.Upstream
	}
	return s.API.BaseURL
}
