package conf

import (
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/geo"
)

const (
	configName = "staysense"
	envPrefix  = "STAYSENSE"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// DefaultCoreAssets is the application shell installed into the core
// partition.
var DefaultCoreAssets = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/manifest.webmanifest",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
	"/impressum.html",
	"/datenschutz.html",
	"/vendor/leaflet/leaflet.css",
	"/vendor/leaflet/leaflet.js",
}

// Load reads configuration from path, or from the standard search locations
// when path is empty. A missing config file is not an error; defaults and
// STAYSENSE_* environment variables still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		for _, dir := range configPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Newf("read config: %w", err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Main.DataDir == "" {
		settings.Main.DataDir = defaultDataDir()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Default returns settings populated with defaults only.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook()))
	settings.Main.DataDir = defaultDataDir()
	return settings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.name", "staysense")
	v.SetDefault("main.log_level", "info")

	v.SetDefault("api.base_url", "http://127.0.0.1:8787")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.user_agent", "StaySense-Go/0.1")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.rate_burst", 5)

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.probe_timeout", "10s")

	v.SetDefault("cache.capacity", 50)

	v.SetDefault("location.enabled", false)

	v.SetDefault("storage.backend", BackendSQLite)

	v.SetDefault("server.listen", "127.0.0.1:8788")
	v.SetDefault("server.upstream", "")

	v.SetDefault("serviceworker.enabled", true)
	v.SetDefault("serviceworker.version", "v1")
	v.SetDefault("serviceworker.skip_waiting", true)
	v.SetDefault("serviceworker.core_assets", DefaultCoreAssets)
	v.SetDefault("serviceworker.shell_path", "/index.html")
	v.SetDefault("serviceworker.storage", BackendSQLite)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "staysense")
	v.SetDefault("mqtt.client_id", "staysense-client")
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "production")
}

func configPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", configName))
	}
	return append(paths, "/etc/"+configName)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, configName)
	}
	return filepath.Join(".", "data")
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	invalid := func(field string, value any, msg string) error {
		return errors.Newf("invalid %s: %s", field, msg).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("field", field).
			Context("value", value).
			Build()
	}

	if err := validateHTTPURL(s.API.BaseURL); err != nil {
		return invalid("api.base_url", s.API.BaseURL, err.Error())
	}
	if up := s.Server.Upstream; up != "" {
		if err := validateHTTPURL(up); err != nil {
			return invalid("server.upstream", up, err.Error())
		}
	}
	if s.Cache.Capacity <= 0 {
		return invalid("cache.capacity", s.Cache.Capacity, "must be positive")
	}
	if s.Monitor.Interval.Std() < time.Second {
		return invalid("monitor.interval", s.Monitor.Interval, "must be at least 1s")
	}
	if s.Monitor.ProbeTimeout.Std() <= 0 {
		return invalid("monitor.probe_timeout", s.Monitor.ProbeTimeout, "must be positive")
	}
	if s.API.RateLimit < 0 {
		return invalid("api.rate_limit", s.API.RateLimit, "must not be negative")
	}
	backends := []string{BackendSQLite, BackendBolt, BackendMemory}
	if !slices.Contains(backends, s.Storage.Backend) {
		return invalid("storage.backend", s.Storage.Backend, "must be one of sqlite, bolt, memory")
	}
	if sw := s.ServiceWorker; sw.Enabled {
		if strings.TrimSpace(sw.Version) == "" {
			return invalid("serviceworker.version", sw.Version, "must not be empty")
		}
		if !slices.Contains([]string{BackendSQLite, BackendMemory}, sw.Storage) {
			return invalid("serviceworker.storage", sw.Storage, "must be sqlite or memory")
		}
	}
	if s.Location.Enabled {
		if err := geo.Validate(s.Location.Latitude, s.Location.Longitude); err != nil {
			return invalid("location", [2]float64{s.Location.Latitude, s.Location.Longitude}, "coordinates out of range")
		}
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		return invalid("mqtt.broker", s.MQTT.Broker, "required when mqtt is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return invalid("sentry.dsn", s.Sentry.DSN, "required when sentry is enabled")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewStd("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.NewStd("host is required")
	}
	return nil
}
