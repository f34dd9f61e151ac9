// Package settings holds the user's local preferences.
package settings

import (
	"context"
	"sync"

	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
)

// Values is the persisted settings document.
type Values struct {
	SignalsEnabled bool `json:"signalsEnabled"`
}

// Defaults returns the settings used before anything was saved.
func Defaults() Values {
	return Values{SignalsEnabled: true}
}

// Store keeps the settings in memory and persists every change.
type Store struct {
	kv     kvstore.Store
	logger logger.Logger

	mu     sync.RWMutex
	values Values
}

// New creates a Store holding the defaults.
func New(kv kvstore.Store, log logger.Logger) *Store {
	return &Store{kv: kv, logger: log.Module("settings"), values: Defaults()}
}

// Load reads persisted settings. Unreadable data keeps the defaults.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := Defaults()
	if !kvstore.LoadJSON(ctx, s.kv, kvstore.KeySettings, &v) {
		v = Defaults()
	}
	s.values = v
}

// Get returns the current settings.
func (s *Store) Get() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

// SignalsEnabled reports whether the user allows sending signals.
func (s *Store) SignalsEnabled() bool {
	return s.Get().SignalsEnabled
}

// SetSignalsEnabled updates and persists the toggle.
func (s *Store) SetSignalsEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values.SignalsEnabled = enabled
	if err := kvstore.SaveJSON(ctx, s.kv, kvstore.KeySettings, s.values); err != nil {
		s.logger.Warn("failed to persist settings", logger.Error(err))
		return err
	}
	s.logger.Info("settings updated", logger.Bool("signals_enabled", enabled))
	return nil
}
