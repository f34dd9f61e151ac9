// Package kvstore is the durable key/value store behind the client's local
// state: device token, settings, score cache and signal queue. Every value is
// JSON and every key is read independently, so one corrupt value never
// affects the others.
package kvstore

import (
	"context"
	"encoding/json"

	"github.com/staysense/staysense-go/internal/errors"
)

// Namespaced, versioned keys of the persisted client state.
const (
	KeyDeviceToken = "staysense:v1:device_token"
	KeySettings    = "staysense:v1:settings"
	KeyScoreCache  = "staysense:v1:score_cache"
	KeySignalQueue = "staysense:v1:signal_queue"
)

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.NewStd("kvstore: key not found")

// Store persists opaque values by string key. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// LoadJSON decodes the value stored under key into v. Fields absent from the
// stored document keep the values v already holds. It reports false and
// leaves v untouched when the key is missing, unreadable or not valid JSON
// for v. It never fails; use ReadJSON when a failed read must not be
// mistaken for an absent value.
func LoadJSON[T any](ctx context.Context, s Store, key string, v *T) bool {
	ok, err := ReadJSON(ctx, s, key, v)
	return ok && err == nil
}

// ReadJSON is LoadJSON that tells a failed read apart from an absent value.
// A missing, empty or undecodable value reports false with a nil error; any
// other Get failure is returned as a storage error and v is left untouched.
func ReadJSON[T any](ctx context.Context, s Store, key string, v *T) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Newf("failed to read %s: %w", key, err).
			Component("kvstore").
			Category(errors.CategoryStorage).
			Context("key", key).
			Build()
	}
	if len(data) == 0 {
		return false, nil
	}
	decoded := *v
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false, nil
	}
	*v = decoded
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Newf("failed to encode %s: %w", key, err).
			Component("kvstore").
			Category(errors.CategoryStorage).
			Context("key", key).
			Build()
	}
	if err := s.Set(ctx, key, data); err != nil {
		return errors.Newf("failed to persist %s: %w", key, err).
			Component("kvstore").
			Category(errors.CategoryStorage).
			Context("key", key).
			Build()
	}
	return nil
}
