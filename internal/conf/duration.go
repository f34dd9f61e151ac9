package conf

import (
	"encoding/json"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/staysense/staysense-go/internal/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s" in config files and JSON.
// Bare numbers mean whole seconds, so "interval: 30" works.
type Duration time.Duration

// Std converts to a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "30s", "30", 30 or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := durationFrom(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return invalidDuration(value.Value, "expected a scalar")
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(s string) (Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return seconds(secs), nil
	}
	return 0, invalidDuration(s, `use a value like "30s", "5m" or a number of seconds`)
}

func durationFrom(v any) (Duration, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		return parseDuration(value)
	case float64:
		return seconds(value), nil
	case int:
		return seconds(float64(value)), nil
	case int64:
		return seconds(float64(value)), nil
	case time.Duration:
		return Duration(value), nil
	default:
		return 0, invalidDuration(v, "unsupported type")
	}
}

func seconds(secs float64) Duration {
	return Duration(time.Duration(secs * float64(time.Second)))
}

func invalidDuration(value any, reason string) error {
	return errors.Newf("invalid duration %v: %s", value, reason).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("value", value).
		Build()
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook decodes strings and numbers into Duration fields for
// viper, plus the comma-separated lists environment variables produce.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			return durationFrom(data)
		}),
		mapstructure.StringToSliceHookFunc(","),
	)
}
