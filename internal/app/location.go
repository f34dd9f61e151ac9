package app

import (
	"context"

	"github.com/staysense/staysense-go/internal/conf"
	"github.com/staysense/staysense-go/internal/errors"
)

// fixedLocation reports the position from the configuration file.
type fixedLocation struct {
	enabled  bool
	lat, lon float64
}

func newFixedLocation(cfg *conf.Settings) fixedLocation {
	return fixedLocation{
		enabled: cfg.Location.Enabled,
		lat:     cfg.Location.Latitude,
		lon:     cfg.Location.Longitude,
	}
}

func (f fixedLocation) Location(context.Context) (lat, lon float64, err error) {
	if !f.enabled {
		return 0, 0, errors.NewStd("no device position configured")
	}
	return f.lat, f.lon, nil
}
