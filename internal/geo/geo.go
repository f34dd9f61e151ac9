// Package geo quantizes and validates coordinates used as score cache keys.
package geo

import (
	"math"
	"strconv"

	"github.com/golang/geo/s2"
	"github.com/staysense/staysense-go/internal/errors"
)

// Precision is the number of fractional digits kept in a cache key, about
// 11m of latitude.
const Precision = 4

// Key returns the quantized cache key for a coordinate pair, e.g.
// "51.2500,6.9730".
func Key(lat, lon float64) string {
	return format(lat) + "," + format(lon)
}

func format(v float64) string {
	s := strconv.FormatFloat(v, 'f', Precision, 64)
	if s == "-0.0000" {
		return "0.0000"
	}
	return s
}

// Validate rejects coordinates that are not finite or outside the valid
// latitude/longitude ranges.
func Validate(lat, lon float64) error {
	for _, v := range []float64{lat, lon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(lat, lon, "coordinates must be finite")
		}
	}
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return invalid(lat, lon, "coordinates out of range")
	}
	return nil
}

func invalid(lat, lon float64, msg string) error {
	return errors.Newf("%s", msg).
		Component("geo").
		Category(errors.CategoryValidation).
		Context("lat", lat).
		Context("lon", lon).
		Build()
}
