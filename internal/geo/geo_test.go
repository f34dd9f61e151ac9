package geo

import (
	"math"
	"testing"

	"github.com/staysense/staysense-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lat, lon float64
		want     string
	}{
		{"rounds down", 51.25001, 6.97299, "51.2500,6.9730"},
		{"rounds nearby point to same key", 51.25004, 6.97301, "51.2500,6.9730"},
		{"distinct cell", 51.2510, 6.9730, "51.2510,6.9730"},
		{"pads fractional digits", 52, 13.4, "52.0000,13.4000"},
		{"negative", -33.86882, 151.20929, "-33.8688,151.2093"},
		{"negative zero normalized", -0.00001, -0.0, "0.0000,0.0000"},
		{"antimeridian", 0, -180, "0.0000,-180.0000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Key(tt.lat, tt.lon))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"cologne", 50.9375, 6.9603, false},
		{"near north pole", 89.99999, 179.99999, false},
		{"near south pole", -89.99999, -179.99999, false},
		{"latitude too large", 90.0001, 0, true},
		{"longitude too small", 0, -180.5, true},
		{"nan", math.NaN(), 0, true},
		{"inf", 0, math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.lat, tt.lon)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}
