package coordinates

import (
	"math"
	"testing"
	"time"
)

// TestSunEquatorial checks the sun position against almanac values
func TestSunEquatorial(t *testing.T) {
	tests := []struct {
		name    string
		time    time.Time
		wantRA  float64
		wantDec float64
	}{
		{"J2000 epoch", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 18.752, -23.03},
		{"June solstice 2024", time.Date(2024, 6, 20, 20, 51, 0, 0, time.UTC), 6.0, 23.44},
		{"March equinox 2024", time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC), 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SunEquatorial(tt.time)
			if math.Abs(Range12(got.RightAscension-tt.wantRA)) > 0.02 {
				t.Errorf("RA = %.4f, want %.4f", got.RightAscension, tt.wantRA)
			}
			if math.Abs(got.Declination-tt.wantDec) > 0.05 {
				t.Errorf("Dec = %.4f, want %.4f", got.Declination, tt.wantDec)
			}
		})
	}
}

// TestAngularSeparation tests great circle distances
func TestAngularSeparation(t *testing.T) {
	tests := []struct {
		name string
		a, b EquatorialCoordinates
		want float64
	}{
		{"Same point", EquatorialCoordinates{5, 20}, EquatorialCoordinates{5, 20}, 0},
		{"Along the equator", EquatorialCoordinates{0, 0}, EquatorialCoordinates{2, 0}, 30},
		{"Pole to equator", EquatorialCoordinates{3, 90}, EquatorialCoordinates{17, 0}, 90},
		{"Antipodal", EquatorialCoordinates{0, 0}, EquatorialCoordinates{12, 0}, 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AngularSeparation(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AngularSeparation = %.9f, want %.9f", got, tt.want)
			}
		})
	}
}

// TestGetSafetyZone tests the solar proximity zones
func TestGetSafetyZone(t *testing.T) {
	tests := []struct {
		separation float64
		want       SolarSafetyZone
	}{
		{1.0, SafeZoneCritical},
		{3.0, SafeZoneDanger},
		{7.5, SafeZoneWarning},
		{15.0, SafeZoneCaution},
		{45.0, SafeZoneClear},
	}

	for _, tt := range tests {
		if got := GetSafetyZone(tt.separation); got != tt.want {
			t.Errorf("GetSafetyZone(%.1f) = %s, want %s", tt.separation, got, tt.want)
		}
	}

	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	if sep := SunSeparation(SunEquatorial(now), now); sep > 1e-9 {
		t.Errorf("sun separation from itself = %f", sep)
	}
}
