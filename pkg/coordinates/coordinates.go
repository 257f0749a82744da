package coordinates

import (
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// HoursToDegrees converts hours of right ascension or hour angle to degrees
	HoursToDegrees = 15.0

	// SiderealRate is the apparent rotation of the sky in arc seconds per SI second
	SiderealRate = 15.0410671786691

	// ArcSecondsPerDegree converts arc seconds to degrees
	ArcSecondsPerDegree = 3600.0
)

// Axes is a pair of mount axis angles in degrees.
// Index 0 is the primary axis (RA/hour angle or azimuth), index 1 the
// secondary axis (declination or altitude).
//
// An Axes value does not know which space it belongs to. Callers keep track of
// whether a value is in mount space (what the hardware reports) or app space
// (the mount-independent convention used by the conversion functions).
type Axes [2]float64

// Geographic represents a position on Earth's surface.
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above mean sea level (MSL)
	Altitude float64
}

// HorizontalCoordinates represents a position in the local horizontal coordinate system.
// Also known as Alt/Az (Altitude-Azimuth) coordinates.
type HorizontalCoordinates struct {
	// Altitude (elevation) in degrees above the horizon
	// 0 = horizon, 90 = zenith, negative values are below the horizon
	Altitude float64

	// Azimuth in degrees from north (0-360)
	// 0/360 = North, 90 = East, 180 = South, 270 = West
	Azimuth float64
}

// EquatorialCoordinates represents a position in the equatorial coordinate system.
type EquatorialCoordinates struct {
	// RightAscension (RA) in decimal hours (0-24)
	RightAscension float64

	// Declination (Dec) in decimal degrees (-90 to +90)
	Declination float64
}

// Observer represents the geographic location of the telescope.
type Observer struct {
	// Location is the observer's position on Earth
	Location Geographic

	// Timezone is the IANA timezone name (e.g., "America/New_York")
	// Used for display only, all internal calculations use UTC
	Timezone string
}

// Hemisphere returns the hemisphere the observer is located in.
// The equator counts as northern.
func (o Observer) Hemisphere() Hemisphere {
	return HemisphereFromLatitude(o.Location.Latitude)
}

// ToRadians converts the Geographic coordinates to radians.
// Returns (latRad, lonRad, altMeters).
func (g Geographic) ToRadians() (float64, float64, float64) {
	return g.Latitude * DegreesToRadians,
		g.Longitude * DegreesToRadians,
		g.Altitude
}

// ToRadians converts HorizontalCoordinates to radians.
// Returns (altRad, azRad).
func (h HorizontalCoordinates) ToRadians() (float64, float64) {
	return h.Altitude * DegreesToRadians,
		h.Azimuth * DegreesToRadians
}

// ToHorizontalDegrees converts radians to HorizontalCoordinates in degrees.
func ToHorizontalDegrees(altRad, azRad float64) HorizontalCoordinates {
	return HorizontalCoordinates{
		Altitude: altRad * RadiansToDegrees,
		Azimuth:  azRad * RadiansToDegrees,
	}
}

// ToRadians converts EquatorialCoordinates to radians.
// Returns (raRad, decRad).
// Note: RA is converted from hours to radians (1 hour = 15 degrees = π/12 radians)
func (e EquatorialCoordinates) ToRadians() (float64, float64) {
	raRad := e.RightAscension * HoursToDegrees * DegreesToRadians
	decRad := e.Declination * DegreesToRadians
	return raRad, decRad
}
