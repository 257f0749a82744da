package coordinates

import (
	"math"
	"time"
)

// SunEquatorial returns the apparent RA (hours) and Dec (degrees) of the sun.
// Uses simplified NOAA solar calculator algorithms, accurate to about 1 arcminute.
func SunEquatorial(t time.Time) EquatorialCoordinates {
	jd := timeToJulianDate(t.UTC())

	// Julian century from J2000.0
	jc := (jd - 2451545.0) / 36525.0

	// Geometric mean longitude and mean anomaly (degrees)
	l0 := Range360(280.46646 + jc*(36000.76983+jc*0.0003032))
	m := (357.52911 + jc*(35999.05029-0.0001537*jc)) * DegreesToRadians

	// Equation of center
	c := math.Sin(m)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*m)*(0.019993-0.000101*jc) +
		math.Sin(3*m)*0.000289

	// Apparent longitude, corrected for aberration and nutation
	omega := (125.04 - 1934.136*jc) * DegreesToRadians
	lambda := (l0 + c - 0.00569 - 0.00478*math.Sin(omega)) * DegreesToRadians

	// Obliquity of the ecliptic
	epsilon0 := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60.0)/60.0
	epsilon := (epsilon0 + 0.00256*math.Cos(omega)) * DegreesToRadians

	ra := math.Atan2(math.Cos(epsilon)*math.Sin(lambda), math.Cos(lambda)) * RadiansToDegrees
	dec := math.Asin(math.Sin(epsilon)*math.Sin(lambda)) * RadiansToDegrees

	return EquatorialCoordinates{
		RightAscension: Range24(ra / HoursToDegrees),
		Declination:    dec,
	}
}

// AngularSeparation returns the great circle distance in degrees between two
// equatorial positions.
func AngularSeparation(a, b EquatorialCoordinates) float64 {
	ra1, dec1 := a.ToRadians()
	ra2, dec2 := b.ToRadians()
	dRa := ra2 - ra1

	// Vincenty form, stable for small and antipodal separations
	y := math.Sqrt(
		math.Pow(math.Cos(dec2)*math.Sin(dRa), 2) +
			math.Pow(math.Cos(dec1)*math.Sin(dec2)-math.Sin(dec1)*math.Cos(dec2)*math.Cos(dRa), 2),
	)
	x := math.Sin(dec1)*math.Sin(dec2) + math.Cos(dec1)*math.Cos(dec2)*math.Cos(dRa)

	return math.Atan2(y, x) * RadiansToDegrees
}

// SolarSafetyZone represents safety thresholds for solar proximity
type SolarSafetyZone int

const (
	SafeZoneClear    SolarSafetyZone = 0 // > 20° from sun
	SafeZoneCaution  SolarSafetyZone = 1 // 10-20° from sun
	SafeZoneWarning  SolarSafetyZone = 2 // 5-10° from sun
	SafeZoneDanger   SolarSafetyZone = 3 // 2-5° from sun
	SafeZoneCritical SolarSafetyZone = 4 // < 2° from sun
)

// GetSafetyZone returns the safety zone based on angular separation from the sun.
func GetSafetyZone(separation float64) SolarSafetyZone {
	switch {
	case separation < 2.0:
		return SafeZoneCritical
	case separation < 5.0:
		return SafeZoneDanger
	case separation < 10.0:
		return SafeZoneWarning
	case separation < 20.0:
		return SafeZoneCaution
	}
	return SafeZoneClear
}

// String returns a human-readable name for the safety zone
func (z SolarSafetyZone) String() string {
	switch z {
	case SafeZoneClear:
		return "CLEAR"
	case SafeZoneCaution:
		return "CAUTION"
	case SafeZoneWarning:
		return "WARNING"
	case SafeZoneDanger:
		return "DANGER"
	case SafeZoneCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SunSeparation returns the angular distance in degrees between a target and the sun at t.
func SunSeparation(target EquatorialCoordinates, t time.Time) float64 {
	return AngularSeparation(target, SunEquatorial(t))
}
