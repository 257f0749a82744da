package coordinates

import (
	"math"
	"time"
)

// HaDecToAltAz converts a local hour angle and declination to horizontal
// coordinates for an observer at the given latitude.
//
// Parameters:
//   - haHours: local hour angle in hours (positive west of the meridian)
//   - dec: declination in degrees
//   - latitude: observer latitude in degrees
//
// Returns: HorizontalCoordinates with azimuth in [0, 360)
func HaDecToAltAz(haHours, dec, latitude float64) HorizontalCoordinates {
	haRad := haHours * HoursToDegrees * DegreesToRadians
	decRad := dec * DegreesToRadians
	latRad := latitude * DegreesToRadians

	// alt = asin(sin(dec)·sin(lat) + cos(dec)·cos(lat)·cos(HA))
	sinAlt := math.Sin(decRad)*math.Sin(latRad) +
		math.Cos(decRad)*math.Cos(latRad)*math.Cos(haRad)
	altRad := math.Asin(clampUnit(sinAlt))

	// az = atan2(-sin(HA)·cos(dec), sin(dec)·cos(lat) - cos(dec)·sin(lat)·cos(HA))
	azRad := math.Atan2(
		-math.Sin(haRad)*math.Cos(decRad),
		math.Sin(decRad)*math.Cos(latRad)-math.Cos(decRad)*math.Sin(latRad)*math.Cos(haRad),
	)

	horiz := ToHorizontalDegrees(altRad, azRad)
	horiz.Azimuth = Range360(horiz.Azimuth)
	return horiz
}

// AltAzToHaDec converts horizontal coordinates to a local hour angle (hours,
// in [-12, 12)) and declination (degrees) for an observer at the given latitude.
// This is the inverse of HaDecToAltAz.
func AltAzToHaDec(alt, az, latitude float64) (haHours, dec float64) {
	altRad := alt * DegreesToRadians
	azRad := az * DegreesToRadians
	latRad := latitude * DegreesToRadians

	// dec = asin(sin(lat)·sin(alt) + cos(lat)·cos(alt)·cos(az))
	sinDec := math.Sin(latRad)*math.Sin(altRad) +
		math.Cos(latRad)*math.Cos(altRad)*math.Cos(azRad)
	decRad := math.Asin(clampUnit(sinDec))

	// HA = atan2(-sin(az)·cos(alt), sin(alt)·cos(lat) - cos(alt)·sin(lat)·cos(az))
	haRad := math.Atan2(
		-math.Sin(azRad)*math.Cos(altRad),
		math.Sin(altRad)*math.Cos(latRad)-math.Cos(altRad)*math.Sin(latRad)*math.Cos(azRad),
	)

	haHours = Range12(haRad * RadiansToDegrees / HoursToDegrees)
	return haHours, decRad * RadiansToDegrees
}

// EquatorialToHorizontal converts equatorial coordinates (RA/Dec) to
// horizontal coordinates (alt/az) for a local sidereal time and latitude.
func EquatorialToHorizontal(equatorial EquatorialCoordinates, lst, latitude float64) HorizontalCoordinates {
	// HA = LST - RA
	return HaDecToAltAz(lst-equatorial.RightAscension, equatorial.Declination, latitude)
}

// HorizontalToEquatorial converts horizontal coordinates (alt/az) to
// equatorial coordinates (RA/Dec) for a local sidereal time and latitude.
func HorizontalToEquatorial(horizontal HorizontalCoordinates, lst, latitude float64) EquatorialCoordinates {
	ha, dec := AltAzToHaDec(horizontal.Altitude, horizontal.Azimuth, latitude)

	// RA = LST - HA
	return EquatorialCoordinates{
		RightAscension: Range24(lst - ha),
		Declination:    dec,
	}
}

// CalculateLocalSiderealTime calculates the Local Sidereal Time (LST) for
// a given longitude and UTC time.
//
// LST is the right ascension that is currently on the observer's meridian.
//
// Parameters:
//   - longitudeDeg: Observer's longitude in decimal degrees
//   - utcTime: The time in UTC
//
// Returns: LST in decimal hours (0-24)
//
// Reference: Simplified formula accurate to ~1 second
func CalculateLocalSiderealTime(longitudeDeg float64, utcTime time.Time) float64 {
	jd := timeToJulianDate(utcTime.UTC())

	// Days since J2000.0 (Jan 1, 2000, 12:00 UTC)
	d := jd - 2451545.0

	// Greenwich Mean Sidereal Time (GMST) in hours
	gmst := Range24(18.697374558 + 24.06570982441908*d)

	// LST = GMST + longitude (in hours)
	return Range24(gmst + (longitudeDeg / HoursToDegrees))
}

// timeToJulianDate converts a Go time.Time to Julian Date.
// The Julian Date is the number of days since noon on January 1, 4713 BC.
func timeToJulianDate(t time.Time) float64 {
	year := t.Year()
	month := int(t.Month())
	day := t.Day()

	// Keep nanoseconds, tracking updates run at sub-second intervals.
	seconds := float64(t.Hour())*3600.0 +
		float64(t.Minute())*60.0 +
		float64(t.Second()) +
		float64(t.Nanosecond())/1e9
	decimalDay := float64(day) + seconds/86400.0

	// Adjust for January/February
	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	return float64(int(365.25*float64(year+4716))) +
		float64(int(30.6001*float64(month+1))) +
		decimalDay + float64(b) - 1524.5
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
