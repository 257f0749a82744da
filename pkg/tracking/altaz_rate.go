package tracking

import (
	"math"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// ZenithRateLimit bounds the azimuth rate factor where it is singular.
// The downstream slew rate clamp keeps the commanded rate safe.
const ZenithRateLimit = 10000.0

// zenithEpsilon is the sin(zenith distance) below which the target is
// treated as being at the zenith.
const zenithEpsilon = 1e-9

// AltAzRate converts an hour angle and declination rate pair to azimuth and
// altitude rates for a target at the given hour angle and declination.
//
// Rates are in any consistent angular unit per second (degrees or arc
// seconds). The result is Axes{azimuthRate, altitudeRate}.
//
// Parameters:
//   - haRate, decRate: rates of hour angle and declination
//   - haHours: local hour angle in hours
//   - dec: declination in degrees
//   - latitude: observer latitude in degrees
func AltAzRate(haRate, decRate, haHours, dec, latitude float64) coordinates.Axes {
	horiz := coordinates.HaDecToAltAz(haHours, dec, latitude)

	phi := latitude * coordinates.DegreesToRadians
	h := haHours * coordinates.HoursToDegrees * coordinates.DegreesToRadians
	delta := dec * coordinates.DegreesToRadians
	alt := horiz.Altitude * coordinates.DegreesToRadians
	az := horiz.Azimuth * coordinates.DegreesToRadians
	z := math.Pi/2 - alt

	sinZ := math.Sin(z)
	cosAlt := math.Cos(alt)

	var azHa, azDec, altDec float64
	if math.Abs(sinZ) < zenithEpsilon {
		// Azimuth is undefined at the zenith, saturate toward the side the
		// target is moving to
		azHa = ZenithRateLimit
		if horiz.Azimuth < 90 || horiz.Azimuth > 270 {
			azHa = -ZenithRateLimit
		}
	} else {
		// dA/dH = (sinφ·sin z - cosφ·cos z·cos A) / sin z
		azHa = (math.Sin(phi)*sinZ - math.Cos(phi)*math.Cos(z)*math.Cos(az)) / sinZ
		azHa = clampFactor(azHa)

		// dA/dδ from A = atan2(P, Q), P = cos(alt)·sin A, Q = cos(alt)·cos A
		p := cosAlt * math.Sin(az)
		q := cosAlt * math.Cos(az)
		azDec = (q*math.Sin(delta)*math.Sin(h) -
			p*(math.Cos(delta)*math.Cos(phi)+math.Sin(delta)*math.Sin(phi)*math.Cos(h))) /
			(cosAlt * cosAlt)
		azDec = clampFactor(azDec)

		// d(alt)/dδ
		altDec = (math.Cos(delta)*math.Sin(phi) - math.Sin(delta)*math.Cos(phi)*math.Cos(h)) / cosAlt
	}

	// d(alt)/dH = cosφ·sin A
	altHa := math.Cos(phi) * math.Sin(az)

	return coordinates.Axes{
		haRate*azHa + decRate*azDec,
		haRate*altHa + decRate*altDec,
	}
}

func clampFactor(f float64) float64 {
	return math.Max(-ZenithRateLimit, math.Min(ZenithRateLimit, f))
}

// PredictedAxisRate is the locally linearised rate that takes an axis from
// current to target within interval seconds.
func PredictedAxisRate(target, current coordinates.Axes, interval float64) coordinates.Axes {
	if interval <= 0 {
		return coordinates.Axes{}
	}
	return coordinates.Axes{
		coordinates.Range180(target[0]-current[0]) / interval,
		coordinates.Range180(target[1]-current[1]) / interval,
	}
}
