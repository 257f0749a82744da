package coordinates

import "math"

// Range360 returns d in the range [0, 360).
func Range360(d float64) float64 {
	d = math.Mod(d, 360.0)
	if d < 0 {
		d += 360.0
	}
	if d >= 360.0 {
		d -= 360.0
	}
	return d
}

// Range180 returns d in the range [-180, 180).
func Range180(d float64) float64 {
	d = Range360(d + 180.0)
	return d - 180.0
}

// Range270 returns d in the range [-90, 270).
// This is the secondary axis range of an equatorial mount: declination on
// the normal side plus the through-the-pole positions above 90°.
func Range270(d float64) float64 {
	return Range360(d+90.0) - 90.0
}

// Range24 returns hours in the range [0, 24).
func Range24(h float64) float64 {
	h = math.Mod(h, 24.0)
	if h < 0 {
		h += 24.0
	}
	if h >= 24.0 {
		h -= 24.0
	}
	return h
}

// Range12 returns hours in the range [-12, 12).
func Range12(h float64) float64 {
	return Range24(h+12.0) - 12.0
}

// Range90 folds d into the range [-90, 90] as a declination would be.
// Values past a pole are reflected back, e.g. 100 becomes 80.
func Range90(d float64) float64 {
	d = Range180(d)
	switch {
	case d > 90:
		return 180 - d
	case d < -90:
		return -180 - d
	}
	return d
}

// RangeAxesXy ranges an equatorial axis pair into X [0, 360) and Y [-90, 270).
func RangeAxesXy(a Axes) Axes {
	return Axes{Range360(a[0]), Range270(a[1])}
}
