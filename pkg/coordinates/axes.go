package coordinates

import "math"

// Transformer converts between app axes, local coordinates (hour angle and
// declination, or altitude and azimuth) and equatorial coordinates for one
// mount convention.
//
// App axes for the equatorial modes are X = hour angle in degrees and
// Y = declination (hemisphere signed). Positions through the pole carry
// X + 180 and 180 - Y. For Alt-Az, X is azimuth in [-180, 180) and Y altitude.
type Transformer struct {
	// Convention maps app axes to mount axes
	Convention Convention

	// Latitude of the observer in degrees
	Latitude float64

	// HourAngleLimit is how far past the meridian, in degrees, an equatorial
	// mount may point from either side of the pier
	HourAngleLimit float64

	// AzimuthLimit is how far past ±180° the Alt-Az azimuth axis may rotate
	AzimuthLimit float64
}

// NewTransformer creates a Transformer.
func NewTransformer(conv Convention, latitude, hourAngleLimit, azimuthLimit float64) *Transformer {
	return &Transformer{
		Convention:     conv,
		Latitude:       latitude,
		HourAngleLimit: hourAngleLimit,
		AzimuthLimit:   azimuthLimit,
	}
}

// AppToMount converts app axes to mount axes.
func (t *Transformer) AppToMount(a Axes) Axes { return t.Convention.AppToMount(a) }

// MountToApp converts mount axes to app axes.
func (t *Transformer) MountToApp(a Axes) Axes { return t.Convention.MountToApp(a) }

// AlternateAxisPosition returns the other position for the same point in the sky.
func (t *Transformer) AlternateAxisPosition(a Axes) Axes {
	return t.Convention.AlternatePosition(a)
}

// PierSide returns the pier side implied by app axes.
func (t *Transformer) PierSide(app Axes) PierSide {
	return t.Convention.PierSide(t.Convention.AppToMount(app))
}

// RaDecToAxes converts RA (hours) and Dec (degrees) to app axes.
// When haDec is true the first value is an hour angle in hours instead of RA.
// current is the present app position, used to choose between the two
// positions that reach the target when both are within limits.
func (t *Transformer) RaDecToAxes(raDec [2]float64, lst float64, haDec bool, current Axes) Axes {
	ha := lst - raDec[0]
	if haDec {
		ha = raDec[0]
	}

	if t.Convention.Mode() == AltAz {
		horiz := HaDecToAltAz(ha, raDec[1], t.Latitude)
		axes := Axes{Range180(horiz.Azimuth), horiz.Altitude}
		return t.SelectAlternate(axes, current)
	}

	return t.SelectAlternate(t.haDecToEquatorialAxes(ha, raDec[1]), current)
}

// haDecToEquatorialAxes builds the normal-form equatorial axes. X is always
// left in [0, 180].
func (t *Transformer) haDecToEquatorialAxes(haHours, dec float64) Axes {
	axes := Axes{Range360(HoursToDegrees * haHours), dec}
	if t.Convention.Hemisphere() == South {
		axes[1] = -axes[1]
	}
	if axes[0] > 180.0 || axes[0] < 0 {
		// through the pole
		axes[0] += 180
		axes[1] = 180 - axes[1]
	}
	return RangeAxesXy(axes)
}

// AxesToRaDec converts app axes to RA (hours, [0, 24)) and Dec (degrees, [-90, 90]).
func (t *Transformer) AxesToRaDec(a Axes, lst float64) (ra, dec float64) {
	if t.Convention.Mode() == AltAz {
		eq := HorizontalToEquatorial(HorizontalCoordinates{
			Altitude: a[1],
			Azimuth:  Range360(a[0]),
		}, lst, t.Latitude)
		return eq.RightAscension, Range90(eq.Declination)
	}

	ha, dec := t.AxesToHaDec(a)
	return Range24(lst - ha), dec
}

// AxesToHaDec converts equatorial app axes to hour angle (hours, [0, 24)) and
// declination. It is only meaningful for the equatorial modes.
func (t *Transformer) AxesToHaDec(a Axes) (haHours, dec float64) {
	axes := RangeAxesXy(a)
	if axes[1] > 90 {
		axes[0] += 180
		axes[1] = 180 - axes[1]
		axes = RangeAxesXy(axes)
	}
	dec = axes[1]
	if t.Convention.Hemisphere() == South {
		dec = -dec
	}
	return Range24(axes[0] / HoursToDegrees), Range90(dec)
}

// AxesToAzAlt converts app axes to horizontal coordinates.
func (t *Transformer) AxesToAzAlt(a Axes, lst float64) HorizontalCoordinates {
	if t.Convention.Mode() == AltAz {
		return HorizontalCoordinates{Altitude: a[1], Azimuth: Range360(a[0])}
	}
	ha, dec := t.AxesToHaDec(a)
	return HaDecToAltAz(ha, dec, t.Latitude)
}

// AzAltToAxes converts azimuth and altitude (degrees) to app axes.
func (t *Transformer) AzAltToAxes(az, alt, lst float64, current Axes) Axes {
	if t.Convention.Mode() == AltAz {
		return t.SelectAlternate(Axes{Range180(az), alt}, current)
	}
	ha, dec := AltAzToHaDec(alt, az, t.Latitude)
	return t.RaDecToAxes([2]float64{ha, dec}, lst, true, current)
}

// SelectAlternate returns the alternate position of a when it is allowed by
// the mount limits and closer to current, otherwise a.
func (t *Transformer) SelectAlternate(a, current Axes) Axes {
	alt := t.Convention.AlternatePosition(a)

	if t.Convention.Mode() == AltAz {
		if math.Abs(alt[0]) > 180+t.AzimuthLimit {
			return a
		}
		if math.Abs(alt[0]-current[0]) < math.Abs(a[0]-current[0]) {
			return alt
		}
		return a
	}

	if !t.WithinFlipLimits(a) {
		return a
	}
	if axisTravel(alt, current) < axisTravel(a, current) {
		return alt
	}
	return a
}

// WithinFlipLimits reports whether an equatorial position is close enough to
// the meridian that either side of the pier can reach it.
func (t *Transformer) WithinFlipLimits(a Axes) bool {
	var d float64
	if throughPole(a) {
		d = math.Abs(180 - a[0])
	} else {
		d = math.Abs(a[0])
	}
	return d < t.HourAngleLimit
}

// IsFlipRequired reports whether slewing to RA/Dec needs the other pier side
// than current.
func (t *Transformer) IsFlipRequired(ra, dec, lst float64, current PierSide) bool {
	var target Axes
	if t.Convention.Mode() == AltAz {
		horiz := HaDecToAltAz(lst-ra, dec, t.Latitude)
		target = Axes{Range180(horiz.Azimuth), horiz.Altitude}
	} else {
		target = t.haDecToEquatorialAxes(lst-ra, dec)
		if t.WithinFlipLimits(target) {
			return false
		}
	}
	return t.PierSide(target) != current
}

// axisTravel is the larger of the per-axis distances, the axes move together.
func axisTravel(a, b Axes) float64 {
	return math.Max(math.Abs(a[0]-b[0]), math.Abs(a[1]-b[1]))
}
