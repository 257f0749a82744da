package tracking

import (
	"fmt"
	"math"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// LimitEvent describes which axis limit the mount is at.
type LimitEvent int

const (
	// NoLimit means tracking can continue normally
	NoLimit LimitEvent = iota

	// SlewLimit means the mount is past the slew range of an axis. It raises
	// the warning indicator only.
	SlewLimit

	// TrackingLimit means an Alt-Az azimuth axis is past its slew range plus
	// the tracking margin. Tracking must stop.
	TrackingLimit

	// MeridianLimit means a German mount has tracked past the meridian limit
	// plus margin, or an Alt-Az altitude axis left its range
	MeridianLimit

	// HorizonLimit means a German mount tracking on the east side of the pier
	// dropped below the horizon altitude
	HorizonLimit
)

// String returns a display name for the event.
func (e LimitEvent) String() string {
	switch e {
	case NoLimit:
		return "none"
	case SlewLimit:
		return "slew"
	case TrackingLimit:
		return "tracking"
	case MeridianLimit:
		return "meridian"
	case HorizonLimit:
		return "horizon"
	default:
		return "unknown"
	}
}

// Stops reports whether the event requires an action beyond the warning.
func (e LimitEvent) Stops() bool {
	return e >= TrackingLimit
}

// altitudeTolerance is the allowance outside the configured altitude range.
const altitudeTolerance = 1.0

// AxisLimits defines the mechanical and tracking limits for a mount.
type AxisLimits struct {
	Mode coordinates.AlignmentMode

	// MinAltitude and MaxAltitude bound the Alt-Az altitude axis in degrees
	MinAltitude float64
	MaxAltitude float64

	// AzimuthSlewLimit is how far past ±180° the Alt-Az azimuth axis may go
	AzimuthSlewLimit float64

	// HourAngleLimit is how far past the meridian a German mount may go, in degrees
	HourAngleLimit float64

	// TrackingMargin is the extra room allowed while tracking, in degrees
	TrackingMargin float64

	// HorizonLimit enables the horizon check at HorizonAltitude degrees
	HorizonLimit    bool
	HorizonAltitude float64
}

// DefaultAxisLimits returns conservative limits for an alignment mode.
func DefaultAxisLimits(mode coordinates.AlignmentMode) AxisLimits {
	return AxisLimits{
		Mode:             mode,
		MinAltitude:      -5.0,
		MaxAltitude:      90.0,
		AzimuthSlewLimit: 10.0,
		HourAngleLimit:   15.0,
		TrackingMargin:   5.0,
		HorizonAltitude:  0.0,
	}
}

// LimitInput is the mount state a limit check looks at.
type LimitInput struct {
	// App is the current position in app axes, not ranged
	App coordinates.Axes

	// Altitude of the optical axis in degrees
	Altitude float64

	PierSide coordinates.PierSide
	Tracking bool
}

// LimitResult is the outcome of Evaluate.
type LimitResult struct {
	Event   LimitEvent
	Message string
}

// Evaluate checks the mount position against the limits.
// It is called on every control loop tick.
func (l AxisLimits) Evaluate(in LimitInput) LimitResult {
	switch l.Mode {
	case coordinates.AltAz:
		return l.evaluateAltAz(in)
	case coordinates.GermanPolar:
		return l.evaluateGermanPolar(in)
	}
	return LimitResult{Event: NoLimit, Message: "Tracking OK"}
}

func (l AxisLimits) evaluateAltAz(in LimitInput) LimitResult {
	alt := in.App[1]
	if alt < l.MinAltitude-altitudeTolerance || alt > l.MaxAltitude+altitudeTolerance {
		return LimitResult{
			Event:   MeridianLimit,
			Message: fmt.Sprintf("Altitude %.2f° outside limits [%.1f°, %.1f°]", alt, l.MinAltitude, l.MaxAltitude),
		}
	}

	az := in.App[0]
	over := math.Abs(az) - 180 - l.AzimuthSlewLimit
	if over <= 0 {
		return LimitResult{Event: NoLimit, Message: "Tracking OK"}
	}

	side := "west"
	if az < 0 {
		side = "east"
	}
	if over > l.TrackingMargin {
		return LimitResult{
			Event:   TrackingLimit,
			Message: fmt.Sprintf("Azimuth axis %.2f° past the %s tracking limit", az, side),
		}
	}
	return LimitResult{
		Event:   SlewLimit,
		Message: fmt.Sprintf("Azimuth axis %.2f° past the %s slew limit", az, side),
	}
}

func (l AxisLimits) evaluateGermanPolar(in LimitInput) LimitResult {
	x := in.App[0]

	// App X runs from -limit (east of the meridian on the normal side) to
	// 180 + limit (west of the meridian through the pole)
	var over float64
	switch {
	case x < -l.HourAngleLimit:
		over = -l.HourAngleLimit - x
	case x > 180+l.HourAngleLimit:
		over = x - 180 - l.HourAngleLimit
	}

	if over > l.TrackingMargin {
		return LimitResult{
			Event:   MeridianLimit,
			Message: fmt.Sprintf("Hour angle axis %.2f° past the meridian limit", x),
		}
	}

	if l.HorizonLimit && in.Tracking && in.PierSide == coordinates.PierEast && in.Altitude < l.HorizonAltitude {
		return LimitResult{
			Event:   HorizonLimit,
			Message: fmt.Sprintf("Altitude %.2f° below the horizon limit %.1f°", in.Altitude, l.HorizonAltitude),
		}
	}

	if over > 0 {
		return LimitResult{
			Event:   SlewLimit,
			Message: fmt.Sprintf("Hour angle axis %.2f° past the slew limit", x),
		}
	}

	return LimitResult{Event: NoLimit, Message: "Tracking OK"}
}

// ClampRate zeroes axis rates that would drive the mount further past a
// limit. rate is in app axes, the same space as app.
func (l AxisLimits) ClampRate(app, rate coordinates.Axes) coordinates.Axes {
	switch l.Mode {
	case coordinates.AltAz:
		if app[1] <= l.MinAltitude && rate[1] < 0 {
			rate[1] = 0
		}
		if app[1] >= l.MaxAltitude && rate[1] > 0 {
			rate[1] = 0
		}
		limit := 180 + l.AzimuthSlewLimit + l.TrackingMargin
		if app[0] >= limit && rate[0] > 0 {
			rate[0] = 0
		}
		if app[0] <= -limit && rate[0] < 0 {
			rate[0] = 0
		}
	case coordinates.GermanPolar:
		limit := l.HourAngleLimit + l.TrackingMargin
		if app[0] >= 180+limit && rate[0] > 0 {
			rate[0] = 0
		}
		if app[0] <= -limit && rate[0] < 0 {
			rate[0] = 0
		}
	}
	return rate
}
