package tracking

import (
	"fmt"
	"math"
	"strings"

	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
)

// TrackingRate selects the base tracking rate.
type TrackingRate int

const (
	Sidereal TrackingRate = iota
	Lunar
	Solar
	King
)

// Base rates in arc seconds per SI second
const (
	SiderealRate = coordinates.SiderealRate
	LunarRate    = 14.685
	SolarRate    = 15.0
	KingRate     = 15.0369
)

// SiderealSecondsPerSecond converts RA offsets given per sidereal second.
const SiderealSecondsPerSecond = 1.00273790935

// String returns the configuration name of the rate.
func (r TrackingRate) String() string {
	switch r {
	case Sidereal:
		return "sidereal"
	case Lunar:
		return "lunar"
	case Solar:
		return "solar"
	case King:
		return "king"
	default:
		return fmt.Sprintf("rate(%d)", int(r))
	}
}

// ParseTrackingRate converts a configuration name to a TrackingRate.
func ParseTrackingRate(s string) (TrackingRate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sidereal":
		return Sidereal, nil
	case "lunar":
		return Lunar, nil
	case "solar":
		return Solar, nil
	case "king":
		return King, nil
	}
	return Sidereal, fmt.Errorf("unknown tracking rate %q", s)
}

// ArcSecondsPerSecond returns the rate in arc seconds per SI second.
func (r TrackingRate) ArcSecondsPerSecond() float64 {
	switch r {
	case Lunar:
		return LunarRate
	case Solar:
		return SolarRate
	case King:
		return KingRate
	default:
		return SiderealRate
	}
}

// RateInputs carries everything the primary axis tracking rate depends on.
type RateInputs struct {
	Base TrackingRate

	// CustomGearing adds CustomOffset (arc sec/s) to base rates below twice sidereal
	CustomGearing bool
	CustomOffset  float64

	// PEC is applied when enabled, tracking is on and the factor is safe
	PECEnabled bool
	Tracking   bool
	PECFactor  float64

	// RaOffset is the user RA rate in seconds of RA per sidereal second
	RaOffset float64
}

// CurrentRate returns the primary axis tracking rate in degrees per second.
func CurrentRate(in RateInputs) float64 {
	rate := in.Base.ArcSecondsPerSecond()

	if in.CustomGearing && math.Abs(rate) < 2*SiderealRate {
		rate += in.CustomOffset
	}

	if in.PECEnabled && in.Tracking && pec.IsSafeFactor(in.PECFactor) {
		rate *= in.PECFactor
	}

	rate += RaOffsetArcSeconds(in.RaOffset)

	return rate / coordinates.ArcSecondsPerDegree
}

// RaOffsetArcSeconds converts an RA rate offset in seconds of RA per sidereal
// second to arc seconds per SI second.
func RaOffsetArcSeconds(secondsPerSiderealSecond float64) float64 {
	return secondsPerSiderealSecond * coordinates.HoursToDegrees / SiderealSecondsPerSecond
}

// DefaultHandControllerSpeeds are the hand controller speeds 1 to 8 as
// multiples of the sidereal rate.
var DefaultHandControllerSpeeds = [8]float64{1, 2, 8, 16, 64, 128, 400, 800}

// SpeedDegrees converts a sidereal multiple to degrees per second.
func SpeedDegrees(multiple float64) float64 {
	return multiple * SiderealRate / coordinates.ArcSecondsPerDegree
}

// ClampRate limits each axis rate to ±max degrees per second.
func ClampRate(rate coordinates.Axes, max float64) coordinates.Axes {
	for i := range rate {
		if rate[i] > max {
			rate[i] = max
		} else if rate[i] < -max {
			rate[i] = -max
		}
	}
	return rate
}
