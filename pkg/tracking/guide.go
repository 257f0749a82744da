package tracking

import (
	"fmt"
	"strings"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// GuideDirection is a pulse guide or hand controller direction.
// The values match the ASCOM GuideDirections enumeration.
type GuideDirection int

const (
	GuideNorth GuideDirection = iota
	GuideSouth
	GuideEast
	GuideWest
)

// String returns the direction name.
func (d GuideDirection) String() string {
	switch d {
	case GuideNorth:
		return "north"
	case GuideSouth:
		return "south"
	case GuideEast:
		return "east"
	case GuideWest:
		return "west"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseGuideDirection converts a direction name or initial to a GuideDirection.
func ParseGuideDirection(s string) (GuideDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "north":
		return GuideNorth, nil
	case "s", "south":
		return GuideSouth, nil
	case "e", "east":
		return GuideEast, nil
	case "w", "west":
		return GuideWest, nil
	}
	return 0, fmt.Errorf("unknown guide direction %q", s)
}

// Axis returns 0 for the RA directions (east, west) and 1 for the
// declination directions (north, south).
func (d GuideDirection) Axis() int {
	if d == GuideEast || d == GuideWest {
		return 0
	}
	return 1
}

// sense is +1 for north and west, -1 for south and east.
func (d GuideDirection) sense() float64 {
	if d == GuideNorth || d == GuideWest {
		return 1
	}
	return -1
}

// RaWestSign returns the mount axis 0 sign of a westward move.
func RaWestSign(conv coordinates.Convention) float64 {
	return conv.RateSigns()[0]
}

// DecNorthSign returns the mount axis 1 sign of a northward move for the
// equatorial modes.
//
// The German table is mirrored between mount kinds. It was measured on real
// gearing and must not be simplified.
func DecNorthSign(mode coordinates.AlignmentMode, kind coordinates.MountKind, hemisphere coordinates.Hemisphere, side coordinates.PierSide) float64 {
	switch mode {
	case coordinates.GermanPolar:
		switch kind {
		case coordinates.Physical:
			if side == coordinates.PierEast {
				return -1
			}
			return 1
		default:
			if side == coordinates.PierEast {
				return 1
			}
			return -1
		}
	case coordinates.Polar:
		sign := 1.0
		if side != coordinates.PierEast {
			sign = -1
		}
		if hemisphere == coordinates.South {
			sign = -sign
		}
		return sign
	}
	return 1
}

// MountGuideSign returns the sign a guide direction moves its mount axis
// with for an equatorial mount on the given pier side.
func MountGuideSign(conv coordinates.Convention, d GuideDirection, side coordinates.PierSide) float64 {
	if d.Axis() == 0 {
		return d.sense() * RaWestSign(conv)
	}
	return d.sense() * DecNorthSign(conv.Mode(), conv.Kind(), conv.Hemisphere(), side)
}

// PredictorOffset returns the RA (hours) and Dec (degrees) offset an Alt-Az
// pulse applies to the predictor. A westward pulse moves the pointing west,
// which lowers the target RA.
func PredictorOffset(d GuideDirection, degrees float64) (dRa, dDec float64) {
	if d.Axis() == 0 {
		return -d.sense() * degrees / coordinates.HoursToDegrees, 0
	}
	return 0, d.sense() * degrees
}
