package coordinates

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedMount is returned when an alignment mode and mount kind
// combination has no axis convention.
var ErrUnsupportedMount = errors.New("unsupported alignment mode and mount kind")

// AlignmentMode is the mechanical layout of the mount. It is fixed for a session.
type AlignmentMode int

const (
	// AltAz mounts move in azimuth and altitude
	AltAz AlignmentMode = iota

	// Polar mounts (fork on a wedge) move in hour angle and declination
	Polar

	// GermanPolar mounts move in hour angle and declination and can point at
	// most of the sky from either side of the pier
	GermanPolar
)

// String returns the configuration name of the alignment mode.
func (m AlignmentMode) String() string {
	switch m {
	case AltAz:
		return "altaz"
	case Polar:
		return "polar"
	case GermanPolar:
		return "germanpolar"
	default:
		return fmt.Sprintf("alignment(%d)", int(m))
	}
}

// ParseAlignmentMode converts a configuration string to an AlignmentMode.
func ParseAlignmentMode(s string) (AlignmentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "altaz", "alt-az":
		return AltAz, nil
	case "polar":
		return Polar, nil
	case "germanpolar", "german-polar", "gem":
		return GermanPolar, nil
	}
	return 0, fmt.Errorf("%w: alignment mode %q", ErrUnsupportedMount, s)
}

// MountKind selects the sign conventions of the hardware behind the axes.
type MountKind int

const (
	// Simulator is the in-process simulated mount
	Simulator MountKind = iota

	// Physical is a real geared mount
	Physical
)

// String returns the configuration name of the mount kind.
func (k MountKind) String() string {
	switch k {
	case Simulator:
		return "simulator"
	case Physical:
		return "physical"
	default:
		return fmt.Sprintf("mount(%d)", int(k))
	}
}

// ParseMountKind converts a configuration string to a MountKind.
func ParseMountKind(s string) (MountKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simulator":
		return Simulator, nil
	case "physical", "skywatcher":
		return Physical, nil
	}
	return 0, fmt.Errorf("%w: mount kind %q", ErrUnsupportedMount, s)
}

// Hemisphere of the observer.
type Hemisphere int

const (
	North Hemisphere = iota
	South
)

// HemisphereFromLatitude returns South for negative latitudes.
func HemisphereFromLatitude(latitude float64) Hemisphere {
	if latitude < 0 {
		return South
	}
	return North
}

// Sign returns +1 for the northern hemisphere and -1 for the southern.
func (h Hemisphere) Sign() float64 {
	if h == South {
		return -1
	}
	return 1
}

// PierSide is the side of the pier the optical tube is on (ASCOM meaning:
// PierEast is the mount on the east side looking west).
type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

// String returns a display name for the pier side.
func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "east"
	case PierWest:
		return "west"
	default:
		return "unknown"
	}
}

// polarDeadBand keeps the pier side from flickering when an axis sits on 90°.
const polarDeadBand = 0.0000000001

// Convention maps between app axes and mount axes for one alignment mode,
// mount kind and hemisphere. It is built once from configuration.
type Convention interface {
	// Mode returns the alignment mode this convention belongs to.
	Mode() AlignmentMode

	// Kind returns the mount kind this convention belongs to.
	Kind() MountKind

	// Hemisphere returns the observer hemisphere the convention was built for.
	Hemisphere() Hemisphere

	// AppToMount converts app axes to the positions the hardware uses.
	AppToMount(a Axes) Axes

	// MountToApp converts hardware positions to app axes.
	MountToApp(a Axes) Axes

	// RateSigns returns the sign each mount axis moves with for a positive
	// change of the matching app axis.
	RateSigns() Axes

	// AlternatePosition returns the other position that points at the same
	// place in the sky. Applying it twice returns the original position.
	AlternatePosition(a Axes) Axes

	// PierSide returns the pier side for a position in mount space.
	PierSide(mount Axes) PierSide
}

// NewConvention constructs the convention for a mode, kind and hemisphere.
func NewConvention(mode AlignmentMode, kind MountKind, hemisphere Hemisphere) (Convention, error) {
	if kind != Simulator && kind != Physical {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMount, kind)
	}
	switch mode {
	case AltAz:
		return altAzConvention{kind: kind, hemisphere: hemisphere}, nil
	case Polar:
		return polarConvention{kind: kind, hemisphere: hemisphere}, nil
	case GermanPolar:
		return germanPolarConvention{kind: kind, hemisphere: hemisphere}, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedMount, mode, kind)
}

type altAzConvention struct {
	kind       MountKind
	hemisphere Hemisphere
}

func (c altAzConvention) Mode() AlignmentMode    { return AltAz }
func (c altAzConvention) Kind() MountKind        { return c.kind }
func (c altAzConvention) Hemisphere() Hemisphere { return c.hemisphere }
func (c altAzConvention) AppToMount(a Axes) Axes { return a }
func (c altAzConvention) MountToApp(a Axes) Axes { return a }
func (c altAzConvention) RateSigns() Axes        { return Axes{1, 1} }

func (c altAzConvention) AlternatePosition(a Axes) Axes {
	if a[0] > 0 {
		return Axes{a[0] - 360, a[1]}
	}
	return Axes{a[0] + 360, a[1]}
}

// PierSide for an Alt-Az mount only reflects which half of the azimuth
// range the primary axis is in.
func (c altAzConvention) PierSide(mount Axes) PierSide {
	if mount[0] >= 0 {
		return PierWest
	}
	return PierEast
}

type polarConvention struct {
	kind       MountKind
	hemisphere Hemisphere
}

func (c polarConvention) Mode() AlignmentMode    { return Polar }
func (c polarConvention) Kind() MountKind        { return c.kind }
func (c polarConvention) Hemisphere() Hemisphere { return c.hemisphere }

func (c polarConvention) AppToMount(a Axes) Axes {
	if c.hemisphere == South {
		return Axes{-a[0], a[1]}
	}
	return a
}

func (c polarConvention) MountToApp(a Axes) Axes { return c.AppToMount(a) }

func (c polarConvention) RateSigns() Axes {
	if c.hemisphere == South {
		return Axes{-1, 1}
	}
	return Axes{1, 1}
}

func (c polarConvention) AlternatePosition(a Axes) Axes { return equatorialAlternate(a) }

func (c polarConvention) PierSide(mount Axes) PierSide {
	if mount[1] < 90+polarDeadBand && mount[1] > -90-polarDeadBand {
		return PierEast
	}
	return PierWest
}

type germanPolarConvention struct {
	kind       MountKind
	hemisphere Hemisphere
}

func (c germanPolarConvention) Mode() AlignmentMode    { return GermanPolar }
func (c germanPolarConvention) Kind() MountKind        { return c.kind }
func (c germanPolarConvention) Hemisphere() Hemisphere { return c.hemisphere }

// AppToMount reflects the axes the way each mount kind is geared. The
// simulator only mirrors the primary axis in the south. Physical mounts
// mirror the primary axis in the south and the secondary axis in the north.
func (c germanPolarConvention) AppToMount(a Axes) Axes {
	switch {
	case c.hemisphere == South:
		return Axes{180 - a[0], a[1]}
	case c.kind == Physical:
		return Axes{a[0], 180 - a[1]}
	}
	return a
}

// MountToApp is the same reflection, every branch of AppToMount is an involution.
func (c germanPolarConvention) MountToApp(a Axes) Axes { return c.AppToMount(a) }

func (c germanPolarConvention) RateSigns() Axes {
	switch {
	case c.hemisphere == South:
		return Axes{-1, 1}
	case c.kind == Physical:
		return Axes{1, -1}
	}
	return Axes{1, 1}
}

func (c germanPolarConvention) AlternatePosition(a Axes) Axes { return equatorialAlternate(a) }

// PierSide for a German mount. The east/west assignment is swapped between
// the simulator and physical mounts in each hemisphere; the physical table is
// calibrated against real gearing and must stay as it is.
func (c germanPolarConvention) PierSide(mount Axes) PierSide {
	normal := mount[1] < 90 && mount[1] > -90
	east := normal
	switch {
	case c.kind == Simulator && c.hemisphere == South:
		east = !normal
	case c.kind == Physical && c.hemisphere == North:
		east = !normal
	}
	if east {
		return PierEast
	}
	return PierWest
}

// equatorialAlternate moves to the other side of the pole.
func equatorialAlternate(a Axes) Axes {
	if a[0] > 90 {
		return Axes{a[0] - 180, 180 - a[1]}
	}
	return Axes{a[0] + 180, 180 - a[1]}
}

// throughPole reports whether app axes are on the through-the-pole side.
func throughPole(a Axes) bool {
	return math.Abs(Range180(a[1])) > 90
}
