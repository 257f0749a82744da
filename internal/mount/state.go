package mount

import (
	"fmt"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// SlewState is the state of the slew engine.
type SlewState int

const (
	SlewNone SlewState = iota
	SlewSettle
	SlewMoveAxis
	SlewGoToRaDec
	SlewGoToAltAz
	SlewGoToPark
	SlewGoToHome
	SlewGoToAxes
	SlewHandpadMove
	SlewComplete
)

// String returns the state name.
func (s SlewState) String() string {
	switch s {
	case SlewNone:
		return "none"
	case SlewSettle:
		return "settle"
	case SlewMoveAxis:
		return "move-axis"
	case SlewGoToRaDec:
		return "goto-radec"
	case SlewGoToAltAz:
		return "goto-altaz"
	case SlewGoToPark:
		return "goto-park"
	case SlewGoToHome:
		return "goto-home"
	case SlewGoToAxes:
		return "goto-axes"
	case SlewHandpadMove:
		return "handpad"
	case SlewComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Slewing reports whether the state implies the mount is slewing.
func (s SlewState) Slewing() bool {
	switch s {
	case SlewMoveAxis, SlewGoToRaDec, SlewGoToAltAz, SlewGoToPark, SlewGoToHome, SlewGoToAxes:
		return true
	}
	return false
}

// ownsAxes reports whether a goto holds the axes. The control loop leaves
// the axis rates alone in these states.
func (s SlewState) ownsAxes() bool {
	switch s {
	case SlewSettle, SlewGoToRaDec, SlewGoToAltAz, SlewGoToPark, SlewGoToHome, SlewGoToAxes:
		return true
	}
	return false
}

// hcPrevMove is the last hand controller move on one axis, kept for
// backlash correction.
type hcPrevMove struct {
	valid     bool
	direction tracking.GuideDirection
	startStep float64
	endStep   float64
	stepDelta float64
	startTime time.Time
}

// state is every mutable field of the controller. It is guarded by
// Controller.mu.
type state struct {
	// last positions read from the hardware
	mount coordinates.Axes
	app   coordinates.Axes
	lst   float64
	ra    float64
	dec   float64
	horiz coordinates.HorizontalCoordinates
	side  coordinates.PierSide
	read  bool

	slewState SlewState

	tracking     bool
	trackingRate tracking.TrackingRate

	// user rate offsets, RA in seconds of RA per sidereal second and Dec in
	// arc seconds per second
	raRateOffset  float64
	decRateOffset float64

	predictor tracking.Predictor

	// altAzTracking is set while the Alt-Az tracking timer drives the axes
	altAzTracking bool
	altAzRate     coordinates.Axes

	// rate contributions in app axes, degrees per second
	hcRate       coordinates.Axes
	moveAxisRate coordinates.Axes

	// lastRate is the mount rate last sent to the hardware
	lastRate     coordinates.Axes
	haveLastRate bool

	// rateGen changes when a goto takes the axes. Rates composed under an
	// older generation are not sent.
	rateGen uint64

	pulseGuiding [2]bool
	lastDecPulse tracking.GuideDirection
	haveDecPulse bool

	hcPrev   [2]hcPrevMove
	decAccum float64

	pecEnabled bool
	pecTable   *pec.Table
	corrector  *pec.Corrector
	pecIndex   int
	pecFactor  float64

	atPark   bool
	parkName string

	limit      tracking.LimitResult
	limitAlarm bool

	mountErr error
}

// Snapshot is the published view of the mount.
type Snapshot struct {
	Time time.Time `json:"time"`

	MountAxes coordinates.Axes `json:"mountAxes"`
	AppAxes   coordinates.Axes `json:"appAxes"`

	RightAscension float64 `json:"rightAscension"`
	Declination    float64 `json:"declination"`
	Altitude       float64 `json:"altitude"`
	Azimuth        float64 `json:"azimuth"`
	SiderealTime   float64 `json:"siderealTime"`
	PierSide       string  `json:"pierSide"`

	SlewState    string  `json:"slewState"`
	Slewing      bool    `json:"slewing"`
	Tracking     bool    `json:"tracking"`
	TrackingRate string  `json:"trackingRate"`
	AtPark       bool    `json:"atPark"`
	ParkName     string  `json:"parkName,omitempty"`
	PulseGuiding [2]bool `json:"pulseGuiding"`

	PECEnabled bool    `json:"pecEnabled"`
	PECBin     int     `json:"pecBin"`
	PECFactor  float64 `json:"pecFactor"`

	LimitEvent   string `json:"limitEvent"`
	LimitAlarm   bool   `json:"limitAlarm"`
	LimitMessage string `json:"limitMessage,omitempty"`

	MountError string `json:"mountError,omitempty"`
}

func (s *state) snapshot(t time.Time) Snapshot {
	snap := Snapshot{
		Time:           t,
		MountAxes:      s.mount,
		AppAxes:        s.app,
		RightAscension: s.ra,
		Declination:    s.dec,
		Altitude:       s.horiz.Altitude,
		Azimuth:        s.horiz.Azimuth,
		SiderealTime:   s.lst,
		PierSide:       s.side.String(),
		SlewState:      s.slewState.String(),
		Slewing:        s.slewState.Slewing(),
		Tracking:       s.tracking,
		TrackingRate:   s.trackingRate.String(),
		AtPark:         s.atPark,
		ParkName:       s.parkName,
		PulseGuiding:   s.pulseGuiding,
		PECEnabled:     s.pecEnabled,
		PECBin:         s.pecIndex,
		PECFactor:      s.pecFactor,
		LimitEvent:     s.limit.Event.String(),
		LimitAlarm:     s.limitAlarm,
		LimitMessage:   s.limit.Message,
	}
	if s.mountErr != nil {
		snap.MountError = s.mountErr.Error()
	}
	return snap
}
