// Package hardware is the asynchronous command boundary between the mount
// controller and a mount: commands are queued, executed in order by a single
// worker and their results collected through handles.
//
// Every position and rate at this boundary is in mount axes and degrees.
package hardware

import (
	"errors"
	"fmt"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

var (
	// ErrDeviceFault is returned when the mount reports or causes a failure
	ErrDeviceFault = errors.New("mount device fault")

	// ErrQueueStopped is returned for commands sent to a stopped queue
	ErrQueueStopped = errors.New("hardware queue stopped")
)

// CommandKind selects what a command does.
type CommandKind int

const (
	// GoTo moves the masked axes to Axes at slew speed
	GoTo CommandKind = iota

	// MoveRelative moves the masked axes by Axes degrees at slew speed
	MoveRelative

	// PulseGuide adds Rate to one axis for Duration on top of its current rate
	PulseGuide

	// SetRate sets the continuous rate of the masked axes to Axes degrees per second
	SetRate

	// Stop aborts gotos, pulses and rates on the masked axes
	Stop

	// QueryPositions reads both axis positions
	QueryPositions

	// QueryStopped reads whether the masked axes are stationary
	QueryStopped
)

// String returns the command name.
func (k CommandKind) String() string {
	switch k {
	case GoTo:
		return "goto"
	case MoveRelative:
		return "move-relative"
	case PulseGuide:
		return "pulse-guide"
	case SetRate:
		return "set-rate"
	case Stop:
		return "stop"
	case QueryPositions:
		return "query-positions"
	case QueryStopped:
		return "query-stopped"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// AxisMask selects which axes a command applies to.
type AxisMask [2]bool

// Both axes.
var Both = AxisMask{true, true}

// Primary and Secondary select a single axis.
var (
	Primary   = AxisMask{true, false}
	Secondary = AxisMask{false, true}
)

// AxisOnly returns the mask for one axis index.
func AxisOnly(axis int) AxisMask {
	var m AxisMask
	if axis >= 0 && axis < 2 {
		m[axis] = true
	}
	return m
}

// Command is one request to the mount.
type Command struct {
	Kind CommandKind
	Mask AxisMask

	// Axes is the target, delta or rate depending on Kind
	Axes coordinates.Axes

	// Axis, Rate and Duration describe a PulseGuide
	Axis     int
	Rate     float64
	Duration time.Duration
}

// Result is the outcome of a command. Every result carries the positions and
// flags the device knew when it finished the command.
type Result struct {
	// ID is the request id of the command
	ID uint64

	Kind      CommandKind
	Positions coordinates.Axes

	// Stopped is true per axis when no goto, rate or pulse is moving it
	Stopped [2]bool

	// PulseGuiding is true per axis while a pulse is running
	PulseGuiding [2]bool
}

// AllStopped reports whether every masked axis is stopped.
func (r Result) AllStopped(m AxisMask) bool {
	for i := range m {
		if m[i] && !r.Stopped[i] {
			return false
		}
	}
	return true
}
