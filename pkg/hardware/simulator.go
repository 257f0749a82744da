package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// DefaultSimulatorSpeed is the simulator goto speed in degrees per second.
const DefaultSimulatorSpeed = 8.0

// simAxis is the motion state of one simulated axis.
type simAxis struct {
	position float64
	rate     float64

	gotoActive bool
	target     float64

	pulseRate float64
	pulseEnd  time.Time
}

// Simulator is an in-process mount. Positions advance with wall clock time
// from the rates, gotos and pulses in effect.
type Simulator struct {
	// Speed is the goto speed in degrees per second
	Speed float64

	// Latency delays every command, as a serial link would
	Latency time.Duration

	// GotoError is added to every absolute goto target, the way gear
	// backlash leaves a real mount short of the commanded position.
	// Relative moves are exact.
	GotoError coordinates.Axes

	mu        sync.Mutex
	axes      [2]simAxis
	last      time.Time
	connected bool
	fault     error
	now       func() time.Time
}

// NewSimulator creates a simulator parked at start (mount axes).
func NewSimulator(start coordinates.Axes, speed float64) *Simulator {
	if speed <= 0 {
		speed = DefaultSimulatorSpeed
	}
	s := &Simulator{Speed: speed, now: time.Now}
	s.axes[0].position = start[0]
	s.axes[1].position = start[1]
	return s
}

// Name identifies the device in logs.
func (s *Simulator) Name() string { return "simulator" }

// Connect marks the simulator connected.
func (s *Simulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.last = s.now()
	return nil
}

// Disconnect stops the axes and marks the simulator disconnected.
func (s *Simulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	for i := range s.axes {
		s.stopAxis(i)
	}
	s.connected = false
	return nil
}

// InjectFault makes every following command fail with err until cleared
// with a nil err.
func (s *Simulator) InjectFault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

// Positions returns the current axis positions without going through a queue.
func (s *Simulator) Positions() coordinates.Axes {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return coordinates.Axes{s.axes[0].position, s.axes[1].position}
}

// Rates returns the continuous rates of both axes.
func (s *Simulator) Rates() coordinates.Axes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return coordinates.Axes{s.axes[0].rate, s.axes[1].rate}
}

// Execute runs one command.
func (s *Simulator) Execute(ctx context.Context, cmd Command) (Result, error) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return Result{}, errors.New("simulator not connected")
	}
	if s.fault != nil {
		return Result{}, s.fault
	}

	s.advance()
	now := s.last

	switch cmd.Kind {
	case GoTo, MoveRelative:
		for i := range s.axes {
			if !cmd.Mask[i] {
				continue
			}
			a := &s.axes[i]
			target := cmd.Axes[i] + s.GotoError[i]
			if cmd.Kind == MoveRelative {
				target = a.position + cmd.Axes[i]
			}
			a.rate = 0
			a.pulseEnd = time.Time{}
			a.gotoActive = true
			a.target = target
		}
	case PulseGuide:
		if cmd.Axis < 0 || cmd.Axis > 1 {
			return Result{}, fmt.Errorf("invalid pulse axis %d", cmd.Axis)
		}
		a := &s.axes[cmd.Axis]
		a.pulseRate = cmd.Rate
		a.pulseEnd = now.Add(cmd.Duration)
	case SetRate:
		for i := range s.axes {
			if cmd.Mask[i] {
				s.axes[i].rate = cmd.Axes[i]
			}
		}
	case Stop:
		for i := range s.axes {
			if cmd.Mask[i] {
				s.stopAxis(i)
			}
		}
	case QueryPositions, QueryStopped:
	default:
		return Result{}, fmt.Errorf("unsupported command %s", cmd.Kind)
	}

	return s.result(), nil
}

func (s *Simulator) stopAxis(i int) {
	a := &s.axes[i]
	a.rate = 0
	a.gotoActive = false
	a.pulseEnd = time.Time{}
	a.pulseRate = 0
}

func (s *Simulator) result() Result {
	var r Result
	for i := range s.axes {
		a := &s.axes[i]
		guiding := a.pulseEnd.After(s.last)
		r.Positions[i] = a.position
		r.PulseGuiding[i] = guiding
		r.Stopped[i] = !a.gotoActive && a.rate == 0 && !guiding
	}
	return r
}

// advance moves every axis from the last update to now.
func (s *Simulator) advance() {
	now := s.now()
	if s.last.IsZero() {
		s.last = now
		return
	}
	dt := now.Sub(s.last).Seconds()
	if dt <= 0 {
		return
	}
	prev := s.last
	s.last = now

	for i := range s.axes {
		a := &s.axes[i]

		if a.gotoActive {
			step := s.Speed * dt
			diff := a.target - a.position
			if math.Abs(diff) <= step {
				a.position = a.target
				a.gotoActive = false
			} else {
				a.position += math.Copysign(step, diff)
			}
			continue
		}

		a.position += a.rate * dt

		if !a.pulseEnd.IsZero() {
			end := a.pulseEnd
			if end.After(now) {
				end = now
			}
			if active := end.Sub(prev).Seconds(); active > 0 {
				a.position += a.pulseRate * active
			}
			if !a.pulseEnd.After(now) {
				a.pulseEnd = time.Time{}
				a.pulseRate = 0
			}
		}
	}
}
