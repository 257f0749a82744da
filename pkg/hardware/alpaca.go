package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/alpaca"
	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// ErrAxisRange is returned for goto targets the Alpaca axes cannot reach.
var ErrAxisRange = errors.New("axis position outside the device range")

// AlpacaDevice drives a physical Alt-Az mount through an Alpaca telescope
// server: the primary axis is azimuth and the secondary axis altitude.
// Pulses are run as a temporary MoveAxis rate on top of the axis tracking
// rate.
type AlpacaDevice struct {
	client *alpaca.Client
	log    logging.Logger

	mu     sync.Mutex
	rates  coordinates.Axes
	pulses [2]*alpacaPulse
}

type alpacaPulse struct {
	end   time.Time
	timer *time.Timer
}

// NewAlpacaDevice wraps an Alpaca client.
func NewAlpacaDevice(client *alpaca.Client, log logging.Logger) *AlpacaDevice {
	if log == nil {
		log = logging.Noop()
	}
	return &AlpacaDevice{client: client, log: log.With(logging.String("device", "alpaca"))}
}

// CheckAlpacaMode reports whether an alignment mode can be driven through
// Alpaca azimuth and altitude. Equatorial axes run past 90 degrees on the
// secondary axis and through the pole on the primary, which an Alpaca
// server has no axis position for.
func CheckAlpacaMode(mode coordinates.AlignmentMode) error {
	if mode != coordinates.AltAz {
		return fmt.Errorf("%w: alpaca device drives alt-az mounts only, not %s", coordinates.ErrUnsupportedMount, mode)
	}
	return nil
}

// Name identifies the device in logs.
func (d *AlpacaDevice) Name() string { return "alpaca" }

// Connect connects to the server and checks it can move the axes.
func (d *AlpacaDevice) Connect(ctx context.Context) error {
	if err := d.client.Connect(ctx); err != nil {
		return err
	}
	caps, err := d.client.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if !caps.CanMoveAxis || !caps.CanSlewAltAz {
		return fmt.Errorf("alpaca device %q cannot move its axes", caps.Description)
	}
	// tracking is composed by the controller as axis rates
	if caps.CanSetTracking {
		if err := d.client.SetTracking(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect stops the axes and disconnects.
func (d *AlpacaDevice) Disconnect(ctx context.Context) error {
	d.cancelPulses()
	if err := d.client.StopAxes(ctx); err != nil {
		return err
	}
	return d.client.Disconnect(ctx)
}

// Execute runs one command.
func (d *AlpacaDevice) Execute(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.Kind {
	case GoTo, MoveRelative:
		if err := d.goTo(ctx, cmd); err != nil {
			return Result{}, err
		}
	case PulseGuide:
		if err := d.pulse(ctx, cmd); err != nil {
			return Result{}, err
		}
	case SetRate:
		for i := range cmd.Mask {
			if !cmd.Mask[i] {
				continue
			}
			if err := d.client.MoveAxis(ctx, i, cmd.Axes[i]); err != nil {
				return Result{}, err
			}
			d.mu.Lock()
			d.rates[i] = cmd.Axes[i]
			d.mu.Unlock()
		}
	case Stop:
		d.cancelPulses()
		if err := d.client.AbortSlew(ctx); err != nil {
			return Result{}, err
		}
		for i := range cmd.Mask {
			if !cmd.Mask[i] {
				continue
			}
			if err := d.client.MoveAxis(ctx, i, 0); err != nil {
				return Result{}, err
			}
			d.mu.Lock()
			d.rates[i] = 0
			d.mu.Unlock()
		}
	case QueryPositions, QueryStopped:
	default:
		return Result{}, fmt.Errorf("unsupported command %s", cmd.Kind)
	}

	return d.read(ctx)
}

func (d *AlpacaDevice) goTo(ctx context.Context, cmd Command) error {
	current, err := d.positions(ctx)
	if err != nil {
		return err
	}
	target := current
	for i := range cmd.Mask {
		if !cmd.Mask[i] {
			continue
		}
		if cmd.Kind == MoveRelative {
			target[i] = current[i] + cmd.Axes[i]
		} else {
			target[i] = cmd.Axes[i]
		}
	}
	if target[1] < -90 || target[1] > 90 {
		return fmt.Errorf("%w: altitude %.4f", ErrAxisRange, target[1])
	}
	return d.client.SlewToAltAzAsync(ctx, target[1], coordinates.Range360(target[0]))
}

func (d *AlpacaDevice) pulse(ctx context.Context, cmd Command) error {
	if cmd.Axis < 0 || cmd.Axis > 1 {
		return fmt.Errorf("invalid pulse axis %d", cmd.Axis)
	}

	d.mu.Lock()
	base := d.rates[cmd.Axis]
	if p := d.pulses[cmd.Axis]; p != nil {
		p.timer.Stop()
	}
	d.mu.Unlock()

	if err := d.client.MoveAxis(ctx, cmd.Axis, base+cmd.Rate); err != nil {
		return err
	}

	axis := cmd.Axis
	p := &alpacaPulse{end: time.Now().Add(cmd.Duration)}
	p.timer = time.AfterFunc(cmd.Duration, func() {
		d.mu.Lock()
		if d.pulses[axis] != p {
			d.mu.Unlock()
			return
		}
		d.pulses[axis] = nil
		restore := d.rates[axis]
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.client.MoveAxis(ctx, axis, restore); err != nil {
			d.log.Warn(ctx, "failed to restore axis rate after pulse",
				logging.Int("axis", axis),
				logging.Float("rate", restore),
				logging.Err(err))
		}
	})

	d.mu.Lock()
	d.pulses[axis] = p
	d.mu.Unlock()
	return nil
}

func (d *AlpacaDevice) cancelPulses() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.pulses {
		if p != nil {
			p.timer.Stop()
			d.pulses[i] = nil
		}
	}
}

func (d *AlpacaDevice) positions(ctx context.Context) (coordinates.Axes, error) {
	az, err := d.client.Azimuth(ctx)
	if err != nil {
		return coordinates.Axes{}, err
	}
	alt, err := d.client.Altitude(ctx)
	if err != nil {
		return coordinates.Axes{}, err
	}
	return coordinates.Axes{coordinates.Range180(az), alt}, nil
}

func (d *AlpacaDevice) read(ctx context.Context) (Result, error) {
	pos, err := d.positions(ctx)
	if err != nil {
		return Result{}, err
	}
	slewing, err := d.client.IsSlewing(ctx)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r := Result{Positions: pos}
	now := time.Now()
	for i := range r.Stopped {
		guiding := d.pulses[i] != nil && d.pulses[i].end.After(now)
		r.PulseGuiding[i] = guiding
		r.Stopped[i] = !slewing && d.rates[i] == 0 && !guiding
	}
	return r, nil
}
