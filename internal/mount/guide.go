package mount

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// Alt-Az pulse correction loop constants
const (
	altAzPulseRetries = 5
	altAzPulseLoop    = 75 * time.Millisecond
	altAzPulseStop    = time.Second
)

// ErrNotTracking is returned for Alt-Az pulses while tracking is off.
var ErrNotTracking = errors.New("pulse guiding needs tracking on")

// PulseGuide moves the mount in dir for d at rate degrees per second, or at
// the configured guide rate when rate is zero. It returns when the pulse
// has run for d. A cancelled pulse returns nil.
func (c *Controller) PulseGuide(ctx context.Context, dir tracking.GuideDirection, d time.Duration, rate float64) error {
	if d <= 0 {
		return fmt.Errorf("%w: pulse duration %s", ErrInvalidArgument, d)
	}
	if dir < tracking.GuideNorth || dir > tracking.GuideWest {
		return fmt.Errorf("%w: guide direction %d", ErrInvalidArgument, int(dir))
	}
	c.mu.Lock()
	parked := c.st.atPark
	c.mu.Unlock()
	if parked {
		return ErrParked
	}

	if rate == 0 {
		rate = c.guideRate(dir.Axis())
	}
	rate = math.Abs(rate)
	if rate == 0 {
		return errors.New("guide rate is zero")
	}

	kind := opRaPulse
	if dir.Axis() == 1 {
		kind = opDecPulse
	}
	opCtx, finish, err := c.beginOp(ctx, kind, opGoto, opHcPulse, kind)
	if err != nil {
		return err
	}
	defer finish()

	c.metrics.ObservePulse(dir.String())
	c.log.Debug(ctx, "pulse guide",
		logging.String("direction", dir.String()),
		logging.Duration("duration", d),
		logging.Float("rate", rate))

	if c.conv.Mode() == coordinates.AltAz {
		err = c.pulseAltAz(opCtx, dir, d, rate)
	} else {
		err = c.pulseEquatorial(opCtx, dir, d, rate)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// guideRate returns the configured guide rate of an axis in degrees per second.
func (c *Controller) guideRate(axis int) float64 {
	if axis == 0 {
		return tracking.SpeedDegrees(c.cfg.Mount.GuideRateRa)
	}
	return tracking.SpeedDegrees(c.cfg.Mount.GuideRateDec)
}

// pulseEquatorial adds a timed rate to one axis on top of tracking. A
// declination pulse that reverses the previous one is lengthened to take
// up the backlash.
func (c *Controller) pulseEquatorial(ctx context.Context, dir tracking.GuideDirection, d time.Duration, rate float64) error {
	axis := dir.Axis()

	c.mu.Lock()
	side := c.st.side
	if axis == 1 {
		if c.st.haveDecPulse && c.st.lastDecPulse != dir && c.cfg.Mount.DecPulseBacklash > 0 {
			extra := c.cfg.Mount.DecPulseBacklash / (rate * coordinates.ArcSecondsPerDegree)
			d += time.Duration(extra * float64(time.Second))
		}
		c.st.lastDecPulse = dir
		c.st.haveDecPulse = true
	}
	c.st.pulseGuiding[axis] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.st.pulseGuiding[axis] = false
		c.mu.Unlock()
	}()

	sign := tracking.MountGuideSign(c.conv, dir, side)
	cmd := hardware.Command{Kind: hardware.PulseGuide, Axis: axis, Rate: sign * rate, Duration: d}
	if _, err := c.queue.Do(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.hardwareError(ctx, err)
	}

	if err := sleep(ctx, d); err != nil {
		c.stopPulse(axis)
		return err
	}
	return nil
}

// stopPulse stops an axis after a cancelled pulse and puts tracking back.
func (c *Controller) stopPulse(axis int) {
	ctx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
	defer cancel()
	if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.Stop, Mask: hardware.AxisOnly(axis)}); err != nil {
		c.log.Warn(ctx, "failed to stop pulse", logging.Int("axis", axis), logging.Err(err))
		return
	}
	if err := c.applyRates(ctx); err != nil {
		c.log.Warn(ctx, "failed to restore rates after pulse", logging.Err(err))
	}
}

// pulseAltAz offsets the predictor by the pulse and runs a short precision
// loop to the new position. Tracking resumes from the offset predictor.
func (c *Controller) pulseAltAz(ctx context.Context, dir tracking.GuideDirection, d time.Duration, rate float64) (err error) {
	started := time.Now()
	axis := dir.Axis()

	if err := c.acquireTracking(ctx); err != nil {
		return err
	}
	released := false
	release := func() {
		if !released {
			released = true
			c.trackingBusy.Store(false)
		}
	}
	defer release()

	c.mu.Lock()
	if !c.st.tracking {
		c.mu.Unlock()
		return ErrNotTracking
	}
	if !c.st.predictor.Active() {
		c.startPredictorLocked(c.st.ra, c.st.dec, c.now())
	}
	dRa, dDec := tracking.PredictorOffset(dir, rate*d.Seconds())
	c.st.predictor.Offset(dRa, dDec)
	c.st.pulseGuiding[axis] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.st.pulseGuiding[axis] = false
		c.mu.Unlock()
		if errors.Is(err, context.Canceled) && !released {
			c.stopPulse(0)
			c.stopPulse(1)
		}
	}()

	precision := c.cfg.Mount.PrecisionArcSeconds / coordinates.ArcSecondsPerDegree
	target := Target{Kind: TargetRaDec}
	for i := 0; i < altAzPulseRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := c.mountTarget(ctx, target, c.now().Add(altAzPulseLoop))
		pos, err := c.read(ctx)
		if err != nil {
			return c.hardwareError(ctx, err)
		}
		delta := coordinates.Axes{
			coordinates.Range180(want[0] - pos[0]),
			coordinates.Range180(want[1] - pos[1]),
		}
		if math.Abs(delta[0]) <= precision && math.Abs(delta[1]) <= precision {
			break
		}
		if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.MoveRelative, Mask: hardware.Both, Axes: delta}); err != nil {
			return c.hardwareError(ctx, err)
		}
		if err := c.waitStopped(ctx, hardware.Both, altAzPulseStop); err != nil && !errors.Is(err, ErrSlewTimeout) {
			return err
		}
	}

	if err := c.updateAltAzTracking(ctx); err != nil {
		return err
	}
	release()

	return sleep(ctx, d-time.Since(started))
}

// acquireTracking takes the Alt-Az tracking guard, waiting for a running
// update to finish.
func (c *Controller) acquireTracking(ctx context.Context) error {
	deadline := time.Now().Add(cancelTimeout)
	for !c.trackingBusy.CompareAndSwap(false, true) {
		if time.Now().After(deadline) {
			return errors.New("alt-az tracking update did not finish")
		}
		if err := sleep(ctx, 5*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
