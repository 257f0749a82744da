package mount

import (
	"context"
	"fmt"
	"math"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// Hand controller modes
const (
	HandpadAxes    = "axes"
	HandpadGuiding = "guiding"
)

// HandpadPress starts hand controller motion in dir at speed 1 to 8. Gotos
// and pulses are cancelled first. Both axes can move at once.
func (c *Controller) HandpadPress(ctx context.Context, dir tracking.GuideDirection, speed int) error {
	if speed < 1 || speed > len(c.hcSpeeds) {
		return fmt.Errorf("%w: hand controller speed %d", ErrInvalidArgument, speed)
	}
	if dir < tracking.GuideNorth || dir > tracking.GuideWest {
		return fmt.Errorf("%w: direction %d", ErrInvalidArgument, int(dir))
	}
	c.mu.Lock()
	parked := c.st.atPark
	c.mu.Unlock()
	if parked {
		return ErrParked
	}

	opCtx, err := c.beginHandpad()
	if err != nil {
		return err
	}

	axis := dir.Axis()
	signs := c.conv.RateSigns()

	c.mu.Lock()
	mountSign := c.handpadMountSign(dir)
	correction := c.backlashCorrectionLocked(axis, mountSign)
	c.mu.Unlock()

	if correction != 0 {
		c.log.Debug(ctx, "anti-backlash move", logging.Int("axis", axis), logging.Float("degrees", correction))
		var delta coordinates.Axes
		delta[axis] = correction
		mask := hardware.AxisOnly(axis)
		if _, err := c.queue.Do(opCtx, hardware.Command{Kind: hardware.MoveRelative, Mask: mask, Axes: delta}); err != nil {
			if opCtx.Err() != nil {
				return nil
			}
			return c.hardwareError(ctx, err)
		}
		if err := c.waitStopped(opCtx, mask, stopWaitTimeout); err != nil {
			if opCtx.Err() != nil {
				return nil
			}
			return err
		}
	}

	c.mu.Lock()
	if opCtx.Err() != nil {
		// a goto or pulse took over after beginHandpad
		c.mu.Unlock()
		return nil
	}
	c.st.hcRate[axis] = mountSign * signs[axis] * tracking.SpeedDegrees(c.hcSpeeds[speed-1])
	c.st.hcPrev[axis] = hcPrevMove{
		valid:     true,
		direction: dir,
		startStep: c.st.mount[axis],
		startTime: c.now(),
	}
	c.st.slewState = SlewHandpadMove
	c.mu.Unlock()

	return c.applyRates(ctx)
}

// HandpadRelease stops hand controller motion on the axis of dir and
// records the move for backlash correction.
func (c *Controller) HandpadRelease(ctx context.Context, dir tracking.GuideDirection) error {
	if dir < tracking.GuideNorth || dir > tracking.GuideWest {
		return fmt.Errorf("%w: direction %d", ErrInvalidArgument, int(dir))
	}
	if _, err := c.read(ctx); err != nil {
		return c.hardwareError(ctx, err)
	}
	axis := dir.Axis()

	c.mu.Lock()
	prev := &c.st.hcPrev[axis]
	if prev.valid {
		prev.endStep = c.st.mount[axis]
		prev.stepDelta = prev.endStep - prev.startStep
		if axis == 1 {
			c.accumulateDecLocked(prev.stepDelta)
		}
	}
	c.st.hcRate[axis] = 0
	idle := c.st.hcRate == (coordinates.Axes{})
	c.mu.Unlock()

	if idle {
		c.startMu.Lock()
		err := c.ops.cancel(cancelTimeout, opHcPulse)
		c.startMu.Unlock()
		return err
	}
	return c.applyRates(ctx)
}

// HandpadReset forgets the previous moves used for backlash correction.
func (c *Controller) HandpadReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.hcPrev = [2]hcPrevMove{}
	c.st.decAccum = 0
}

// beginHandpad cancels gotos and pulses and registers the hand controller
// operation unless it is already running. The operation ends when both axes
// are released or another operation cancels it.
func (c *Controller) beginHandpad() (context.Context, error) {
	if !c.running.Load() {
		return nil, ErrNotRunning
	}
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if err := c.ops.cancel(cancelTimeout, opGoto, opRaPulse, opDecPulse); err != nil {
		return nil, err
	}
	if ctx, ok := c.ops.context(opHcPulse); ok {
		return ctx, nil
	}
	ctx, finish := c.ops.begin(context.Background(), opHcPulse)
	go c.watchHandpad(ctx, finish)
	return ctx, nil
}

// watchHandpad clears the hand controller rates when the operation ends.
func (c *Controller) watchHandpad(ctx context.Context, finish func()) {
	defer finish()
	<-ctx.Done()

	c.mu.Lock()
	c.st.hcRate = coordinates.Axes{}
	if c.st.slewState == SlewHandpadMove {
		c.st.slewState = SlewNone
	}
	c.mu.Unlock()

	if !c.running.Load() {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
	defer cancel()
	if err := c.applyRates(stopCtx); err != nil {
		c.log.Warn(stopCtx, "failed to restore rates after hand controller move", logging.Err(err))
	}
}

// handpadMountSign returns the mount axis sign of a hand controller move.
// In axes mode north and west move their axis positively after the
// hemisphere sign; guiding mode follows the pulse guide sign table.
func (c *Controller) handpadMountSign(dir tracking.GuideDirection) float64 {
	if c.cfg.Mount.HandControllerMode == HandpadGuiding && c.conv.Mode() != coordinates.AltAz {
		return tracking.MountGuideSign(c.conv, dir, c.st.side)
	}
	sense := 1.0
	if dir == tracking.GuideSouth || dir == tracking.GuideEast {
		sense = -1
	}
	return sense * c.conv.RateSigns()[dir.Axis()]
}

// backlashCorrectionLocked returns the micro-move in mount degrees needed
// before a move with mountSign on axis, or zero.
func (c *Controller) backlashCorrectionLocked(axis int, mountSign float64) float64 {
	prev := c.st.hcPrev[axis]
	if !prev.valid {
		return 0
	}
	switch axis {
	case 0:
		if !c.cfg.Mount.AntiBacklashRa || prev.stepDelta == 0 {
			return 0
		}
		if math.Signbit(prev.stepDelta) == math.Signbit(mountSign) {
			return 0
		}
		limit := c.cfg.Mount.BacklashRa / coordinates.ArcSecondsPerDegree
		return mountSign * math.Min(math.Abs(prev.stepDelta), limit)
	default:
		if !c.cfg.Mount.AntiBacklashDec || c.st.decAccum == 0 {
			return 0
		}
		if math.Signbit(c.st.decAccum) == math.Signbit(mountSign) {
			return 0
		}
		amount := math.Abs(c.st.decAccum)
		c.st.decAccum = 0
		return mountSign * amount
	}
}

// accumulateDecLocked sums declination moves in one direction, capped at the
// configured backlash. A reversal starts a new sum.
func (c *Controller) accumulateDecLocked(delta float64) {
	if delta == 0 {
		return
	}
	if c.st.decAccum != 0 && math.Signbit(c.st.decAccum) != math.Signbit(delta) {
		c.st.decAccum = 0
	}
	limit := c.cfg.Mount.BacklashDec / coordinates.ArcSecondsPerDegree
	c.st.decAccum = math.Max(-limit, math.Min(limit, c.st.decAccum+delta))
}
