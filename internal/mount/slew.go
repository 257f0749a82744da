package mount

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/metrics"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
)

// TargetKind is the space a slew target is given in.
type TargetKind int

const (
	TargetRaDec TargetKind = iota
	TargetAltAz
	TargetAxes
	TargetPark
	TargetHome
)

// String returns the target kind name.
func (k TargetKind) String() string {
	switch k {
	case TargetRaDec:
		return "radec"
	case TargetAltAz:
		return "altaz"
	case TargetAxes:
		return "axes"
	case TargetPark:
		return "park"
	case TargetHome:
		return "home"
	default:
		return fmt.Sprintf("target(%d)", int(k))
	}
}

// Target is a slew destination.
type Target struct {
	Kind TargetKind

	// Ra in hours and Dec in degrees
	Ra  float64
	Dec float64

	// Az and Alt in degrees
	Az  float64
	Alt float64

	// Axes in app axes, set for axes, park and home targets
	Axes coordinates.Axes

	// Park is the park position name
	Park string
}

// RaDecTarget returns an equatorial target.
func RaDecTarget(ra, dec float64) Target {
	return Target{Kind: TargetRaDec, Ra: ra, Dec: dec}
}

// AltAzTarget returns a horizontal target.
func AltAzTarget(az, alt float64) Target {
	return Target{Kind: TargetAltAz, Az: az, Alt: alt}
}

// AxesTarget returns a target in app axes.
func AxesTarget(axes coordinates.Axes) Target {
	return Target{Kind: TargetAxes, Axes: axes}
}

// ParkTarget returns the named park position. An empty name selects the
// configured limit park position.
func ParkTarget(name string) Target {
	return Target{Kind: TargetPark, Park: name}
}

// HomeTarget returns the home position.
func HomeTarget() Target {
	return Target{Kind: TargetHome}
}

func (t Target) state() SlewState {
	switch t.Kind {
	case TargetRaDec:
		return SlewGoToRaDec
	case TargetAltAz:
		return SlewGoToAltAz
	case TargetPark:
		return SlewGoToPark
	case TargetHome:
		return SlewGoToHome
	}
	return SlewGoToAxes
}

// sky reports whether the target is a position in the sky rather than a
// mechanical position.
func (t Target) sky() bool {
	return t.Kind == TargetRaDec || t.Kind == TargetAltAz
}

// Slew moves the mount to t and returns when the slew is complete. Every
// running operation is cancelled first. A slew that is itself cancelled
// returns nil.
func (c *Controller) Slew(ctx context.Context, t Target) error {
	if err := c.prepareTarget(ctx, &t); err != nil {
		return err
	}
	opCtx, finish, err := c.beginOp(ctx, opGoto, allOps...)
	if err != nil {
		return err
	}
	defer finish()
	return c.runSlew(opCtx, t)
}

// StartSlew checks t, cancels running operations and runs the slew in the
// background.
func (c *Controller) StartSlew(t Target) error {
	ctx := context.Background()
	if err := c.prepareTarget(ctx, &t); err != nil {
		return err
	}
	opCtx, finish, err := c.beginOp(ctx, opGoto, allOps...)
	if err != nil {
		return err
	}
	go func() {
		defer finish()
		if err := c.runSlew(opCtx, t); err != nil {
			c.log.Error(ctx, "slew failed", logging.String("target", t.Kind.String()), logging.Err(err))
		}
	}()
	return nil
}

// prepareTarget validates t and resolves park and home positions.
func (c *Controller) prepareTarget(ctx context.Context, t *Target) error {
	c.mu.Lock()
	parked := c.st.atPark
	c.mu.Unlock()
	if parked && t.Kind != TargetPark && t.Kind != TargetHome {
		return ErrParked
	}

	switch t.Kind {
	case TargetRaDec:
		if t.Ra < 0 || t.Ra >= 24 || t.Dec < -90 || t.Dec > 90 {
			return fmt.Errorf("%w: target ra %.6f dec %.6f", ErrInvalidArgument, t.Ra, t.Dec)
		}
		if err := c.checkSun(ctx, t.Ra, t.Dec); err != nil {
			return err
		}
	case TargetAltAz:
		if t.Alt < -90 || t.Alt > 90 {
			return fmt.Errorf("%w: target altitude %.6f", ErrInvalidArgument, t.Alt)
		}
		c.mu.Lock()
		lst := c.st.lst
		c.mu.Unlock()
		eq := coordinates.HorizontalToEquatorial(coordinates.HorizontalCoordinates{
			Altitude: t.Alt,
			Azimuth:  coordinates.Range360(t.Az),
		}, lst, c.observer.Location.Latitude)
		if err := c.checkSun(ctx, eq.RightAscension, eq.Declination); err != nil {
			return err
		}
	case TargetPark:
		if t.Park == "" {
			t.Park = c.cfg.Limits.ParkName
		}
		p, err := c.parks.GetPark(ctx, t.Park)
		if err != nil {
			if errors.Is(err, ErrParkNotFound) {
				return fmt.Errorf("%w: %s", ErrParkNotFound, t.Park)
			}
			return fmt.Errorf("failed to look up park position: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrParkNotFound, t.Park)
		}
		t.Axes = p.Axes
	case TargetHome:
		t.Axes = c.HomeAxes()
		if p, err := c.parks.GetPark(ctx, homeParkName); err == nil && p != nil {
			t.Axes = p.Axes
		}
	}
	return nil
}

// checkSun refuses targets within the sun avoidance separation.
func (c *Controller) checkSun(ctx context.Context, ra, dec float64) error {
	limit := c.cfg.Limits.SunAvoidanceDegrees
	if limit <= 0 {
		return nil
	}
	sep := coordinates.SunSeparation(coordinates.EquatorialCoordinates{RightAscension: ra, Declination: dec}, c.now())
	if sep < limit {
		zone := coordinates.GetSafetyZone(sep)
		c.log.Warn(ctx, "slew refused near the sun",
			logging.Float("separation", sep),
			logging.Float("limit", limit),
			logging.String("zone", zone.String()))
		return fmt.Errorf("%w: %.1f° from the sun (%s), limit %.1f°", ErrSunAvoidance, sep, zone, limit)
	}
	return nil
}

// HomeAxes returns the home position in app axes: counterweight down
// pointing at the pole for equatorial mounts, north on the horizon for
// Alt-Az mounts.
func (c *Controller) HomeAxes() coordinates.Axes {
	if c.conv.Mode() == coordinates.AltAz {
		return coordinates.Axes{0, 0}
	}
	return coordinates.Axes{90, 90}
}

// runSlew drives the coarse and precision phases and the post actions.
func (c *Controller) runSlew(ctx context.Context, t Target) error {
	started := time.Now()
	altAzSky := c.conv.Mode() == coordinates.AltAz && t.Kind == TargetRaDec

	c.rateMu.Lock()
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		c.rateMu.Unlock()
		return nil
	}
	preTracking := c.st.tracking
	c.st.rateGen++
	c.st.slewState = t.state()
	c.st.moveAxisRate = coordinates.Axes{}
	c.st.hcRate = coordinates.Axes{}
	c.st.altAzTracking = false
	c.st.atPark = false
	c.st.parkName = ""
	if altAzSky {
		c.startPredictorLocked(t.Ra, t.Dec, c.now())
	} else {
		c.st.predictor.Reset()
	}
	c.mu.Unlock()
	c.rateMu.Unlock()

	log := c.log.With(logging.String("target", t.Kind.String()))
	log.Info(ctx, "slew started",
		logging.Float("ra", t.Ra), logging.Float("dec", t.Dec),
		logging.Float("az", t.Az), logging.Float("alt", t.Alt),
		logging.Any("axes", t.Axes), logging.String("park", t.Park))

	iterations, err := c.converge(ctx, t)
	if err == nil && altAzSky {
		err = c.holdAltAzTracking(ctx)
	}
	if err != nil {
		result := metrics.ResultError
		switch {
		case errors.Is(err, context.Canceled):
			result = metrics.ResultCancelled
			log.Info(context.Background(), "slew cancelled")
			err = nil
		case errors.Is(err, ErrSlewTimeout):
			result = metrics.ResultTimeout
			log.Error(context.Background(), "slew timed out", logging.Duration("timeout", c.cfg.Mount.SlewTimeout()))
		default:
			log.Error(context.Background(), "slew failed", logging.Err(err))
		}
		c.abandonSlew(t, preTracking)
		c.metrics.ObserveSlew(t.Kind.String(), result, time.Since(started), iterations)
		return err
	}

	c.finishSlew(ctx, t, preTracking)
	c.metrics.ObserveSlew(t.Kind.String(), metrics.ResultComplete, time.Since(started), iterations)
	log.Info(ctx, "slew complete",
		logging.Duration("duration", time.Since(started)),
		logging.Int("iterations", iterations))
	return nil
}

// converge runs the coarse slew, settle delay and precision iterations. It
// returns the number of precision corrections issued.
func (c *Controller) converge(ctx context.Context, t Target) (int, error) {
	if err := c.stopAxes(ctx); err != nil {
		return 0, err
	}

	target := c.mountTarget(ctx, t, c.now())
	if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.GoTo, Mask: hardware.Both, Axes: target}); err != nil {
		return 0, c.hardwareError(ctx, err)
	}
	if err := c.waitStopped(ctx, hardware.Both, c.cfg.Mount.SlewTimeout()); err != nil {
		return 0, err
	}

	if settle := c.cfg.Mount.SettleTime(); settle > 0 {
		c.setGotoState(SlewSettle)
		if err := sleep(ctx, settle); err != nil {
			return 0, err
		}
		c.setGotoState(t.state())
	}

	precision := c.cfg.Mount.PrecisionArcSeconds / coordinates.ArcSecondsPerDegree
	physical := c.conv.Kind() == coordinates.Physical
	var loop time.Duration
	iterations := 0

	for i := 0; i < c.cfg.Mount.PrecisionIterations; i++ {
		if err := ctx.Err(); err != nil {
			return iterations, err
		}
		loopStart := time.Now()

		target := c.mountTarget(ctx, t, c.now().Add(loop))
		pos, err := c.read(ctx)
		if err != nil {
			return iterations, c.hardwareError(ctx, err)
		}
		delta := coordinates.Axes{
			coordinates.Range180(target[0] - pos[0]),
			coordinates.Range180(target[1] - pos[1]),
		}
		if math.Abs(delta[0]) <= precision && math.Abs(delta[1]) <= precision {
			break
		}

		if physical {
			delta[0] *= c.cfg.Mount.PrimaryDamping
			delta[1] *= c.cfg.Mount.SecondaryDamping
		}
		c.log.Debug(ctx, "precision correction",
			logging.Int("iteration", i+1),
			logging.Float("primary", delta[0]),
			logging.Float("secondary", delta[1]))

		if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.MoveRelative, Mask: hardware.Both, Axes: delta}); err != nil {
			return iterations, c.hardwareError(ctx, err)
		}
		iterations++
		if err := c.waitStopped(ctx, hardware.Both, stopWaitTimeout); err != nil && !errors.Is(err, ErrSlewTimeout) {
			return iterations, err
		}
		loop = time.Since(loopStart)
	}
	return iterations, nil
}

// mountTarget converts t to mount axes for the time at. Sky targets go
// through the alignment model; mechanical positions never do.
func (c *Controller) mountTarget(ctx context.Context, t Target, at time.Time) coordinates.Axes {
	lst := coordinates.CalculateLocalSiderealTime(c.observer.Location.Longitude, at)

	c.mu.Lock()
	current := c.st.app
	ra, dec := t.Ra, t.Dec
	if t.Kind == TargetRaDec && c.conv.Mode() == coordinates.AltAz && c.st.predictor.Active() {
		ra, dec = c.st.predictor.At(at)
	}
	c.mu.Unlock()

	var app coordinates.Axes
	switch t.Kind {
	case TargetRaDec:
		app = c.tr.RaDecToAxes([2]float64{ra, dec}, lst, false, current)
	case TargetAltAz:
		app = c.tr.AzAltToAxes(t.Az, t.Alt, lst, current)
	default:
		return c.conv.AppToMount(t.Axes)
	}
	return c.conv.AppToMount(c.syncedTarget(ctx, app))
}

// holdAltAzTracking starts predictor tracking after an equatorial slew on an
// Alt-Az mount and lets it run for two tracking intervals.
func (c *Controller) holdAltAzTracking(ctx context.Context) error {
	c.mu.Lock()
	c.st.tracking = true
	c.st.altAzTracking = true
	c.mu.Unlock()
	c.metrics.SetTracking(true)

	c.trackAltAz(ctx)
	return sleep(ctx, 2*c.cfg.Mount.AltAzTrackingInterval())
}

// finishSlew applies the post actions of a completed slew.
func (c *Controller) finishSlew(ctx context.Context, t Target, preTracking bool) {
	c.mu.Lock()
	switch t.Kind {
	case TargetPark, TargetHome:
		c.setTrackingLocked(false)
		if t.Kind == TargetPark {
			c.st.atPark = true
			c.st.parkName = t.Park
		}
	case TargetRaDec:
		if c.conv.Mode() != coordinates.AltAz {
			c.setTrackingLocked(preTracking)
		}
	default:
		c.setTrackingLocked(preTracking)
	}
	c.releaseAxesLocked()
	c.mu.Unlock()

	if err := c.applyRates(ctx); err != nil {
		c.log.Warn(ctx, "failed to restore rates after slew", logging.Err(err))
	}
}

// abandonSlew stops the axes after a cancelled or failed slew and restores
// the tracking state from before it.
func (c *Controller) abandonSlew(t Target, preTracking bool) {
	ctx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
	defer cancel()

	if err := c.stopAxes(ctx); err != nil {
		c.log.Warn(ctx, "failed to stop axes", logging.Err(err))
	}

	c.mu.Lock()
	c.st.predictor.Reset()
	if t.Kind == TargetPark || t.Kind == TargetHome {
		c.setTrackingLocked(false)
	} else {
		c.setTrackingLocked(preTracking)
	}
	c.releaseAxesLocked()
	c.mu.Unlock()

	if c.conv.Mode() == coordinates.AltAz && preTracking {
		c.trackAltAz(ctx)
	}
	if err := c.applyRates(ctx); err != nil {
		c.log.Warn(ctx, "failed to restore rates", logging.Err(err))
	}
}

// releaseAxesLocked ends the goto state. A MoveAxis or hand controller
// move that cancelled the goto keeps its state.
func (c *Controller) releaseAxesLocked() {
	if c.st.slewState.ownsAxes() {
		c.st.slewState = SlewNone
	}
}

// setGotoState moves a running goto between its states.
func (c *Controller) setGotoState(s SlewState) {
	c.mu.Lock()
	if c.st.slewState.ownsAxes() {
		c.st.slewState = s
	}
	c.mu.Unlock()
}

// AbortSlew cancels every running operation, stops MoveAxis and hand
// controller motion and restores tracking.
func (c *Controller) AbortSlew(ctx context.Context) error {
	c.startMu.Lock()
	err := c.ops.cancelAll(cancelTimeout)
	c.startMu.Unlock()
	if err != nil {
		c.log.Warn(ctx, "abort did not stop every operation", logging.Err(err))
	}

	c.mu.Lock()
	c.st.moveAxisRate = coordinates.Axes{}
	c.st.hcRate = coordinates.Axes{}
	if c.st.slewState == SlewMoveAxis || c.st.slewState == SlewHandpadMove {
		c.st.slewState = SlewNone
	}
	c.mu.Unlock()

	if err := c.stopAxes(ctx); err != nil {
		return err
	}
	return c.applyRates(ctx)
}

// MoveAxis sets a continuous rate on one app axis in degrees per second. A
// zero rate on both axes ends the move. Gotos and hand controller moves are
// cancelled first.
func (c *Controller) MoveAxis(ctx context.Context, axis int, rate float64) error {
	if axis < 0 || axis > 1 {
		return fmt.Errorf("%w: axis %d", ErrInvalidArgument, axis)
	}
	if math.Abs(rate) > c.cfg.Mount.MaxSlewRate {
		return fmt.Errorf("%w: rate %.4f exceeds the maximum slew rate %.2f deg/sec", ErrInvalidArgument, rate, c.cfg.Mount.MaxSlewRate)
	}
	c.mu.Lock()
	parked := c.st.atPark
	c.mu.Unlock()
	if parked {
		return ErrParked
	}

	c.startMu.Lock()
	err := c.ops.cancel(cancelTimeout, opGoto, opHcPulse)
	c.startMu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.st.moveAxisRate[axis] = rate
	if c.st.moveAxisRate != (coordinates.Axes{}) {
		c.st.slewState = SlewMoveAxis
	} else if c.st.slewState == SlewMoveAxis {
		c.st.slewState = SlewNone
	}
	c.mu.Unlock()

	return c.applyRates(ctx)
}

// SyncToRaDec tells the alignment model that the mount is pointing at ra
// and dec.
func (c *Controller) SyncToRaDec(ctx context.Context, ra, dec float64) error {
	if !c.alignmentOn() {
		return ErrNotAlignedMode
	}
	pos, err := c.read(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	measured := c.conv.MountToApp(pos)
	sky := c.tr.RaDecToAxes([2]float64{ra, dec}, c.st.lst, false, c.st.app)
	c.mu.Unlock()

	if !c.alignment.SyncToRaDec(sky, measured, c.now()) {
		return fmt.Errorf("alignment model rejected sync to ra %.6f dec %.6f", ra, dec)
	}
	c.log.Info(ctx, "synced", logging.Float("ra", ra), logging.Float("dec", dec))

	if _, err := c.read(ctx); err != nil {
		return err
	}
	return nil
}
