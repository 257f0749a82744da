package mount

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// Alt-Az tracking modes
const (
	AltAzPredictor = "predictor"
	AltAzRate      = "rate"
)

// SetTracking turns tracking on or off. Turning tracking off resets the
// predictor. On an Alt-Az mount turning it on starts the predictor from the
// current position.
func (c *Controller) SetTracking(ctx context.Context, on bool) error {
	c.mu.Lock()
	if on && c.st.atPark {
		c.mu.Unlock()
		return ErrParked
	}
	changed := c.st.tracking != on
	c.setTrackingLocked(on)
	c.mu.Unlock()

	if changed {
		c.log.Info(ctx, "tracking changed", logging.Any("tracking", on))
	}
	if on && c.conv.Mode() == coordinates.AltAz {
		c.trackAltAz(ctx)
	}
	return c.applyRates(ctx)
}

// setTrackingLocked switches tracking without touching the hardware.
func (c *Controller) setTrackingLocked(on bool) {
	was := c.st.tracking
	c.st.tracking = on
	if !on {
		c.st.predictor.Reset()
		c.st.altAzTracking = false
		c.st.altAzRate = coordinates.Axes{}
	} else if c.conv.Mode() == coordinates.AltAz {
		if !was || !c.st.predictor.Active() {
			c.startPredictorLocked(c.st.ra, c.st.dec, c.now())
		}
		c.st.altAzTracking = true
	}
	c.metrics.SetTracking(on)
}

// Tracking reports whether tracking is on.
func (c *Controller) Tracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.tracking
}

// SetTrackingRate selects the base tracking rate.
func (c *Controller) SetTrackingRate(ctx context.Context, rate tracking.TrackingRate) error {
	c.mu.Lock()
	c.st.trackingRate = rate
	c.refreshPredictorRatesLocked()
	c.mu.Unlock()
	return c.applyRates(ctx)
}

// SetRateOffsets sets the user RA offset (seconds of RA per sidereal
// second) and declination offset (arc seconds per second).
func (c *Controller) SetRateOffsets(ctx context.Context, raOffset, decOffset float64) error {
	c.mu.Lock()
	c.st.raRateOffset = raOffset
	c.st.decRateOffset = decOffset
	c.refreshPredictorRatesLocked()
	c.mu.Unlock()
	return c.applyRates(ctx)
}

// CurrentRate returns the primary axis tracking rate in degrees per second.
func (c *Controller) CurrentRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tracking.CurrentRate(c.rateInputsLocked())
}

func (c *Controller) rateInputsLocked() tracking.RateInputs {
	return tracking.RateInputs{
		Base:          c.st.trackingRate,
		CustomGearing: c.cfg.Mount.CustomGearing,
		CustomOffset:  c.cfg.Mount.CustomRateOffset,
		PECEnabled:    c.st.pecEnabled,
		Tracking:      c.st.tracking,
		PECFactor:     c.st.pecFactor,
		RaOffset:      c.st.raRateOffset,
	}
}

// trackingRateLocked returns the tracking contribution in app axes,
// degrees per second.
func (c *Controller) trackingRateLocked() coordinates.Axes {
	if c.conv.Mode() == coordinates.AltAz {
		return c.st.altAzRate
	}
	return coordinates.Axes{
		tracking.CurrentRate(c.rateInputsLocked()),
		c.st.decRateOffset / coordinates.ArcSecondsPerDegree * c.decAppSign(c.st.app),
	}
}

// decAppSign is the app Y sign of a northward move at an equatorial position.
func (c *Controller) decAppSign(app coordinates.Axes) float64 {
	sign := c.conv.Hemisphere().Sign()
	if math.Abs(coordinates.Range180(app[1])) > 90 {
		sign = -sign
	}
	return sign
}

// predictorRatesLocked returns the predictor rates for the current tracking
// settings: RA in seconds per second, Dec in arc seconds per second.
func (c *Controller) predictorRatesLocked() (rateRa, rateDec float64) {
	in := c.rateInputsLocked()
	in.PECEnabled = false
	track := tracking.CurrentRate(in) * coordinates.ArcSecondsPerDegree
	return (tracking.SiderealRate - track) / coordinates.HoursToDegrees, c.st.decRateOffset
}

func (c *Controller) startPredictorLocked(ra, dec float64, t time.Time) {
	rateRa, rateDec := c.predictorRatesLocked()
	c.st.predictor.Set(ra, dec, rateRa, rateDec, t)
}

func (c *Controller) refreshPredictorRatesLocked() {
	if !c.st.predictor.Active() {
		return
	}
	rateRa, rateDec := c.predictorRatesLocked()
	c.st.predictor.SetRates(rateRa, rateDec, c.now())
}

// altAzTimer recomputes the Alt-Az tracking rate every interval.
func (c *Controller) altAzTimer(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Mount.AltAzTrackingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.trackAltAz(ctx)
		}
	}
}

// trackAltAz runs one Alt-Az tracking update unless another one is running,
// in which case the update is skipped.
func (c *Controller) trackAltAz(ctx context.Context) {
	if !c.trackingBusy.CompareAndSwap(false, true) {
		c.metrics.ObserveTrackingUpdate("skipped")
		return
	}
	defer c.trackingBusy.Store(false)

	if err := c.updateAltAzTracking(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn(ctx, "alt-az tracking update failed", logging.Err(err))
	}
}

// updateAltAzTracking computes and applies the Alt-Az axis rate. The caller
// must hold the tracking guard.
func (c *Controller) updateAltAzTracking(ctx context.Context) error {
	c.mu.Lock()
	if !c.st.tracking || !c.st.altAzTracking || !c.st.read {
		c.mu.Unlock()
		return nil
	}

	interval := c.cfg.Mount.AltAzTrackingInterval()
	now := c.now()
	current := c.st.app
	mode := c.cfg.Mount.AltAzTrackingMode
	if mode != AltAzRate {
		mode = AltAzPredictor
	}

	var rate coordinates.Axes
	if mode == AltAzRate {
		ra, dec := c.st.predictor.At(now)
		haRate := tracking.CurrentRate(c.rateInputsLocked())
		decRate := c.st.decRateOffset / coordinates.ArcSecondsPerDegree
		rate = tracking.AltAzRate(haRate, decRate, c.st.lst-ra, dec, c.observer.Location.Latitude)
	} else {
		at := now.Add(interval)
		ra, dec := c.st.predictor.At(at)
		lst := coordinates.CalculateLocalSiderealTime(c.observer.Location.Longitude, at)
		target := c.tr.RaDecToAxes([2]float64{ra, dec}, lst, false, current)
		rate = tracking.PredictedAxisRate(target, current, interval.Seconds())
	}
	c.st.altAzRate = rate
	mountRate := c.composeLocked()
	gen := c.st.rateGen
	c.mu.Unlock()

	c.metrics.ObserveTrackingUpdate(mode)
	return c.setRate(ctx, mountRate, gen)
}

// updatePECLocked moves the PEC corrector to the bin of the primary axis.
// A missing bin disables PEC.
func (c *Controller) updatePECLocked(ctx context.Context) {
	if !c.st.pecEnabled || c.st.corrector == nil || !c.st.tracking {
		return
	}
	steps := c.pecParams.StepsFromDegrees(c.st.mount[0])
	idx, factor, changed, err := c.st.corrector.Update(steps)
	if err != nil {
		if errors.Is(err, pec.ErrBinMissing) {
			c.st.pecEnabled = false
			c.st.pecFactor = 1.0
			c.metrics.SetPecFactor(1.0)
			c.log.Error(ctx, "pec disabled", logging.Err(err))
		}
		return
	}
	if changed {
		c.st.pecIndex = idx
		c.st.pecFactor = factor
		c.metrics.SetPecFactor(factor)
		c.log.Debug(ctx, "pec bin changed", logging.Int("bin", idx), logging.Float("factor", factor))
	}
}
