package mount

import (
	"context"
	"errors"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// checkLimitsLocked evaluates the axis limits. fresh is true when the mount
// just entered a limit that requires action.
func (c *Controller) checkLimitsLocked() (tracking.LimitEvent, bool) {
	res := c.limits.Evaluate(tracking.LimitInput{
		App:      c.st.app,
		Altitude: c.st.horiz.Altitude,
		PierSide: c.st.side,
		Tracking: c.st.tracking,
	})
	prev := c.st.limit.Event
	c.st.limit = res
	c.st.limitAlarm = res.Event != tracking.NoLimit
	return res.Event, res.Event.Stops() && res.Event != prev
}

// limitAction runs the configured reaction to a limit.
func (c *Controller) limitAction(ctx context.Context, ev tracking.LimitEvent) {
	c.metrics.ObserveLimit(ev.String())
	c.mu.Lock()
	msg := c.st.limit.Message
	c.mu.Unlock()
	c.log.Warn(ctx, "axis limit reached", logging.String("event", ev.String()), logging.String("message", msg))

	if c.cfg.Limits.StopTracking {
		c.mu.Lock()
		c.setTrackingLocked(false)
		c.mu.Unlock()
		if err := c.applyRates(ctx); err != nil {
			c.log.Warn(ctx, "failed to stop tracking at limit", logging.Err(err))
		}
	}

	if c.cfg.Limits.ParkOnLimit {
		name := c.cfg.Limits.ParkName
		go func() {
			err := c.Slew(context.Background(), ParkTarget(name))
			if err == nil {
				return
			}
			c.log.Error(context.Background(), "park on limit failed", logging.String("park", name), logging.Err(err))
			if errors.Is(err, ErrParkNotFound) {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
				defer cancel()
				if err := c.stopAxes(stopCtx); err != nil {
					c.log.Warn(stopCtx, "failed to stop axes", logging.Err(err))
				}
			}
		}()
	}
}
