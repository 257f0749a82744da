// Package mount is the motion control core of the mount: it reads axis
// positions every tick, composes tracking rates, runs slews, pulse guides
// and hand controller moves, and enforces the axis limits.
//
// All mutable state lives in one struct behind one mutex. Hardware commands
// are always issued with the mutex released.
package mount

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/metrics"
	"github.com/unklstewy/mountcore/pkg/config"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

var (
	// ErrAxesNotStopped is returned when running operations do not stop in time
	ErrAxesNotStopped = errors.New("axes did not stop")

	// ErrSlewTimeout is returned when a coarse slew does not finish in time
	ErrSlewTimeout = errors.New("slew timed out")

	// ErrParkNotFound is returned for unknown park position names
	ErrParkNotFound = errors.New("park position not found")

	// ErrNotAlignedMode is returned for syncs without an active alignment model
	ErrNotAlignedMode = errors.New("alignment model not active")

	// ErrSunAvoidance is returned for slew targets too close to the sun
	ErrSunAvoidance = errors.New("target too close to the sun")

	// ErrParked is returned for motion requests while the mount is parked
	ErrParked = errors.New("mount is parked")

	// ErrNotRunning is returned when the control loop has stopped
	ErrNotRunning = errors.New("mount control loop not running")

	// ErrNoPECTable is returned when enabling PEC before a table is loaded
	ErrNoPECTable = errors.New("no pec table loaded")

	// ErrInvalidArgument wraps rejected targets, directions and rates
	ErrInvalidArgument = errors.New("invalid argument")
)

// cancelTimeout bounds how long a new operation waits for running ones.
const cancelTimeout = 2 * time.Second

// stopWaitTimeout bounds the wait for axes to stop after short moves.
const stopWaitTimeout = 3 * time.Second

// Options configures a Controller.
type Options struct {
	Config  *config.Config
	Queue   *hardware.Queue
	Logger  logging.Logger
	Metrics *metrics.MountCollector

	// Alignment is optional
	Alignment AlignmentModel

	// Parks defaults to the configured park positions
	Parks ParkStore

	// Now defaults to time.Now
	Now func() time.Time
}

// Controller drives one mount.
type Controller struct {
	cfg       *config.Config
	queue     *hardware.Queue
	log       logging.Logger
	metrics   *metrics.MountCollector
	alignment AlignmentModel
	parks     ParkStore
	now       func() time.Time

	conv      coordinates.Convention
	tr        *coordinates.Transformer
	limits    tracking.AxisLimits
	observer  coordinates.Observer
	pecParams pec.Params

	hcSpeeds [8]float64

	broadcaster *Broadcaster
	ops         *opRegistry

	// startMu orders the cancel-then-begin sequence of new operations
	startMu sync.Mutex

	// rateMu orders rate sends against gotos taking the axes
	rateMu sync.Mutex

	mu sync.Mutex
	st state

	// trackingBusy guards the Alt-Az tracking recomputation
	trackingBusy atomic.Bool
	running      atomic.Bool
	fatal        chan error
}

// New creates a controller. The queue must be started before Run.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil || opts.Queue == nil {
		return nil, errors.New("mount controller needs a config and a hardware queue")
	}
	cfg := opts.Config

	conv, err := cfg.Convention()
	if err != nil {
		return nil, err
	}
	rate, err := tracking.ParseTrackingRate(cfg.Mount.TrackingRate)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:         cfg,
		queue:       opts.Queue,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		alignment:   opts.Alignment,
		parks:       opts.Parks,
		now:         opts.Now,
		conv:        conv,
		tr:          coordinates.NewTransformer(conv, cfg.Observer.Latitude, cfg.Limits.HourAngleLimit, cfg.Limits.AzimuthSlewLimit),
		limits:      cfg.AxisLimits(),
		observer:    cfg.ObserverLocation(),
		hcSpeeds:    cfg.Mount.HandControllerSpeeds,
		broadcaster: NewBroadcaster(),
		ops:         newOpRegistry(),
		fatal:       make(chan error, 1),
	}
	if c.log == nil {
		c.log = logging.Noop()
	}
	c.log = c.log.With(logging.String("component", "mount"))
	if c.now == nil {
		c.now = time.Now
	}
	if c.parks == nil {
		parks := make([]ParkPosition, 0, len(cfg.ParkPositions))
		for _, p := range cfg.ParkPositions {
			parks = append(parks, ParkPosition{Name: p.Name, Axes: coordinates.Axes{p.X, p.Y}})
		}
		c.parks = NewMemoryParkStore(parks)
	}
	if c.hcSpeeds == ([8]float64{}) {
		c.hcSpeeds = tracking.DefaultHandControllerSpeeds
	}

	c.st.trackingRate = rate
	c.st.pecIndex = -1
	c.st.pecFactor = 1.0
	c.st.side = coordinates.PierUnknown

	params, err := cfg.PECParams()
	if err != nil && cfg.PEC.Enabled {
		return nil, fmt.Errorf("invalid pec configuration: %w", err)
	}
	c.pecParams = params

	return c, nil
}

// Convention returns the axis convention in use.
func (c *Controller) Convention() coordinates.Convention { return c.conv }

// Transformer returns the coordinate transformer in use.
func (c *Controller) Transformer() *coordinates.Transformer { return c.tr }

// Subscribe returns a channel of snapshots published every tick.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.broadcaster.Subscribe()
}

// Status returns the current snapshot.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.snapshot(c.now())
}

// Running reports whether the control loop is running.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// MountError returns the error that stopped the control loop, if any.
func (c *Controller) MountError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.mountErr
}

// Run runs the control loop and the Alt-Az tracking timer until ctx is
// done or the hardware fails. A hardware failure is returned.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("mount control loop already running")
	}
	defer c.running.Store(false)

	select {
	case <-c.fatal:
	default:
	}
	c.mu.Lock()
	c.st.mountErr = nil
	c.mu.Unlock()

	if err := c.tick(ctx); err != nil {
		c.fail(ctx, err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if c.conv.Mode() == coordinates.AltAz {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.altAzTimer(ctx)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
		c.ops.cancelAll(cancelTimeout)
	}()

	ticker := time.NewTicker(c.cfg.Mount.LoopInterval())
	defer ticker.Stop()

	c.log.Info(ctx, "control loop started",
		logging.String("mode", c.conv.Mode().String()),
		logging.String("kind", c.conv.Kind().String()))

	for {
		select {
		case <-ctx.Done():
			c.log.Info(context.Background(), "control loop stopped")
			return nil
		case err := <-c.fatal:
			return err
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.fail(ctx, err)
				return err
			}
		}
	}
}

// tick reads the positions, refreshes derived state, checks the limits and
// keeps the composed rate applied.
func (c *Controller) tick(ctx context.Context) error {
	r, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.QueryPositions})
	if err != nil {
		return err
	}
	now := c.now()

	c.mu.Lock()
	c.updatePositionLocked(r, now)
	c.updatePECLocked(ctx)
	limitEvent, fresh := c.checkLimitsLocked()
	var apply bool
	var rate coordinates.Axes
	gen := c.st.rateGen
	if !c.st.slewState.ownsAxes() && !c.st.altAzTracking {
		rate = c.composeLocked()
		apply = !c.st.haveLastRate || rate != c.st.lastRate
	}
	snap := c.st.snapshot(now)
	c.mu.Unlock()

	if apply {
		if err := c.setRate(ctx, rate, gen); err != nil {
			return err
		}
	}
	if fresh {
		c.limitAction(ctx, limitEvent)
	}

	c.broadcaster.Publish(snap)
	return nil
}

// updatePositionLocked stores a hardware reading and everything derived from it.
func (c *Controller) updatePositionLocked(r hardware.Result, now time.Time) {
	c.st.mount = r.Positions
	c.st.pulseGuiding = r.PulseGuiding
	app := c.conv.MountToApp(r.Positions)
	if c.alignmentOn() {
		app = c.alignment.UnsyncedValue(app)
	}
	c.st.app = app
	c.st.lst = coordinates.CalculateLocalSiderealTime(c.observer.Location.Longitude, now)
	c.st.ra, c.st.dec = c.tr.AxesToRaDec(app, c.st.lst)
	c.st.horiz = c.tr.AxesToAzAlt(app, c.st.lst)
	c.st.side = c.tr.PierSide(app)
	c.st.read = true
}

// read queries the hardware and refreshes the stored position.
func (c *Controller) read(ctx context.Context) (coordinates.Axes, error) {
	r, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.QueryPositions})
	if err != nil {
		return coordinates.Axes{}, err
	}
	c.mu.Lock()
	c.updatePositionLocked(r, c.now())
	c.mu.Unlock()
	return r.Positions, nil
}

func (c *Controller) alignmentOn() bool {
	return c.cfg.Alignment.Enabled && c.alignment != nil && c.alignment.IsAlignmentOn()
}

// syncedTarget applies the alignment model to a sky target, falling back to
// the unsynced value when the correction is larger than the model can explain.
func (c *Controller) syncedTarget(ctx context.Context, target coordinates.Axes) coordinates.Axes {
	if !c.alignmentOn() {
		return target
	}
	synced := c.alignment.SyncedValue(target)
	max := c.alignment.MaxDelta()
	multiple := c.cfg.Alignment.MaxDeltaMultiple
	if multiple <= 0 {
		multiple = 1
	}
	for i := range synced {
		delta := math.Abs(coordinates.Range180(synced[i] - target[i]))
		if delta > max[i]*multiple {
			c.log.Warn(ctx, "alignment correction too large, using unsynced target",
				logging.Int("axis", i),
				logging.Float("delta", delta),
				logging.Float("max_delta", max[i]))
			return target
		}
	}
	return synced
}

// fail records a hardware failure, turns tracking off and stops the loop.
func (c *Controller) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.st.mountErr = err
	c.st.tracking = false
	c.st.altAzTracking = false
	c.st.predictor.Reset()
	c.st.slewState = SlewNone
	c.mu.Unlock()

	c.metrics.SetTracking(false)
	c.log.Error(ctx, "mount hardware failure, stopping", logging.Err(err))

	select {
	case c.fatal <- err:
	default:
	}
}

// hardwareError escalates errors that mean the device is gone.
func (c *Controller) hardwareError(ctx context.Context, err error) error {
	if errors.Is(err, hardware.ErrDeviceFault) || errors.Is(err, hardware.ErrQueueStopped) {
		c.fail(ctx, err)
	}
	return err
}

// composeLocked returns the mount axis rate made of tracking, hand
// controller and MoveAxis contributions, clamped to the limits.
func (c *Controller) composeLocked() coordinates.Axes {
	var rate coordinates.Axes
	if c.st.tracking {
		rate = c.trackingRateLocked()
	}
	for i := range rate {
		rate[i] += c.st.hcRate[i] + c.st.moveAxisRate[i]
	}
	rate = c.limits.ClampRate(c.st.app, rate)
	rate = tracking.ClampRate(rate, c.cfg.Mount.MaxSlewRate)
	return c.toMountRate(rate)
}

func (c *Controller) toMountRate(app coordinates.Axes) coordinates.Axes {
	signs := c.conv.RateSigns()
	return coordinates.Axes{app[0] * signs[0], app[1] * signs[1]}
}

// setRate sends a mount rate composed under generation gen and records it.
// The rate is dropped when a goto has taken the axes since.
func (c *Controller) setRate(ctx context.Context, rate coordinates.Axes, gen uint64) error {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	c.mu.Lock()
	stale := gen != c.st.rateGen
	c.mu.Unlock()
	if stale {
		return nil
	}

	if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.SetRate, Mask: hardware.Both, Axes: rate}); err != nil {
		return c.hardwareError(ctx, err)
	}
	c.mu.Lock()
	c.st.lastRate = rate
	c.st.haveLastRate = true
	c.mu.Unlock()
	return nil
}

// applyRates composes and sends the current rate unless a goto holds the axes.
func (c *Controller) applyRates(ctx context.Context) error {
	c.mu.Lock()
	if c.st.slewState.ownsAxes() {
		c.mu.Unlock()
		return nil
	}
	rate := c.composeLocked()
	gen := c.st.rateGen
	c.mu.Unlock()
	return c.setRate(ctx, rate, gen)
}

// stopAxes stops both axes.
func (c *Controller) stopAxes(ctx context.Context) error {
	if _, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.Stop, Mask: hardware.Both}); err != nil {
		return c.hardwareError(ctx, err)
	}
	c.mu.Lock()
	c.st.lastRate = coordinates.Axes{}
	c.st.haveLastRate = true
	c.mu.Unlock()
	return nil
}

// waitStopped polls until the masked axes are stopped, ctx is done or
// timeout passes.
func (c *Controller) waitStopped(ctx context.Context, mask hardware.AxisMask, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	poll := c.cfg.Mount.PollInterval()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		r, err := c.queue.Do(ctx, hardware.Command{Kind: hardware.QueryStopped, Mask: mask})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return c.hardwareError(ctx, err)
		}
		if r.AllStopped(mask) {
			c.mu.Lock()
			c.updatePositionLocked(r, c.now())
			c.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return ErrSlewTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// beginOp cancels the given running operations and registers a new one.
// The returned context is cancelled by later operations and by AbortSlew.
func (c *Controller) beginOp(parent context.Context, kind opKind, cancel ...opKind) (context.Context, func(), error) {
	if !c.running.Load() {
		return nil, nil, ErrNotRunning
	}
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if err := c.ops.cancel(cancelTimeout, cancel...); err != nil {
		c.log.Warn(context.Background(), "previous operation did not stop, not starting",
			logging.String("op", kind.String()), logging.Err(err))
		return nil, nil, err
	}
	ctx, finish := c.ops.begin(parent, kind)
	return ctx, finish, nil
}
