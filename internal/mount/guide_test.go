package mount

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

func TestPulseGuideEquatorial(t *testing.T) {
	cfg := testConfig("germanpolar")
	start := coordinates.Axes{60, 40}
	r := newRig(t, cfg, start, 200, nil)
	ctx := context.Background()

	side := r.ctl.Transformer().PierSide(start)
	tests := []struct {
		dir  tracking.GuideDirection
		axis int
	}{
		{tracking.GuideNorth, 1},
		{tracking.GuideEast, 0},
		{tracking.GuideWest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			sign := tracking.MountGuideSign(r.ctl.Convention(), tt.dir, side)
			before := r.sim.Positions()
			begin := time.Now()

			if err := r.ctl.PulseGuide(ctx, tt.dir, 200*time.Millisecond, 1.0); err != nil {
				t.Fatalf("PulseGuide: %v", err)
			}
			if elapsed := time.Since(begin); elapsed < 200*time.Millisecond {
				t.Errorf("PulseGuide returned after %s, want at least 200ms", elapsed)
			}

			after := r.sim.Positions()
			if moved := after[tt.axis] - before[tt.axis]; !near(moved, sign*0.2, 0.01) {
				t.Errorf("axis %d moved %.4f, want %.4f", tt.axis, moved, sign*0.2)
			}
			other := 1 - tt.axis
			if !near(after[other], before[other], 1e-9) {
				t.Errorf("axis %d moved by a pulse on axis %d", other, tt.axis)
			}
		})
	}

	if got := testutil.ToFloat64(r.metrics.Pulses.WithLabelValues("north")); got != 1 {
		t.Errorf("north pulses = %v, want 1", got)
	}
}

func TestPulseGuideDecBacklash(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.Mount.DecPulseBacklash = 360
	start := coordinates.Axes{60, 40}
	r := newRig(t, cfg, start, 200, nil)
	ctx := context.Background()
	sign := tracking.MountGuideSign(r.ctl.Convention(), tracking.GuideNorth, r.ctl.Transformer().PierSide(start))

	if err := r.ctl.PulseGuide(ctx, tracking.GuideNorth, 100*time.Millisecond, 1.0); err != nil {
		t.Fatalf("PulseGuide: %v", err)
	}

	// the reversal adds 0.1° of backlash, 100ms at 1°/s
	before := r.sim.Positions()
	begin := time.Now()
	if err := r.ctl.PulseGuide(ctx, tracking.GuideSouth, 100*time.Millisecond, 1.0); err != nil {
		t.Fatalf("PulseGuide: %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 200*time.Millisecond {
		t.Errorf("reversed pulse took %s, want at least 200ms", elapsed)
	}
	if moved := r.sim.Positions()[1] - before[1]; !near(moved, -sign*0.2, 0.01) {
		t.Errorf("reversed pulse moved %.4f, want %.4f", moved, -sign*0.2)
	}

	before = r.sim.Positions()
	if err := r.ctl.PulseGuide(ctx, tracking.GuideSouth, 100*time.Millisecond, 1.0); err != nil {
		t.Fatalf("PulseGuide: %v", err)
	}
	if moved := r.sim.Positions()[1] - before[1]; !near(moved, -sign*0.1, 0.01) {
		t.Errorf("repeated pulse moved %.4f, want %.4f", moved, -sign*0.1)
	}
}

func TestPulseGuideAxesRunTogether(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{60, 40}, 200, nil)
	ctx := context.Background()
	before := r.sim.Positions()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, dir := range []tracking.GuideDirection{tracking.GuideWest, tracking.GuideNorth} {
		wg.Add(1)
		go func(i int, dir tracking.GuideDirection) {
			defer wg.Done()
			errs[i] = r.ctl.PulseGuide(ctx, dir, 300*time.Millisecond, 0.5)
		}(i, dir)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("pulse %d: %v", i, err)
		}
	}
	after := r.sim.Positions()
	for axis := range after {
		if moved := after[axis] - before[axis]; !near(math.Abs(moved), 0.15, 0.01) {
			t.Errorf("axis %d moved %.4f, want 0.15", axis, moved)
		}
	}
}

func TestPulseGuideCancelled(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{60, 40}, 200, nil)
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		result <- r.ctl.PulseGuide(ctx, tracking.GuideEast, 5*time.Second, 0)
	}()
	waitFor(t, time.Second, "pulse guiding", func() bool { return r.ctl.Status().PulseGuiding[0] })

	start := time.Now()
	if err := r.ctl.AbortSlew(ctx); err != nil {
		t.Fatalf("AbortSlew: %v", err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("cancelled pulse returned %v, want nil", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("pulse did not return after abort")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("abort took %s", elapsed)
	}

	res, err := r.queue.Do(ctx, hardware.Command{Kind: hardware.QueryStopped, Mask: hardware.Both})
	if err != nil {
		t.Fatalf("QueryStopped: %v", err)
	}
	if res.PulseGuiding[0] || !res.AllStopped(hardware.Both) {
		t.Errorf("pulse still running: %+v", res)
	}
}

func TestPulseGuideInvalid(t *testing.T) {
	r := newRig(t, testConfig("germanpolar"), coordinates.Axes{60, 40}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.PulseGuide(ctx, tracking.GuideNorth, 0, 0); err == nil {
		t.Error("Expected error for zero duration")
	}
	if err := r.ctl.PulseGuide(ctx, tracking.GuideDirection(7), time.Second, 0); err == nil {
		t.Error("Expected error for unknown direction")
	}
}

func TestPulseGuideAltAz(t *testing.T) {
	cfg := testConfig("altaz")
	r := newRig(t, cfg, coordinates.Axes{0, 30}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.PulseGuide(ctx, tracking.GuideNorth, 100*time.Millisecond, 0.5); !errors.Is(err, ErrNotTracking) {
		t.Errorf("untracked pulse error = %v, want ErrNotTracking", err)
	}

	lst := coordinates.CalculateLocalSiderealTime(cfg.Observer.Longitude, time.Now())
	ra, dec := coordinates.Range24(lst-1), 50.0
	if err := r.ctl.Slew(ctx, RaDecTarget(ra, dec)); err != nil {
		t.Fatalf("Slew: %v", err)
	}

	begin := time.Now()
	if err := r.ctl.PulseGuide(ctx, tracking.GuideNorth, 200*time.Millisecond, 0.5); err != nil {
		t.Fatalf("PulseGuide: %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 200*time.Millisecond {
		t.Errorf("Alt-Az pulse returned after %s, want at least 200ms", elapsed)
	}

	waitFor(t, time.Second, "declination to settle", func() bool {
		return near(r.ctl.Status().Declination, dec+0.1, 0.02)
	})
	if r.ctl.Status().PulseGuiding[1] {
		t.Error("Expected pulse flag cleared")
	}
}
