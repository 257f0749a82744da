package mount

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/metrics"
	"github.com/unklstewy/mountcore/pkg/config"
	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/hardware"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

// rig is a controller running against the simulator.
type rig struct {
	ctl     *Controller
	sim     *hardware.Simulator
	queue   *hardware.Queue
	metrics *metrics.MountCollector

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func testConfig(mode string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mount.AlignmentMode = mode
	cfg.Mount.Kind = "simulator"
	cfg.Mount.LoopIntervalMs = 10
	cfg.Mount.PollIntervalMs = 10
	cfg.Mount.AltAzTrackingIntervalMs = 40
	cfg.Limits.StopTracking = false
	return cfg
}

type rigOption func(*Options)

// newRig starts a controller on a simulator placed at start (app axes).
// setup runs before the control loop starts.
func newRig(t *testing.T, cfg *config.Config, start coordinates.Axes, speed float64, setup func(*Controller), opts ...rigOption) *rig {
	t.Helper()

	conv, err := cfg.Convention()
	if err != nil {
		t.Fatalf("Convention: %v", err)
	}
	sim := hardware.NewSimulator(conv.AppToMount(start), speed)
	q := hardware.NewQueue(sim, logging.Noop())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("queue Start: %v", err)
	}

	m, err := metrics.NewMountCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMountCollector: %v", err)
	}

	o := Options{Config: cfg, Queue: q, Logger: logging.Noop(), Metrics: m}
	for _, opt := range opts {
		opt(&o)
	}
	ctl, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if setup != nil {
		setup(ctl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &rig{ctl: ctl, sim: sim, queue: q, metrics: m, cancel: cancel, done: make(chan struct{})}
	go func() {
		r.runErr = ctl.Run(ctx)
		close(r.done)
	}()
	waitFor(t, time.Second, "control loop running", func() bool {
		return ctl.Running() && ctl.Status().AppAxes != (coordinates.Axes{})
	})

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Error("control loop did not stop")
		}
		q.Stop(context.Background())
	})
	return r
}

// wait returns the error Run stopped with.
func (r *rig) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case <-r.done:
		return r.runErr
	case <-time.After(timeout):
		t.Fatal("control loop still running")
		return nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func currentLST(cfg *config.Config) float64 {
	return coordinates.CalculateLocalSiderealTime(cfg.Observer.Longitude, time.Now())
}

func TestNewRejectsBadConfig(t *testing.T) {
	q := hardware.NewQueue(hardware.NewSimulator(coordinates.Axes{}, 0), nil)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown mode", func(c *config.Config) { c.Mount.AlignmentMode = "dobsonian" }},
		{"unknown rate", func(c *config.Config) { c.Mount.TrackingRate = "galactic" }},
		{"bad pec gearing", func(c *config.Config) {
			c.PEC.Enabled = true
			c.Mount.StepsPerRev = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("germanpolar")
			tt.mutate(cfg)
			if _, err := New(Options{Config: cfg, Queue: q}); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := New(Options{Queue: q}); err == nil {
		t.Error("Expected error without config")
	}
}

func TestOperationsNeedRunningLoop(t *testing.T) {
	cfg := testConfig("germanpolar")
	q := hardware.NewQueue(hardware.NewSimulator(coordinates.Axes{}, 0), nil)
	ctl, err := New(Options{Config: cfg, Queue: q})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := ctl.Slew(context.Background(), AxesTarget(coordinates.Axes{60, 40})); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Slew error = %v, want ErrNotRunning", err)
	}
	if err := ctl.PulseGuide(context.Background(), tracking.GuideNorth, time.Second, 0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("PulseGuide error = %v, want ErrNotRunning", err)
	}
}

func TestSlewToAxes(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)

	target := coordinates.Axes{60, 40}
	if err := r.ctl.Slew(context.Background(), AxesTarget(target)); err != nil {
		t.Fatalf("Slew: %v", err)
	}

	s := r.ctl.Status()
	if !near(s.AppAxes[0], target[0], 0.001) || !near(s.AppAxes[1], target[1], 0.001) {
		t.Errorf("AppAxes = %v, want %v", s.AppAxes, target)
	}
	if s.SlewState != SlewNone.String() || s.Slewing {
		t.Errorf("SlewState = %s slewing=%v, want none", s.SlewState, s.Slewing)
	}
	if s.Tracking {
		t.Error("Expected tracking to stay off")
	}
	if got := testutil.ToFloat64(r.metrics.Slews.WithLabelValues("axes", metrics.ResultComplete)); got != 1 {
		t.Errorf("complete slews = %v, want 1", got)
	}
}

func TestSlewToRaDecRestoresTracking(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}

	ra := coordinates.Range24(currentLST(cfg) - 2)
	dec := 30.0
	if err := r.ctl.Slew(ctx, RaDecTarget(ra, dec)); err != nil {
		t.Fatalf("Slew: %v", err)
	}

	s := r.ctl.Status()
	if !s.Tracking {
		t.Error("Expected tracking restored after slew")
	}
	if d := math.Abs(coordinates.Range12(s.RightAscension - ra)); d > 0.002 {
		t.Errorf("RA = %.5f, want %.5f", s.RightAscension, ra)
	}
	if !near(s.Declination, dec, 0.01) {
		t.Errorf("Dec = %.4f, want %.4f", s.Declination, dec)
	}

	// tracking holds the target
	time.Sleep(300 * time.Millisecond)
	s = r.ctl.Status()
	if d := math.Abs(coordinates.Range12(s.RightAscension - ra)); d > 0.002 {
		t.Errorf("RA drifted to %.5f, want %.5f", s.RightAscension, ra)
	}
}

func TestSlewRejectsInvalidTargets(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.Limits.SunAvoidanceDegrees = 30
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	before := r.sim.Positions()

	sun := coordinates.SunEquatorial(time.Now())
	tests := []struct {
		name    string
		target  Target
		want    error
		wantMsg string
	}{
		{"sun", RaDecTarget(coordinates.Range24(sun.RightAscension), sun.Declination), ErrSunAvoidance, "(CRITICAL)"},
		{"near the sun", RaDecTarget(coordinates.Range24(sun.RightAscension), sun.Declination+15), ErrSunAvoidance, "(CAUTION)"},
		{"unknown park", ParkTarget("nowhere"), ErrParkNotFound, ""},
		{"bad dec", RaDecTarget(1, 95), nil, ""},
		{"bad ra", RaDecTarget(25, 10), nil, ""},
		{"bad alt", AltAzTarget(10, -95), nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ctl.Slew(ctx, tt.target)
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}

	if after := r.sim.Positions(); after != before {
		t.Errorf("Mount moved from %v to %v", before, after)
	}
}

func TestAbortSlewLatency(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 2, nil)
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		result <- r.ctl.Slew(ctx, AxesTarget(coordinates.Axes{20, 10}))
	}()
	waitFor(t, time.Second, "slewing", func() bool { return r.ctl.Status().Slewing })

	start := time.Now()
	if err := r.ctl.AbortSlew(ctx); err != nil {
		t.Fatalf("AbortSlew: %v", err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("cancelled Slew returned %v, want nil", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Slew did not return after abort")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("abort took %s, want at most 200ms", elapsed)
	}

	res, err := r.queue.Do(ctx, hardware.Command{Kind: hardware.QueryStopped, Mask: hardware.Both})
	if err != nil {
		t.Fatalf("QueryStopped: %v", err)
	}
	if !res.AllStopped(hardware.Both) {
		t.Errorf("Axes still moving after abort: %+v", res)
	}
	if s := r.ctl.Status(); s.SlewState != SlewNone.String() {
		t.Errorf("SlewState = %s, want none", s.SlewState)
	}
	if got := testutil.ToFloat64(r.metrics.Slews.WithLabelValues("axes", metrics.ResultCancelled)); got != 1 {
		t.Errorf("cancelled slews = %v, want 1", got)
	}
}

func TestNewSlewCancelsRunningSlew(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 20, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		first <- r.ctl.Slew(ctx, AxesTarget(coordinates.Axes{-10, 0}))
	}()
	waitFor(t, time.Second, "slewing", func() bool { return r.ctl.Status().Slewing })

	target := coordinates.Axes{95, 85}
	if err := r.ctl.Slew(ctx, AxesTarget(target)); err != nil {
		t.Fatalf("second Slew: %v", err)
	}
	select {
	case err := <-first:
		if err != nil {
			t.Errorf("first Slew returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first Slew still running")
	}

	s := r.ctl.Status()
	if !near(s.AppAxes[0], target[0], 0.001) || !near(s.AppAxes[1], target[1], 0.001) {
		t.Errorf("AppAxes = %v, want %v", s.AppAxes, target)
	}
}

func TestStartSlew(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)

	if err := r.ctl.StartSlew(ParkTarget("nowhere")); !errors.Is(err, ErrParkNotFound) {
		t.Errorf("StartSlew error = %v, want ErrParkNotFound", err)
	}

	target := coordinates.Axes{80, 70}
	if err := r.ctl.StartSlew(AxesTarget(target)); err != nil {
		t.Fatalf("StartSlew: %v", err)
	}
	waitFor(t, 2*time.Second, "slew to finish", func() bool {
		s := r.ctl.Status()
		return s.SlewState == SlewNone.String() && near(s.AppAxes[0], target[0], 0.001) && near(s.AppAxes[1], target[1], 0.001)
	})
}

func TestParkAndUnpark(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.ParkPositions = append(cfg.ParkPositions, config.ParkPosition{Name: "flat", X: 0, Y: 45})
	r := newRig(t, cfg, coordinates.Axes{60, 40}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}
	if err := r.ctl.Park(ctx, "flat"); err != nil {
		t.Fatalf("Park: %v", err)
	}

	s := r.ctl.Status()
	if !s.AtPark || s.ParkName != "flat" {
		t.Errorf("AtPark = %v %q, want true flat", s.AtPark, s.ParkName)
	}
	if s.Tracking {
		t.Error("Expected tracking off after park")
	}
	if !near(s.AppAxes[0], 0, 0.001) || !near(s.AppAxes[1], 45, 0.001) {
		t.Errorf("AppAxes = %v, want [0 45]", s.AppAxes)
	}

	if err := r.ctl.SetTracking(ctx, true); !errors.Is(err, ErrParked) {
		t.Errorf("SetTracking error = %v, want ErrParked", err)
	}
	if err := r.ctl.MoveAxis(ctx, 0, 1); !errors.Is(err, ErrParked) {
		t.Errorf("MoveAxis error = %v, want ErrParked", err)
	}
	if err := r.ctl.PulseGuide(ctx, tracking.GuideNorth, 100*time.Millisecond, 0); !errors.Is(err, ErrParked) {
		t.Errorf("PulseGuide error = %v, want ErrParked", err)
	}
	if err := r.ctl.Slew(ctx, AxesTarget(coordinates.Axes{60, 40})); !errors.Is(err, ErrParked) {
		t.Errorf("Slew error = %v, want ErrParked", err)
	}

	r.ctl.Unpark(ctx)
	if r.ctl.AtPark() {
		t.Error("Expected unparked")
	}
	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Errorf("SetTracking after unpark: %v", err)
	}
}

func TestHome(t *testing.T) {
	tests := []struct {
		mode  string
		start coordinates.Axes
		parks []config.ParkPosition
		want  coordinates.Axes
	}{
		{"germanpolar", coordinates.Axes{60, 40}, nil, coordinates.Axes{90, 90}},
		{"altaz", coordinates.Axes{45, 30}, nil, coordinates.Axes{0, 0}},
		{"germanpolar", coordinates.Axes{60, 40}, []config.ParkPosition{{Name: "home", X: 85, Y: 80}}, coordinates.Axes{85, 80}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := testConfig(tt.mode)
			cfg.ParkPositions = tt.parks
			r := newRig(t, cfg, tt.start, 200, nil)

			if err := r.ctl.Home(context.Background()); err != nil {
				t.Fatalf("Home: %v", err)
			}
			s := r.ctl.Status()
			if !near(s.AppAxes[0], tt.want[0], 0.001) || !near(s.AppAxes[1], tt.want[1], 0.001) {
				t.Errorf("AppAxes = %v, want %v", s.AppAxes, tt.want)
			}
			if s.AtPark {
				t.Error("Home must not park")
			}
		})
	}
}

func TestSaveAndListParks(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{70, 50}, 200, nil)
	ctx := context.Background()

	if _, err := r.ctl.SavePark(ctx, ""); err == nil {
		t.Error("Expected error for unnamed park")
	}
	p, err := r.ctl.SavePark(ctx, "observing")
	if err != nil {
		t.Fatalf("SavePark: %v", err)
	}
	if !near(p.Axes[0], 70, 0.001) || !near(p.Axes[1], 50, 0.001) {
		t.Errorf("saved axes = %v, want [70 50]", p.Axes)
	}

	parks, err := r.ctl.ListParks(ctx)
	if err != nil {
		t.Fatalf("ListParks: %v", err)
	}
	names := map[string]bool{}
	for _, p := range parks {
		names[p.Name] = true
	}
	if !names["home"] || !names["observing"] {
		t.Errorf("parks = %v, want home and observing", parks)
	}
}

func TestMoveAxis(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	signs := r.ctl.Convention().RateSigns()

	if err := r.ctl.MoveAxis(ctx, 0, 10); err == nil {
		t.Error("Expected error above the maximum slew rate")
	}
	if err := r.ctl.MoveAxis(ctx, 2, 1); err == nil {
		t.Error("Expected error for axis 2")
	}

	if err := r.ctl.MoveAxis(ctx, 1, 0.5); err != nil {
		t.Fatalf("MoveAxis: %v", err)
	}
	if s := r.ctl.Status(); s.SlewState != SlewMoveAxis.String() || !s.Slewing {
		t.Errorf("SlewState = %s, want move-axis", s.SlewState)
	}
	if got := r.sim.Rates(); !near(got[1], 0.5*signs[1], 1e-9) || got[0] != 0 {
		t.Errorf("mount rates = %v, want [0 %v]", got, 0.5*signs[1])
	}

	if err := r.ctl.MoveAxis(ctx, 1, 0); err != nil {
		t.Fatalf("MoveAxis: %v", err)
	}
	if s := r.ctl.Status(); s.SlewState != SlewNone.String() {
		t.Errorf("SlewState = %s, want none", s.SlewState)
	}
	if got := r.sim.Rates(); got != (coordinates.Axes{}) {
		t.Errorf("mount rates = %v, want stopped", got)
	}
}

func TestMoveAxisAddsToTracking(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	signs := r.ctl.Convention().RateSigns()

	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}
	if err := r.ctl.MoveAxis(ctx, 0, 0.1); err != nil {
		t.Fatalf("MoveAxis: %v", err)
	}
	want := (r.ctl.CurrentRate() + 0.1) * signs[0]
	if got := r.sim.Rates()[0]; !near(got, want, 1e-9) {
		t.Errorf("primary rate = %v, want %v", got, want)
	}
	if err := r.ctl.AbortSlew(ctx); err != nil {
		t.Fatalf("AbortSlew: %v", err)
	}
	want = r.ctl.CurrentRate() * signs[0]
	if got := r.sim.Rates()[0]; !near(got, want, 1e-9) {
		t.Errorf("primary rate after abort = %v, want tracking %v", got, want)
	}
}

func TestSlewEndsMoveAxis(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.MoveAxis(ctx, 0, 0.5); err != nil {
		t.Fatalf("MoveAxis: %v", err)
	}
	target := coordinates.Axes{60, 40}
	if err := r.ctl.Slew(ctx, AxesTarget(target)); err != nil {
		t.Fatalf("Slew: %v", err)
	}

	s := r.ctl.Status()
	if s.SlewState != SlewNone.String() || s.Slewing {
		t.Errorf("SlewState = %s slewing=%v, want none", s.SlewState, s.Slewing)
	}
	if got := r.sim.Rates(); got != (coordinates.Axes{}) {
		t.Errorf("mount rates after slew = %v, want stopped", got)
	}

	time.Sleep(100 * time.Millisecond)
	s = r.ctl.Status()
	if !near(s.AppAxes[0], target[0], 0.001) || !near(s.AppAxes[1], target[1], 0.001) {
		t.Errorf("AppAxes = %v, want to stay at %v", s.AppAxes, target)
	}
}

func TestStaleRateIsDropped(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()

	r.ctl.mu.Lock()
	gen := r.ctl.st.rateGen
	r.ctl.mu.Unlock()

	if err := r.ctl.Slew(ctx, AxesTarget(coordinates.Axes{80, 70})); err != nil {
		t.Fatalf("Slew: %v", err)
	}

	// composed before the goto took the axes
	if err := r.ctl.setRate(ctx, coordinates.Axes{0.5, 0.5}, gen); err != nil {
		t.Fatalf("setRate: %v", err)
	}
	if got := r.sim.Rates(); got != (coordinates.Axes{}) {
		t.Errorf("mount rates = %v, want the stale rate dropped", got)
	}

	r.ctl.mu.Lock()
	last := r.ctl.st.lastRate
	r.ctl.mu.Unlock()
	if last != (coordinates.Axes{}) {
		t.Errorf("lastRate = %v, want the stale rate not recorded", last)
	}
}

// iterationSum returns the sum of recorded precision iterations for a slew type.
func iterationSum(t *testing.T, m *metrics.MountCollector, slewType string) float64 {
	t.Helper()
	var out dto.Metric
	h := m.PrecisionIterations.WithLabelValues(slewType).(prometheus.Metric)
	if err := h.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return out.GetHistogram().GetSampleSum()
}

func TestPrecisionCorrection(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		iterations float64
		remaining  coordinates.Axes
	}{
		{"simulator corrects fully", "simulator", 1, coordinates.Axes{}},
		{"physical damps", "physical", 5, coordinates.Axes{0.05 * math.Pow(0.75, 5), 0.05 * math.Pow(0.9, 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("germanpolar")
			cfg.Mount.Kind = tt.kind
			r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
			r.sim.GotoError = coordinates.Axes{0.05, 0.05}

			target := coordinates.Axes{60, 40}
			if err := r.ctl.Slew(context.Background(), AxesTarget(target)); err != nil {
				t.Fatalf("Slew: %v", err)
			}

			if got := iterationSum(t, r.metrics, "axes"); got != tt.iterations {
				t.Errorf("precision iterations = %v, want %v", got, tt.iterations)
			}
			want := r.ctl.Convention().AppToMount(target)
			got := r.sim.Positions()
			for i := range got {
				if !near(got[i]-want[i], tt.remaining[i], 1e-6) {
					t.Errorf("axis %d error = %.6f, want %.6f", i, got[i]-want[i], tt.remaining[i])
				}
			}
		})
	}
}

func TestSlewSettles(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.Mount.SettleSeconds = 0.2
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 100, nil)

	snaps, cleanup := r.ctl.Subscribe()
	defer cleanup()

	started := time.Now()
	errc := make(chan error, 1)
	go func() {
		errc <- r.ctl.Slew(context.Background(), AxesTarget(coordinates.Axes{60, 40}))
	}()

	var states []string
	record := func(s Snapshot) {
		if len(states) == 0 || states[len(states)-1] != s.SlewState {
			states = append(states, s.SlewState)
		}
	}
	var err error
collect:
	for {
		select {
		case s := <-snaps:
			record(s)
		case err = <-errc:
			break collect
		case <-time.After(5 * time.Second):
			t.Fatal("slew did not finish")
		}
	}
	if err != nil {
		t.Fatalf("Slew: %v", err)
	}
	if d := time.Since(started); d < 200*time.Millisecond {
		t.Errorf("slew took %s, want at least the settle time", d)
	}
	record(r.ctl.Status())

	next := func(from int, want string) int {
		for i := from; i < len(states); i++ {
			if states[i] == want {
				return i
			}
		}
		t.Fatalf("states %v: no %s after index %d", states, want, from)
		return -1
	}
	i := next(0, SlewGoToAxes.String())
	next(i+1, SlewSettle.String())
	if last := states[len(states)-1]; last != SlewNone.String() {
		t.Errorf("final state = %s, want none (states %v)", last, states)
	}
}

func TestSouthernGermanPolarSlew(t *testing.T) {
	for _, kind := range []string{"simulator", "physical"} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig("germanpolar")
			cfg.Mount.Kind = kind
			cfg.Observer.Latitude = -33.9
			r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
			ctx := context.Background()

			if err := r.ctl.SetTracking(ctx, true); err != nil {
				t.Fatalf("SetTracking: %v", err)
			}
			for _, hours := range []float64{-2, 2} {
				ra := coordinates.Range24(currentLST(cfg) + hours)
				dec := -50.0
				if err := r.ctl.Slew(ctx, RaDecTarget(ra, dec)); err != nil {
					t.Fatalf("Slew: %v", err)
				}
				s := r.ctl.Status()
				if d := math.Abs(coordinates.Range12(s.RightAscension - ra)); d > 0.002 {
					t.Errorf("RA = %.5f, want %.5f", s.RightAscension, ra)
				}
				if !near(s.Declination, dec, 0.01) {
					t.Errorf("Dec = %.4f, want %.4f", s.Declination, dec)
				}
				if !s.Tracking || s.Slewing {
					t.Errorf("tracking=%v slewing=%v, want tracking and stopped", s.Tracking, s.Slewing)
				}
			}
		})
	}
}

func TestTrackingRates(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	signs := r.ctl.Convention().RateSigns()

	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}
	sidereal := tracking.SiderealRate / coordinates.ArcSecondsPerDegree
	if got := r.sim.Rates()[0]; !near(got, sidereal*signs[0], 1e-9) {
		t.Errorf("sidereal rate = %v, want %v", got, sidereal*signs[0])
	}

	if err := r.ctl.SetTrackingRate(ctx, tracking.Lunar); err != nil {
		t.Fatalf("SetTrackingRate: %v", err)
	}
	lunar := tracking.LunarRate / coordinates.ArcSecondsPerDegree
	if got := r.sim.Rates()[0]; !near(got, lunar*signs[0], 1e-9) {
		t.Errorf("lunar rate = %v, want %v", got, lunar*signs[0])
	}

	if err := r.ctl.SetRateOffsets(ctx, 0, 36); err != nil {
		t.Fatalf("SetRateOffsets: %v", err)
	}
	if got := math.Abs(r.sim.Rates()[1]); !near(got, 0.01, 1e-9) {
		t.Errorf("dec rate = %v, want magnitude 0.01", got)
	}

	if err := r.ctl.SetTracking(ctx, false); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}
	if got := r.sim.Rates(); got != (coordinates.Axes{}) {
		t.Errorf("rates = %v, want stopped", got)
	}
}

func TestSyncToRaDec(t *testing.T) {
	t.Run("no model", func(t *testing.T) {
		r := newRig(t, testConfig("germanpolar"), coordinates.Axes{60, 40}, 200, nil)
		if err := r.ctl.SyncToRaDec(context.Background(), 1, 10); !errors.Is(err, ErrNotAlignedMode) {
			t.Errorf("error = %v, want ErrNotAlignedMode", err)
		}
	})

	t.Run("offset model", func(t *testing.T) {
		cfg := testConfig("germanpolar")
		cfg.Alignment.Enabled = true
		model := NewOffsetModel()
		r := newRig(t, cfg, coordinates.Axes{60, 40}, 200, nil, func(o *Options) { o.Alignment = model })
		ctx := context.Background()

		s := r.ctl.Status()
		ra, dec := s.RightAscension, s.Declination+0.5
		if err := r.ctl.SyncToRaDec(ctx, ra, dec); err != nil {
			t.Fatalf("SyncToRaDec: %v", err)
		}
		if model.Syncs() != 1 {
			t.Errorf("Syncs = %d, want 1", model.Syncs())
		}
		s = r.ctl.Status()
		if !near(s.Declination, dec, 0.01) {
			t.Errorf("Dec after sync = %.4f, want %.4f", s.Declination, dec)
		}
	})
}

func TestLimitStopsTracking(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.Limits.StopTracking = true
	start := coordinates.Axes{205, 60}
	r := newRig(t, cfg, start, 200, func(c *Controller) {
		if err := c.SetTracking(context.Background(), true); err != nil {
			t.Fatalf("SetTracking: %v", err)
		}
	})

	waitFor(t, time.Second, "tracking to stop", func() bool { return !r.ctl.Tracking() })
	s := r.ctl.Status()
	if s.LimitEvent != tracking.MeridianLimit.String() || !s.LimitAlarm {
		t.Errorf("limit = %s alarm=%v, want meridian alarm", s.LimitEvent, s.LimitAlarm)
	}
	if got := testutil.ToFloat64(r.metrics.LimitTrips.WithLabelValues(tracking.MeridianLimit.String())); got != 1 {
		t.Errorf("limit trips = %v, want 1", got)
	}
}

func TestLimitParks(t *testing.T) {
	cfg := testConfig("germanpolar")
	cfg.Limits.ParkOnLimit = true
	cfg.Limits.ParkName = "home"
	r := newRig(t, cfg, coordinates.Axes{205, 60}, 200, nil)

	waitFor(t, 2*time.Second, "park", r.ctl.AtPark)
	s := r.ctl.Status()
	if !near(s.AppAxes[0], 90, 0.001) || !near(s.AppAxes[1], 90, 0.001) {
		t.Errorf("AppAxes = %v, want home", s.AppAxes)
	}
	waitFor(t, time.Second, "limit to clear", func() bool { return !r.ctl.Status().LimitAlarm })
}

func TestHardwareFaultStopsLoop(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()

	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}
	r.sim.InjectFault(errors.New("serial timeout"))

	err := r.wait(t, time.Second)
	if !errors.Is(err, hardware.ErrDeviceFault) {
		t.Fatalf("Run error = %v, want ErrDeviceFault", err)
	}
	if r.ctl.Running() {
		t.Error("Expected loop stopped")
	}
	if r.ctl.MountError() == nil {
		t.Error("Expected MountError set")
	}
	if r.ctl.Tracking() {
		t.Error("Expected tracking off after fault")
	}
	if s := r.ctl.Status(); s.MountError == "" {
		t.Error("Expected mount error in snapshot")
	}
	if err := r.ctl.Slew(ctx, AxesTarget(coordinates.Axes{60, 40})); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Slew error = %v, want ErrNotRunning", err)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	r := newRig(t, testConfig("germanpolar"), coordinates.Axes{90, 90}, 200, nil)

	ch, unsub := r.ctl.Subscribe()
	defer unsub()

	select {
	case s := <-ch:
		if s.Time.IsZero() {
			t.Error("Expected snapshot time")
		}
		if s.PierSide == "" || s.SlewState == "" {
			t.Errorf("incomplete snapshot %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestRunTwice(t *testing.T) {
	r := newRig(t, testConfig("germanpolar"), coordinates.Axes{90, 90}, 200, nil)
	if err := r.ctl.Run(context.Background()); err == nil {
		t.Error("Expected error starting a second loop")
	}
}

func TestAltAzSlewTracksTarget(t *testing.T) {
	cfg := testConfig("altaz")
	r := newRig(t, cfg, coordinates.Axes{0, 30}, 200, nil)
	ctx := context.Background()

	ra := coordinates.Range24(currentLST(cfg) - 1)
	dec := 60.0
	if err := r.ctl.Slew(ctx, RaDecTarget(ra, dec)); err != nil {
		t.Fatalf("Slew: %v", err)
	}
	if !r.ctl.Tracking() {
		t.Fatal("Expected Alt-Az tracking after an equatorial slew")
	}

	time.Sleep(400 * time.Millisecond)
	s := r.ctl.Status()
	if d := math.Abs(coordinates.Range12(s.RightAscension - ra)); d > 0.005 {
		t.Errorf("RA = %.5f, want %.5f", s.RightAscension, ra)
	}
	if !near(s.Declination, dec, 0.05) {
		t.Errorf("Dec = %.4f, want %.4f", s.Declination, dec)
	}
	if got := testutil.ToFloat64(r.metrics.TrackingUpdates.WithLabelValues(AltAzPredictor)); got == 0 {
		t.Error("Expected predictor tracking updates")
	}
}

func TestAltAzSlewToHorizontal(t *testing.T) {
	cfg := testConfig("altaz")
	r := newRig(t, cfg, coordinates.Axes{0, 30}, 200, nil)

	if err := r.ctl.Slew(context.Background(), AltAzTarget(120, 45)); err != nil {
		t.Fatalf("Slew: %v", err)
	}
	s := r.ctl.Status()
	if !near(s.Altitude, 45, 0.001) || !near(coordinates.Range360(s.Azimuth), 120, 0.001) {
		t.Errorf("Alt/Az = %.4f/%.4f, want 45/120", s.Altitude, s.Azimuth)
	}
	if s.Tracking {
		t.Error("Expected tracking to stay off")
	}
}
