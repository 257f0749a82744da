package coordinates

import (
	"errors"
	"math"
	"testing"
)

type conventionCase struct {
	name string
	mode AlignmentMode
	kind MountKind
	hemi Hemisphere
}

func allConventions() []conventionCase {
	var cases []conventionCase
	for _, mode := range []AlignmentMode{AltAz, Polar, GermanPolar} {
		for _, kind := range []MountKind{Simulator, Physical} {
			for _, hemi := range []Hemisphere{North, South} {
				name := mode.String() + "/" + kind.String()
				if hemi == South {
					name += "/south"
				} else {
					name += "/north"
				}
				cases = append(cases, conventionCase{name, mode, kind, hemi})
			}
		}
	}
	return cases
}

func mustConvention(t *testing.T, mode AlignmentMode, kind MountKind, hemi Hemisphere) Convention {
	t.Helper()
	conv, err := NewConvention(mode, kind, hemi)
	if err != nil {
		t.Fatalf("NewConvention(%s, %s): %v", mode, kind, err)
	}
	return conv
}

func axesClose(a, b Axes, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}

// TestAppMountRoundTrip verifies MountToApp(AppToMount(x)) == x for every convention
func TestAppMountRoundTrip(t *testing.T) {
	for _, cc := range allConventions() {
		t.Run(cc.name, func(t *testing.T) {
			conv := mustConvention(t, cc.mode, cc.kind, cc.hemi)

			for x := -180.0; x <= 360.0; x += 22.5 {
				for y := -90.0; y <= 270.0; y += 15.0 {
					in := Axes{x, y}
					out := conv.MountToApp(conv.AppToMount(in))
					if !axesClose(in, out, 1e-9) {
						t.Fatalf("round trip %v -> %v", in, out)
					}
				}
			}
		})
	}
}

// TestAlternatePositionInvolution verifies the alternate position applied twice returns the input
func TestAlternatePositionInvolution(t *testing.T) {
	for _, cc := range allConventions() {
		t.Run(cc.name, func(t *testing.T) {
			conv := mustConvention(t, cc.mode, cc.kind, cc.hemi)

			for x := -179.0; x < 180.0; x += 13.0 {
				for y := -80.0; y <= 260.0; y += 20.0 {
					in := Axes{x, y}
					out := conv.AlternatePosition(conv.AlternatePosition(in))
					if math.Abs(Range180(in[0]-out[0])) > 1e-9 || math.Abs(in[1]-out[1]) > 1e-9 {
						t.Fatalf("alternate twice %v -> %v", in, out)
					}
				}
			}
		})
	}
}

// TestAlternatePositionPointsAtSameSky checks the alternate equatorial position decodes to the same RA/Dec
func TestAlternatePositionPointsAtSameSky(t *testing.T) {
	for _, hemi := range []Hemisphere{North, South} {
		conv := mustConvention(t, GermanPolar, Simulator, hemi)
		tr := NewTransformer(conv, 45*hemi.Sign(), 15, 0)

		in := Axes{40, 25}
		ra1, dec1 := tr.AxesToRaDec(in, 10)
		ra2, dec2 := tr.AxesToRaDec(tr.AlternateAxisPosition(in), 10)

		if math.Abs(Range12(ra1-ra2)) > 1e-9 || math.Abs(dec1-dec2) > 1e-9 {
			t.Errorf("hemisphere %d: alternate decodes to %.6f/%.6f, want %.6f/%.6f", hemi, ra2, dec2, ra1, dec1)
		}
	}
}

// TestRaDecAxesRoundTrip converts RA/Dec to axes and back for every convention
func TestRaDecAxesRoundTrip(t *testing.T) {
	lst := 6.0
	targets := [][2]float64{
		{5.0, 30.0},  // 15° west of the meridian
		{9.0, 10.0},  // 45° east of the meridian
		{1.0, 60.0},  // 75° west
		{11.5, -5.0}, // east of the meridian, low
		{3.0, 45.0},
	}

	for _, cc := range allConventions() {
		t.Run(cc.name, func(t *testing.T) {
			lat := 40.0
			local := make([][2]float64, len(targets))
			copy(local, targets)
			if cc.hemi == South {
				lat = -40.0
				for i := range local {
					local[i][1] = -math.Abs(local[i][1])
				}
			}
			conv := mustConvention(t, cc.mode, cc.kind, cc.hemi)
			tr := NewTransformer(conv, lat, 10, 10)
			current := Axes{90, 90}
			if cc.mode == AltAz {
				current = Axes{0, 45}
			}

			for _, target := range local {
				axes := tr.RaDecToAxes(target, lst, false, current)
				ra, dec := tr.AxesToRaDec(axes, lst)
				if math.Abs(Range12(ra-target[0])) > 1e-9 || math.Abs(dec-target[1]) > 1e-9 {
					t.Errorf("target %v -> axes %v -> %.9f/%.9f", target, axes, ra, dec)
				}
			}
		})
	}
}

// TestRaDecToAxesGermanPolarNorth is the worked GermanPolar/simulator/north example
func TestRaDecToAxesGermanPolarNorth(t *testing.T) {
	conv := mustConvention(t, GermanPolar, Simulator, North)
	tr := NewTransformer(conv, 51.5, 0, 0)
	lst := 12.0

	t.Run("West of meridian stays on the normal side", func(t *testing.T) {
		axes := tr.RaDecToAxes([2]float64{9.0, 30.0}, lst, false, Axes{90, 90})
		if !axesClose(axes, Axes{45, 30}, 1e-9) {
			t.Errorf("axes = %v, want [45 30]", axes)
		}
	})

	t.Run("Hour angle past 180 goes through the pole", func(t *testing.T) {
		// HA = 15*(12-16) = -60 -> 300 -> +180 = 480 -> ranged back to 120
		axes := tr.RaDecToAxes([2]float64{16.0, 30.0}, lst, false, Axes{90, 90})
		if !axesClose(axes, Axes{120, 150}, 1e-9) {
			t.Errorf("axes = %v, want [120 150]", axes)
		}
		if axes[0] < 0 || axes[0] >= 180 {
			t.Errorf("axis 0 = %f, want within [0, 180)", axes[0])
		}
	})

	t.Run("Hour angle flag", func(t *testing.T) {
		axes := tr.RaDecToAxes([2]float64{2.0, -20.0}, lst, true, Axes{90, 90})
		if !axesClose(axes, Axes{30, -20}, 1e-9) {
			t.Errorf("axes = %v, want [30 -20]", axes)
		}
	})

	t.Run("All outputs within range", func(t *testing.T) {
		for ra := 0.0; ra < 24.0; ra += 0.7 {
			for dec := -85.0; dec <= 85.0; dec += 17.0 {
				axes := tr.RaDecToAxes([2]float64{ra, dec}, lst, false, Axes{90, 90})
				if axes[0] < 0 || axes[0] > 180 {
					t.Fatalf("ra %.1f dec %.1f: axis 0 = %f", ra, dec, axes[0])
				}
				if axes[1] < -90 || axes[1] > 270 {
					t.Fatalf("ra %.1f dec %.1f: axis 1 = %f", ra, dec, axes[1])
				}
			}
		}
	})
}

// TestSelectAlternateNearMeridian tests the alternate position is used when it is closer and allowed
func TestSelectAlternateNearMeridian(t *testing.T) {
	conv := mustConvention(t, GermanPolar, Simulator, North)
	tr := NewTransformer(conv, 45, 15, 0)
	lst := 12.0

	// Target 5° west of the meridian, mount currently through the pole near the meridian
	current := Axes{178, 140}
	axes := tr.RaDecToAxes([2]float64{12.0 - 5.0/15.0, 40}, lst, false, current)
	if !axesClose(axes, Axes{185, 140}, 1e-9) {
		t.Errorf("axes = %v, want alternate [185 140]", axes)
	}

	// Outside the flip limits the normal position is always used
	axes = tr.RaDecToAxes([2]float64{12.0 - 40.0/15.0, 40}, lst, false, current)
	if !axesClose(axes, Axes{40, 40}, 1e-9) {
		t.Errorf("axes = %v, want [40 40]", axes)
	}
}

// TestSelectAlternateAltAz tests the azimuth wrap choice
func TestSelectAlternateAltAz(t *testing.T) {
	conv := mustConvention(t, AltAz, Simulator, North)

	tr := NewTransformer(conv, 45, 0, 30)
	got := tr.SelectAlternate(Axes{170, 40}, Axes{-175, 40})
	if !axesClose(got, Axes{-190, 40}, 1e-9) {
		t.Errorf("with wrap room got %v, want [-190 40]", got)
	}

	tr.AzimuthLimit = 0
	got = tr.SelectAlternate(Axes{170, 40}, Axes{-175, 40})
	if !axesClose(got, Axes{170, 40}, 1e-9) {
		t.Errorf("without wrap room got %v, want [170 40]", got)
	}
}

// TestPierSideTables checks the pier side assignment per mount kind and hemisphere
func TestPierSideTables(t *testing.T) {
	tests := []struct {
		name  string
		mode  AlignmentMode
		kind  MountKind
		hemi  Hemisphere
		mount Axes
		want  PierSide
	}{
		{"AltAz positive azimuth", AltAz, Simulator, North, Axes{10, 40}, PierWest},
		{"AltAz negative azimuth", AltAz, Simulator, North, Axes{-10, 40}, PierEast},
		{"Polar normal", Polar, Physical, North, Axes{30, 45}, PierEast},
		{"Polar dead band at 90", Polar, Physical, North, Axes{30, 90.00000000001}, PierEast},
		{"Polar through pole", Polar, Physical, North, Axes{30, 135}, PierWest},
		{"GEM simulator north normal", GermanPolar, Simulator, North, Axes{30, 45}, PierEast},
		{"GEM simulator north flipped", GermanPolar, Simulator, North, Axes{30, 135}, PierWest},
		{"GEM simulator south normal", GermanPolar, Simulator, South, Axes{150, 45}, PierWest},
		{"GEM simulator south flipped", GermanPolar, Simulator, South, Axes{150, 135}, PierEast},
		{"GEM physical north inside 90", GermanPolar, Physical, North, Axes{30, 45}, PierWest},
		{"GEM physical north outside 90", GermanPolar, Physical, North, Axes{30, 135}, PierEast},
		{"GEM physical south inside 90", GermanPolar, Physical, South, Axes{150, 45}, PierEast},
		{"GEM physical south outside 90", GermanPolar, Physical, South, Axes{150, 135}, PierWest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := mustConvention(t, tt.mode, tt.kind, tt.hemi)
			if got := conv.PierSide(tt.mount); got != tt.want {
				t.Errorf("PierSide(%v) = %s, want %s", tt.mount, got, tt.want)
			}
		})
	}
}

// TestNormalPositionIsSameSideAcrossKinds checks app positions map to the same
// physical pier side for simulator and physical mounts in the north
func TestNormalPositionIsSameSideAcrossKinds(t *testing.T) {
	sim := NewTransformer(mustConvention(t, GermanPolar, Simulator, North), 45, 0, 0)
	phys := NewTransformer(mustConvention(t, GermanPolar, Physical, North), 45, 0, 0)

	for _, a := range []Axes{{30, 45}, {120, 150}} {
		if sim.PierSide(a) != phys.PierSide(a) {
			t.Errorf("axes %v: simulator %s, physical %s", a, sim.PierSide(a), phys.PierSide(a))
		}
	}
}

// TestIsFlipRequired tests flip detection
func TestIsFlipRequired(t *testing.T) {
	conv := mustConvention(t, GermanPolar, Simulator, North)
	tr := NewTransformer(conv, 45, 10, 0)
	lst := 12.0

	t.Run("Within flip limits never flips", func(t *testing.T) {
		ra := lst - 5.0/15.0
		if tr.IsFlipRequired(ra, 30, lst, PierWest) {
			t.Error("expected no flip within the flip limits")
		}
	})

	t.Run("West target from the west pier needs a flip", func(t *testing.T) {
		if !tr.IsFlipRequired(lst-3, 30, lst, PierWest) {
			t.Error("expected flip")
		}
		if tr.IsFlipRequired(lst-3, 30, lst, PierEast) {
			t.Error("expected no flip from the east pier")
		}
	})

	t.Run("No-op conversion never requires a flip", func(t *testing.T) {
		for ra := 0.0; ra < 24.0; ra += 0.9 {
			for dec := -60.0; dec <= 80.0; dec += 20.0 {
				axes := tr.RaDecToAxes([2]float64{ra, dec}, lst, false, Axes{90, 90})
				side := tr.PierSide(axes)
				backRa, backDec := tr.AxesToRaDec(axes, lst)
				if tr.IsFlipRequired(backRa, backDec, lst, side) {
					t.Fatalf("ra %.1f dec %.1f (axes %v side %s) reported a flip", ra, dec, axes, side)
				}
			}
		}
	})
}

// TestNewConventionErrors tests unsupported combinations are rejected
func TestNewConventionErrors(t *testing.T) {
	if _, err := NewConvention(AlignmentMode(9), Simulator, North); !errors.Is(err, ErrUnsupportedMount) {
		t.Errorf("expected ErrUnsupportedMount for unknown mode, got %v", err)
	}
	if _, err := NewConvention(GermanPolar, MountKind(7), North); !errors.Is(err, ErrUnsupportedMount) {
		t.Errorf("expected ErrUnsupportedMount for unknown kind, got %v", err)
	}
	if _, err := ParseAlignmentMode("equatorial-ish"); !errors.Is(err, ErrUnsupportedMount) {
		t.Errorf("expected ErrUnsupportedMount parsing mode, got %v", err)
	}
	if m, err := ParseAlignmentMode("GEM"); err != nil || m != GermanPolar {
		t.Errorf("ParseAlignmentMode(GEM) = %v, %v", m, err)
	}
	if k, err := ParseMountKind("skywatcher"); err != nil || k != Physical {
		t.Errorf("ParseMountKind(skywatcher) = %v, %v", k, err)
	}
}
