package mount

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
	"github.com/unklstewy/mountcore/pkg/pec"
	"github.com/unklstewy/mountcore/pkg/tracking"
)

func filledTable(t *testing.T, p pec.Params, factor float64) *pec.Table {
	t.Helper()
	table := pec.NewTable(p)
	for i := 0; i < p.Bins(); i++ {
		if err := table.Set(i, factor, 1); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	return table
}

func TestPECAppliesFactor(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	params, err := cfg.PECParams()
	if err != nil {
		t.Fatalf("PECParams: %v", err)
	}

	if err := r.ctl.EnablePEC(ctx, true); !errors.Is(err, ErrNoPECTable) {
		t.Errorf("EnablePEC error = %v, want ErrNoPECTable", err)
	}

	if err := r.ctl.SetPECTable(ctx, filledTable(t, params, 1.01), pec.Replace); err != nil {
		t.Fatalf("SetPECTable: %v", err)
	}
	if err := r.ctl.EnablePEC(ctx, true); err != nil {
		t.Fatalf("EnablePEC: %v", err)
	}
	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}

	want := tracking.SiderealRate * 1.01 / coordinates.ArcSecondsPerDegree * r.ctl.Convention().RateSigns()[0]
	waitFor(t, time.Second, "pec factor applied", func() bool {
		s := r.ctl.Status()
		return s.PECBin >= 0 && s.PECFactor == 1.01 && near(r.sim.Rates()[0], want, 1e-9)
	})

	if err := r.ctl.EnablePEC(ctx, false); err != nil {
		t.Fatalf("EnablePEC: %v", err)
	}
	if s := r.ctl.Status(); s.PECFactor != 1 || s.PECBin != -1 {
		t.Errorf("PEC after disable = bin %d factor %v, want -1 and 1", s.PECBin, s.PECFactor)
	}
}

func TestPECMissingBinDisables(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	params, err := cfg.PECParams()
	if err != nil {
		t.Fatalf("PECParams: %v", err)
	}

	if err := r.ctl.SetPECTable(ctx, pec.NewTable(params), pec.Replace); err != nil {
		t.Fatalf("SetPECTable: %v", err)
	}
	if err := r.ctl.EnablePEC(ctx, true); err != nil {
		t.Fatalf("EnablePEC: %v", err)
	}
	if err := r.ctl.SetTracking(ctx, true); err != nil {
		t.Fatalf("SetTracking: %v", err)
	}

	waitFor(t, time.Second, "pec to disable", func() bool { return !r.ctl.Status().PECEnabled })
	if !r.ctl.Tracking() {
		t.Error("A missing bin must not stop tracking")
	}
}

func TestPECTableChecks(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()

	other, err := pec.NewParams(pec.WormPeriod, 1000, 10, 50)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	if err := r.ctl.SetPECTable(ctx, pec.NewTable(other), pec.Replace); !errors.Is(err, pec.ErrHeaderMismatch) {
		t.Errorf("SetPECTable error = %v, want ErrHeaderMismatch", err)
	}
	if err := r.ctl.SetPECTable(ctx, nil, pec.Replace); !errors.Is(err, ErrNoPECTable) {
		t.Errorf("SetPECTable(nil) error = %v, want ErrNoPECTable", err)
	}
	if r.ctl.PECTable() != nil {
		t.Error("Expected no table")
	}
	if err := r.ctl.SavePEC(filepath.Join(t.TempDir(), "none.txt")); !errors.Is(err, ErrNoPECTable) {
		t.Errorf("SavePEC error = %v, want ErrNoPECTable", err)
	}
}

func TestPECSaveAndMerge(t *testing.T) {
	cfg := testConfig("germanpolar")
	r := newRig(t, cfg, coordinates.Axes{90, 90}, 200, nil)
	ctx := context.Background()
	params, err := cfg.PECParams()
	if err != nil {
		t.Fatalf("PECParams: %v", err)
	}

	if err := r.ctl.SetPECTable(ctx, filledTable(t, params, 1.02), pec.Replace); err != nil {
		t.Fatalf("SetPECTable: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pec.txt")
	if err := r.ctl.SavePEC(path); err != nil {
		t.Fatalf("SavePEC: %v", err)
	}

	if err := r.ctl.LoadPEC(ctx, path, pec.Merge); err != nil {
		t.Fatalf("LoadPEC: %v", err)
	}
	table := r.ctl.PECTable()
	bin := table.Bins[0]
	if bin.Count != 2 || !near(bin.Factor, 1.02, 1e-12) {
		t.Errorf("bin 0 = %+v, want factor 1.02 count 2", bin)
	}

	if err := r.ctl.LoadPEC(ctx, filepath.Join(t.TempDir(), "missing.txt"), pec.Replace); err == nil {
		t.Error("Expected error for a missing file")
	}
}
