package pec

import (
	"errors"
	"math"
	"testing"
)

func wormParams(t *testing.T) Params {
	t.Helper()
	// 9024000 steps per rev, 180 teeth -> 50133 steps per worm rev -> 501 steps per bin
	p, err := NewParams(WormPeriod, 9024000, 180, 100)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

// TestNewParams tests bin size derivation and validation
func TestNewParams(t *testing.T) {
	p := wormParams(t)
	if p.BinSteps != 501 {
		t.Errorf("BinSteps = %d, want 501", p.BinSteps)
	}
	if p.Bins() != 100 {
		t.Errorf("Bins = %d, want 100", p.Bins())
	}

	full, err := NewParams(Full360, 9024000, 180, 0)
	if err != nil {
		t.Fatalf("NewParams full360: %v", err)
	}
	if full.BinCount != DefaultBinCount {
		t.Errorf("BinCount default = %d", full.BinCount)
	}
	if full.Bins() != 9024000/501 {
		t.Errorf("full360 Bins = %d, want %d", full.Bins(), 9024000/501)
	}

	if _, err := NewParams(WormPeriod, 0, 180, 100); err == nil {
		t.Error("expected error for zero steps per rev")
	}
	if _, err := NewParams(WormPeriod, 500, 180, 100); err == nil {
		t.Error("expected error when a bin would hold no steps")
	}
}

// TestBinIndexWorm tests worm period binning
func TestBinIndexWorm(t *testing.T) {
	p := wormParams(t)
	bs := float64(p.BinSteps)

	tests := []struct {
		name     string
		position float64
		offset   float64
		want     int
	}{
		{"Origin", 0, 0, 0},
		{"Bin 50", bs * 50, 0, 50},
		{"Inside bin 50", bs*50 + bs/2, 0, 50},
		{"Wraps on worm period", bs * 150, 0, 50},
		{"Offset", bs * 10, bs * 5, 15},
		{"Negative position", -bs / 2, 0, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.BinIndex(tt.position, tt.offset); got != tt.want {
				t.Errorf("BinIndex = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestBinIndexFull360 tests full revolution binning does not wrap on the worm
func TestBinIndexFull360(t *testing.T) {
	p, _ := NewParams(Full360, 9024000, 180, 100)
	bs := float64(p.BinSteps)

	if got := p.BinIndex(bs*150, 0); got != 150 {
		t.Errorf("BinIndex = %d, want 150", got)
	}
	if got := p.BinIndex(9024000+bs*3, 0); got != 3 {
		t.Errorf("BinIndex past one revolution = %d, want 3", got)
	}
	if got := p.BinIndex(-bs/2, 0); got != 18011 {
		t.Errorf("BinIndex negative = %d, want 18011", got)
	}
}

// TestTableSet tests the safety band on individual bins
func TestTableSet(t *testing.T) {
	table := NewTable(wormParams(t))

	if err := table.Set(3, 1.01, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := table.Set(4, 1.05, 1); !errors.Is(err, ErrUnsafeFactor) {
		t.Errorf("expected ErrUnsafeFactor, got %v", err)
	}
	if err := table.Set(100, 1.0, 1); err == nil {
		t.Error("expected range error")
	}

	table.Fill()
	if len(table.Bins) != 100 {
		t.Errorf("Fill left %d bins", len(table.Bins))
	}
	if table.Bins[3].Factor != 1.01 || table.Bins[50].Factor != 1.0 || table.Bins[50].Count != 0 {
		t.Errorf("unexpected bins after Fill: %+v %+v", table.Bins[3], table.Bins[50])
	}
}

// TestMergeTables tests replace and running average merges
func TestMergeTables(t *testing.T) {
	p := wormParams(t)

	existing := NewTable(p)
	existing.Offset = 250
	existing.Set(0, 1.01, 3)
	existing.Set(1, 0.99, 1)

	incoming := NewTable(p)
	incoming.Offset = 100
	incoming.Set(0, 1.03, 1)
	incoming.Set(2, 1.02, 1)

	t.Run("Replace", func(t *testing.T) {
		out, err := MergeTables(existing, incoming, Replace)
		if err != nil {
			t.Fatalf("MergeTables: %v", err)
		}
		if out.Offset != 0 {
			t.Errorf("Offset = %f, want 0", out.Offset)
		}
		if _, ok := out.Bins[1]; ok {
			t.Error("replace kept an old bin")
		}
		if out.Bins[0].Factor != 1.03 {
			t.Errorf("bin 0 = %v", out.Bins[0])
		}
	})

	t.Run("Merge", func(t *testing.T) {
		out, err := MergeTables(existing, incoming, Merge)
		if err != nil {
			t.Fatalf("MergeTables: %v", err)
		}
		want := (1.01*3 + 1.03) / 4
		if math.Abs(out.Bins[0].Factor-want) > 1e-12 || out.Bins[0].Count != 4 {
			t.Errorf("bin 0 = %+v, want factor %f count 4", out.Bins[0], want)
		}
		if out.Bins[1] != (Bin{0.99, 1}) {
			t.Errorf("bin 1 changed: %+v", out.Bins[1])
		}
		if out.Bins[2] != (Bin{1.02, 1}) {
			t.Errorf("bin 2 = %+v", out.Bins[2])
		}
		if out.Offset != 250 {
			t.Errorf("merge changed the offset to %f", out.Offset)
		}
		if existing.Bins[0].Count != 3 {
			t.Error("merge modified its input")
		}
	})

	t.Run("Mismatched parameters", func(t *testing.T) {
		other, _ := NewParams(WormPeriod, 9024000, 144, 100)
		_, err := MergeTables(existing, NewTable(other), Merge)
		if !errors.Is(err, ErrHeaderMismatch) {
			t.Errorf("expected ErrHeaderMismatch, got %v", err)
		}
	})
}

// TestCorrectorWorm tests bin changes and missing bins
func TestCorrectorWorm(t *testing.T) {
	p := wormParams(t)
	bs := float64(p.BinSteps)
	table := NewTable(p)
	table.Set(0, 1.01, 1)
	table.Set(1, 0.98, 1)

	c := NewCorrector(table)
	if c.Index() != -1 || c.Factor() != 1.0 {
		t.Fatalf("new corrector at %d/%f", c.Index(), c.Factor())
	}

	idx, f, changed, err := c.Update(10)
	if err != nil || idx != 0 || f != 1.01 || !changed {
		t.Fatalf("Update(10) = %d %f %v %v", idx, f, changed, err)
	}

	_, _, changed, _ = c.Update(20)
	if changed {
		t.Error("same bin reported as changed")
	}

	idx, f, changed, _ = c.Update(bs + 1)
	if idx != 1 || f != 0.98 || !changed {
		t.Errorf("Update(bin 1) = %d %f %v", idx, f, changed)
	}

	_, _, _, err = c.Update(bs * 2)
	if !errors.Is(err, ErrBinMissing) {
		t.Errorf("expected ErrBinMissing, got %v", err)
	}
	if c.Index() != 1 {
		t.Errorf("missing bin moved the corrector to %d", c.Index())
	}
}

// TestCorrectorFull360Window tests the window cache is rebuilt as the axis moves
func TestCorrectorFull360Window(t *testing.T) {
	p, _ := NewParams(Full360, 9024000, 180, 100)
	bs := float64(p.BinSteps)
	table := NewTable(p)
	table.Fill()
	table.Set(5, 1.02, 1)
	table.Set(500, 0.97, 1)

	c := NewCorrector(table)
	_, f, _, err := c.Update(bs * 5)
	if err != nil || f != 1.02 {
		t.Fatalf("bin 5 = %f, %v", f, err)
	}

	_, f, _, err = c.Update(bs * 500)
	if err != nil || f != 0.97 {
		t.Fatalf("bin 500 = %f, %v", f, err)
	}
	if c.cacheCenter != 500 {
		t.Errorf("cache centred on %d, want 500", c.cacheCenter)
	}
	if len(c.cache) != 2*cacheWindow+1 {
		t.Errorf("cache holds %d bins", len(c.cache))
	}
}
