// Package pec implements periodic error correction: a table of tracking rate
// multipliers indexed by worm (or full revolution) position.
package pec

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrHeaderMismatch is returned when a table does not match the mount configuration
	ErrHeaderMismatch = errors.New("pec parameters do not match the mount configuration")

	// ErrUnsafeFactor is returned for factors outside the safety band
	ErrUnsafeFactor = errors.New("pec factor outside the safe band")

	// ErrBinMissing is returned when the current bin has no factor
	ErrBinMissing = errors.New("pec bin missing")

	// ErrParse is returned for malformed pec files
	ErrParse = errors.New("malformed pec file")
)

// MaxFactorDeviation is the largest allowed distance of a factor from 1.0.
const MaxFactorDeviation = 0.04

// DefaultBinCount is the number of bins per worm period.
const DefaultBinCount = 100

// cacheWindow is the number of bins kept either side of the current bin in
// full revolution mode.
const cacheWindow = 100

// IsSafeFactor reports whether a factor is within the safety band.
func IsSafeFactor(f float64) bool {
	return math.Abs(f-1) < MaxFactorDeviation
}

// Mode is the span a table covers.
type Mode int

const (
	// WormPeriod tables cover one worm revolution and repeat
	WormPeriod Mode = iota

	// Full360 tables cover one full axis revolution
	Full360
)

// String returns the file type name of the mode.
func (m Mode) String() string {
	switch m {
	case WormPeriod:
		return "WormPeriod"
	case Full360:
		return "Full360"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a file type name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wormperiod", "worm":
		return WormPeriod, nil
	case "full360", "360":
		return Full360, nil
	}
	return 0, fmt.Errorf("%w: unknown file type %q", ErrParse, s)
}

// Params describes how positions map to bins.
type Params struct {
	Mode Mode

	// BinCount is the number of bins in one worm period
	BinCount int

	// BinSteps is the number of axis steps in one bin
	BinSteps int

	// StepsPerRev is the number of axis steps in one revolution
	StepsPerRev int

	// WormTeeth is the number of teeth on the worm wheel
	WormTeeth int
}

// NewParams derives bin sizes from the mount gearing.
func NewParams(mode Mode, stepsPerRev, wormTeeth, binCount int) (Params, error) {
	if binCount <= 0 {
		binCount = DefaultBinCount
	}
	p := Params{
		Mode:        mode,
		BinCount:    binCount,
		StepsPerRev: stepsPerRev,
		WormTeeth:   wormTeeth,
	}
	if wormTeeth > 0 {
		p.BinSteps = stepsPerRev / wormTeeth / binCount
	}
	return p, p.Validate()
}

// Validate checks the parameters describe a usable table.
func (p Params) Validate() error {
	if p.StepsPerRev <= 0 || p.WormTeeth <= 0 || p.BinCount <= 0 {
		return fmt.Errorf("invalid pec parameters: steps per rev %d, worm teeth %d, bin count %d",
			p.StepsPerRev, p.WormTeeth, p.BinCount)
	}
	if p.BinSteps <= 0 {
		return fmt.Errorf("invalid pec parameters: %d steps per worm revolution is less than %d bins",
			p.StepsPerRev/p.WormTeeth, p.BinCount)
	}
	return nil
}

// Bins returns the number of bins a table of these parameters holds.
func (p Params) Bins() int {
	if p.Mode == Full360 && p.BinSteps > 0 {
		return p.StepsPerRev / p.BinSteps
	}
	return p.BinCount
}

// BinIndex returns the bin for an axis position in steps.
//
// Worm period mode: floor((position + offset) / binSteps) mod binCount.
// Full revolution mode ranges the position to one revolution and does not
// wrap on the worm period.
func (p Params) BinIndex(position, offset float64) int {
	if p.BinSteps <= 0 {
		return 0
	}
	pos := position + offset
	if p.Mode == Full360 {
		rev := float64(p.StepsPerRev)
		pos = math.Mod(pos, rev)
		if pos < 0 {
			pos += rev
		}
		return int(math.Floor(pos / float64(p.BinSteps)))
	}

	idx := int(math.Floor(pos/float64(p.BinSteps))) % p.BinCount
	if idx < 0 {
		idx += p.BinCount
	}
	return idx
}

// StepsFromDegrees converts an axis angle to steps.
func (p Params) StepsFromDegrees(deg float64) float64 {
	return deg / 360.0 * float64(p.StepsPerRev)
}

// Bin is one table entry.
type Bin struct {
	// Factor multiplies the tracking rate while the axis is in the bin
	Factor float64

	// Count is how many measurements were averaged into Factor
	Count int
}

// Table is a set of PEC bins for one parameter set.
type Table struct {
	Params Params
	Bins   map[int]Bin

	// Offset in steps is added to positions before binning
	Offset float64
}

// NewTable creates an empty table.
func NewTable(p Params) *Table {
	return &Table{Params: p, Bins: make(map[int]Bin)}
}

// Set stores a factor for a bin.
func (t *Table) Set(index int, factor float64, count int) error {
	if index < 0 || index >= t.Params.Bins() {
		return fmt.Errorf("pec bin %d out of range [0, %d)", index, t.Params.Bins())
	}
	if !IsSafeFactor(factor) {
		return fmt.Errorf("%w: bin %d factor %.6f", ErrUnsafeFactor, index, factor)
	}
	t.Bins[index] = Bin{Factor: factor, Count: count}
	return nil
}

// Fill sets every missing bin to a neutral factor of 1.0.
func (t *Table) Fill() {
	for i := 0; i < t.Params.Bins(); i++ {
		if _, ok := t.Bins[i]; !ok {
			t.Bins[i] = Bin{Factor: 1.0}
		}
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{Params: t.Params, Offset: t.Offset, Bins: make(map[int]Bin, len(t.Bins))}
	for k, v := range t.Bins {
		c.Bins[k] = v
	}
	return c
}

// MergeMode selects how a new table combines with an existing one.
type MergeMode int

const (
	// Replace overwrites the existing table and resets the offset
	Replace MergeMode = iota

	// Merge averages the new factors into the existing ones
	Merge
)

// ParseMergeMode converts a name to a MergeMode.
func ParseMergeMode(s string) (MergeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace":
		return Replace, nil
	case "merge":
		return Merge, nil
	}
	return 0, fmt.Errorf("unknown merge mode %q", s)
}

// MergeTables combines incoming into existing and returns the result. Neither
// input is modified.
//
// Merge keeps a running average per bin: (old*count + new) / (count + 1).
func MergeTables(existing, incoming *Table, mode MergeMode) (*Table, error) {
	if existing != nil && existing.Params != incoming.Params {
		return nil, fmt.Errorf("%w: cannot merge %+v into %+v", ErrHeaderMismatch, incoming.Params, existing.Params)
	}

	if mode == Replace || existing == nil {
		out := incoming.Clone()
		out.Offset = 0
		return out, nil
	}

	out := existing.Clone()
	for idx, in := range incoming.Bins {
		old, ok := out.Bins[idx]
		if !ok {
			out.Bins[idx] = Bin{Factor: in.Factor, Count: 1}
			continue
		}
		factor := (old.Factor*float64(old.Count) + in.Factor) / float64(old.Count+1)
		if !IsSafeFactor(factor) {
			return nil, fmt.Errorf("%w: merged bin %d factor %.6f", ErrUnsafeFactor, idx, factor)
		}
		out.Bins[idx] = Bin{Factor: factor, Count: old.Count + 1}
	}
	return out, nil
}

// Corrector tracks the current bin as the axis moves and returns its factor.
// It is not safe for concurrent use.
type Corrector struct {
	table *Table

	index  int
	factor float64

	// full revolution window cache
	cache       map[int]Bin
	cacheCenter int
}

// NewCorrector creates a Corrector over a table.
func NewCorrector(t *Table) *Corrector {
	return &Corrector{table: t, index: -1, factor: 1.0}
}

// Table returns the table the corrector reads.
func (c *Corrector) Table() *Table { return c.table }

// Index returns the current bin, or -1 before the first update.
func (c *Corrector) Index() int { return c.index }

// Factor returns the factor of the current bin.
func (c *Corrector) Factor() float64 { return c.factor }

// Update moves the corrector to the bin for position (in steps). changed is
// true when the bin differs from the previous update. A missing bin returns
// ErrBinMissing and leaves the previous bin in place.
func (c *Corrector) Update(position float64) (index int, factor float64, changed bool, err error) {
	idx := c.table.Params.BinIndex(position, c.table.Offset)
	if idx == c.index {
		return c.index, c.factor, false, nil
	}

	bin, ok := c.lookup(idx)
	if !ok {
		return c.index, c.factor, false, fmt.Errorf("%w: bin %d", ErrBinMissing, idx)
	}

	c.index = idx
	c.factor = bin.Factor
	return c.index, c.factor, true, nil
}

func (c *Corrector) lookup(idx int) (Bin, bool) {
	if c.table.Params.Mode != Full360 {
		bin, ok := c.table.Bins[idx]
		return bin, ok
	}

	if c.cache == nil || idx < c.cacheCenter-cacheWindow || idx > c.cacheCenter+cacheWindow {
		c.fillCache(idx)
	}
	bin, ok := c.cache[idx]
	return bin, ok
}

func (c *Corrector) fillCache(center int) {
	c.cache = make(map[int]Bin, 2*cacheWindow+1)
	c.cacheCenter = center
	for i := center - cacheWindow; i <= center+cacheWindow; i++ {
		if bin, ok := c.table.Bins[i]; ok {
			c.cache[i] = bin
		}
	}
}
