package mount

import (
	"context"
	"fmt"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/pec"
)

// LoadPEC reads a PEC file checked against the mount gearing and installs
// it with mode.
func (c *Controller) LoadPEC(ctx context.Context, path string, mode pec.MergeMode) error {
	t, err := pec.LoadFile(path, c.pecParams)
	if err != nil {
		c.log.Error(ctx, "pec file rejected", logging.String("path", path), logging.Err(err))
		return err
	}
	if err := c.SetPECTable(ctx, t, mode); err != nil {
		return err
	}
	c.log.Info(ctx, "pec file loaded",
		logging.String("path", path),
		logging.String("mode", mergeModeName(mode)),
		logging.Int("bins", len(t.Bins)))
	return nil
}

// SetPECTable replaces or merges the PEC table.
func (c *Controller) SetPECTable(ctx context.Context, t *pec.Table, mode pec.MergeMode) error {
	if t == nil {
		return ErrNoPECTable
	}
	if err := pec.CheckParams(t.Params, c.pecParams); err != nil {
		return err
	}

	c.mu.Lock()
	merged, err := pec.MergeTables(c.st.pecTable, t, mode)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.st.pecTable = merged
	c.st.corrector = pec.NewCorrector(merged)
	c.st.pecIndex = -1
	c.st.pecFactor = 1.0
	c.mu.Unlock()

	c.metrics.SetPecFactor(1.0)
	return c.applyRates(ctx)
}

// EnablePEC turns periodic error correction on or off.
func (c *Controller) EnablePEC(ctx context.Context, on bool) error {
	c.mu.Lock()
	if on && c.st.pecTable == nil {
		c.mu.Unlock()
		return ErrNoPECTable
	}
	c.st.pecEnabled = on
	if !on {
		c.st.pecFactor = 1.0
		c.st.pecIndex = -1
		if c.st.corrector != nil {
			c.st.corrector = pec.NewCorrector(c.st.pecTable)
		}
	}
	c.mu.Unlock()

	if !on {
		c.metrics.SetPecFactor(1.0)
	}
	c.log.Info(ctx, "pec changed", logging.Any("enabled", on))
	return c.applyRates(ctx)
}

// PECTable returns a copy of the loaded table, or nil.
func (c *Controller) PECTable() *pec.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.pecTable == nil {
		return nil
	}
	return c.st.pecTable.Clone()
}

// SavePEC writes the loaded table to path.
func (c *Controller) SavePEC(path string) error {
	t := c.PECTable()
	if t == nil {
		return ErrNoPECTable
	}
	meta := map[string]string{
		pec.KeyMount:  fmt.Sprintf("%s/%s", c.conv.Mode(), c.conv.Kind()),
		pec.KeySource: "mountd",
	}
	return pec.WriteFile(path, t, meta)
}

func mergeModeName(m pec.MergeMode) string {
	if m == pec.Merge {
		return "merge"
	}
	return "replace"
}
