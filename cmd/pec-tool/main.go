// pec-tool inspects, checks and merges PEC files offline.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/unklstewy/mountcore/pkg/config"
	"github.com/unklstewy/mountcore/pkg/pec"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pec-tool <command> [flags] files...

commands:
  inspect FILE...                   print header and bin statistics
  check -config CFG FILE...         check files against the mount gearing
  merge [-mode merge] -o OUT FILE...  combine files into OUT
  flat -config CFG -o OUT           write a neutral table for the mount`)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "inspect":
		err = runInspect(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "flat":
		err = runFlat(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("pec-tool %s: %v", os.Args[1], err)
	}
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}
	for _, path := range fs.Args() {
		f, err := parseFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("== %s\n", path)
		inspect(os.Stdout, f)
	}
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.json", "Path to configuration file")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	live, err := liveParams(*configPath)
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range fs.Args() {
		if _, err := pec.LoadFile(path, live); err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files rejected", failed, fs.NArg())
	}
	return nil
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	modeName := fs.String("mode", "merge", "merge or replace")
	out := fs.String("o", "", "Output file")
	fs.Parse(args)
	if *out == "" || fs.NArg() == 0 {
		return fmt.Errorf("need -o and at least one input file")
	}
	mode, err := pec.ParseMergeMode(*modeName)
	if err != nil {
		return err
	}

	merged, err := mergeFiles(fs.Args(), mode)
	if err != nil {
		return err
	}
	meta := map[string]string{
		pec.KeySource: "pec-tool merge " + strings.Join(fs.Args(), ","),
	}
	if err := pec.WriteFile(*out, merged, meta); err != nil {
		return err
	}
	log.Printf("wrote %s (%d bins from %d files)", *out, len(merged.Bins), fs.NArg())
	return nil
}

func runFlat(args []string) error {
	fs := flag.NewFlagSet("flat", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.json", "Path to configuration file")
	out := fs.String("o", "", "Output file")
	fs.Parse(args)
	if *out == "" {
		return fmt.Errorf("need -o")
	}

	live, err := liveParams(*configPath)
	if err != nil {
		return err
	}
	t := pec.NewTable(live)
	t.Fill()
	if err := pec.WriteFile(*out, t, map[string]string{pec.KeySource: "pec-tool flat"}); err != nil {
		return err
	}
	log.Printf("wrote %s (%d neutral bins)", *out, len(t.Bins))
	return nil
}

func liveParams(configPath string) (pec.Params, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return pec.Params{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.PECParams()
}

func parseFile(path string) (*pec.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := pec.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// mergeFiles combines the tables of paths in order. Every file must share
// the parameters of the first.
func mergeFiles(paths []string, mode pec.MergeMode) (*pec.Table, error) {
	var merged *pec.Table
	for _, path := range paths {
		f, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		if merged != nil {
			if err := pec.CheckParams(f.Table.Params, merged.Params); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		merged, err = pec.MergeTables(merged, f.Table, mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return merged, nil
}

// inspect writes the header and bin statistics of f.
func inspect(w io.Writer, f *pec.File) {
	keys := make([]string, 0, len(f.Header))
	for k := range f.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-12s %s\n", k, f.Header[k])
	}

	t := f.Table
	total := t.Params.Bins()
	if len(t.Bins) == 0 {
		fmt.Fprintf(w, "bins         0/%d\n", total)
		return
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	var missing []int
	for i := 0; i < total; i++ {
		b, ok := t.Bins[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		lo = math.Min(lo, b.Factor)
		hi = math.Max(hi, b.Factor)
		sum += b.Factor
	}
	fmt.Fprintf(w, "bins         %d/%d\n", len(t.Bins), total)
	fmt.Fprintf(w, "factor       min %.6f max %.6f mean %.6f\n", lo, hi, sum/float64(len(t.Bins)))
	if len(missing) > 0 {
		fmt.Fprintf(w, "missing      %s\n", formatRanges(missing))
	}
}

// formatRanges renders sorted bin indexes as "0-3,7,9-10".
func formatRanges(idx []int) string {
	var parts []string
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && idx[j+1] == idx[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprintf("%d", idx[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", idx[i], idx[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
