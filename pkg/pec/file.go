package pec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header keys of the pec file format
const (
	KeyFileType    = "FileType"
	KeyBinCount    = "BinCount"
	KeyBinSteps    = "BinSteps"
	KeyStepsPerRev = "StepsPerRev"
	KeyWormTeeth   = "WormTeeth"
	KeyOffset      = "Offset"
	KeyCreated     = "Created"
	KeyMount       = "Mount"
	KeySource      = "Source"
)

// requiredKeys must be present in every file.
var requiredKeys = []string{KeyFileType, KeyBinCount, KeyBinSteps, KeyStepsPerRev, KeyWormTeeth}

// File is a parsed pec file.
type File struct {
	// Header holds every #Key=Value line, including provenance keys
	Header map[string]string
	Table  *Table
}

// Parse reads a pec file. Header lines are "#Key=Value", data lines are
// "bin|factor|count". Blank lines are ignored.
func Parse(r io.Reader) (*File, error) {
	header := make(map[string]string)
	type row struct {
		line   int
		index  int
		factor float64
		count  int
	}
	var rows []row

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			key, value, ok := strings.Cut(strings.TrimPrefix(line, "#"), "=")
			if !ok {
				// plain comment
				continue
			}
			header[strings.TrimSpace(key)] = strings.TrimSpace(value)
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: line %d: expected bin|factor|count", ErrParse, lineNo)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bin: %v", ErrParse, lineNo, err)
		}
		factor, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: factor: %v", ErrParse, lineNo, err)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: count: %v", ErrParse, lineNo, err)
		}
		rows = append(rows, row{line: lineNo, index: idx, factor: factor, count: count})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pec file: %w", err)
	}

	params, offset, err := paramsFromHeader(header)
	if err != nil {
		return nil, err
	}

	table := NewTable(params)
	table.Offset = offset
	for _, r := range rows {
		if err := table.Set(r.index, r.factor, r.count); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
	}

	return &File{Header: header, Table: table}, nil
}

func paramsFromHeader(header map[string]string) (Params, float64, error) {
	for _, key := range requiredKeys {
		if _, ok := header[key]; !ok {
			return Params{}, 0, fmt.Errorf("%w: missing header %s", ErrParse, key)
		}
	}

	mode, err := ParseMode(header[KeyFileType])
	if err != nil {
		return Params{}, 0, err
	}

	ints := make(map[string]int)
	for _, key := range []string{KeyBinCount, KeyBinSteps, KeyStepsPerRev, KeyWormTeeth} {
		v, err := strconv.Atoi(header[key])
		if err != nil {
			return Params{}, 0, fmt.Errorf("%w: header %s: %v", ErrParse, key, err)
		}
		ints[key] = v
	}

	var offset float64
	if v, ok := header[KeyOffset]; ok {
		offset, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return Params{}, 0, fmt.Errorf("%w: header %s: %v", ErrParse, KeyOffset, err)
		}
	}

	return Params{
		Mode:        mode,
		BinCount:    ints[KeyBinCount],
		BinSteps:    ints[KeyBinSteps],
		StepsPerRev: ints[KeyStepsPerRev],
		WormTeeth:   ints[KeyWormTeeth],
	}, offset, nil
}

// Load parses a pec file and checks it against the live parameters. Any
// mismatch rejects the whole file. Missing bins are filled with 1.0.
func Load(r io.Reader, live Params) (*Table, error) {
	f, err := Parse(r)
	if err != nil {
		return nil, err
	}

	if err := CheckParams(f.Table.Params, live); err != nil {
		return nil, err
	}

	f.Table.Fill()
	return f.Table, nil
}

// LoadFile opens and loads a pec file from disk.
func LoadFile(path string, live Params) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pec file: %w", err)
	}
	defer file.Close()

	return Load(file, live)
}

// CheckParams compares file parameters with the live configuration field by field.
func CheckParams(file, live Params) error {
	var mismatches []string
	if file.Mode != live.Mode {
		mismatches = append(mismatches, fmt.Sprintf("%s %s != %s", KeyFileType, file.Mode, live.Mode))
	}
	if file.BinCount != live.BinCount {
		mismatches = append(mismatches, fmt.Sprintf("%s %d != %d", KeyBinCount, file.BinCount, live.BinCount))
	}
	if file.BinSteps != live.BinSteps {
		mismatches = append(mismatches, fmt.Sprintf("%s %d != %d", KeyBinSteps, file.BinSteps, live.BinSteps))
	}
	if file.StepsPerRev != live.StepsPerRev {
		mismatches = append(mismatches, fmt.Sprintf("%s %d != %d", KeyStepsPerRev, file.StepsPerRev, live.StepsPerRev))
	}
	if file.WormTeeth != live.WormTeeth {
		mismatches = append(mismatches, fmt.Sprintf("%s %d != %d", KeyWormTeeth, file.WormTeeth, live.WormTeeth))
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %s", ErrHeaderMismatch, strings.Join(mismatches, ", "))
	}
	return nil
}

// Write stores a table in the pec file format. meta adds provenance header
// keys such as Mount and Source. Created is set to now when absent.
func Write(w io.Writer, t *Table, meta map[string]string) error {
	bw := bufio.NewWriter(w)

	header := map[string]string{
		KeyCreated: time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		header[k] = v
	}
	header[KeyFileType] = t.Params.Mode.String()
	header[KeyBinCount] = strconv.Itoa(t.Params.BinCount)
	header[KeyBinSteps] = strconv.Itoa(t.Params.BinSteps)
	header[KeyStepsPerRev] = strconv.Itoa(t.Params.StepsPerRev)
	header[KeyWormTeeth] = strconv.Itoa(t.Params.WormTeeth)
	header[KeyOffset] = strconv.FormatFloat(t.Offset, 'f', -1, 64)

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(bw, "#%s=%s\n", k, header[k])
	}

	indexes := make([]int, 0, len(t.Bins))
	for idx := range t.Bins {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		bin := t.Bins[idx]
		fmt.Fprintf(bw, "%d|%s|%d\n", idx, strconv.FormatFloat(bin.Factor, 'f', -1, 64), bin.Count)
	}

	return bw.Flush()
}

// WriteFile stores a table to path.
func WriteFile(path string, t *Table, meta map[string]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pec file: %w", err)
	}
	if err := Write(file, t, meta); err != nil {
		file.Close()
		return fmt.Errorf("failed to write pec file: %w", err)
	}
	return file.Close()
}
