package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/mathx"
	"github.com/cuwacunu/tsi/internal/pipeline"
)

// Descriptor names the three files of one (instrument, interval, record_type)
// channel: the source CSV, the raw binary, and its normalized sibling.
type Descriptor struct {
	Instrument string
	Interval   string
	Record     RecordType
	CSVPath    string
	NormWindow int
}

// DescriptorFromSourceForm resolves a decoded source form into a descriptor.
func DescriptorFromSourceForm(f pipeline.SourceForm) (Descriptor, error) {
	rt, err := RecordTypeByName(f.RecordType)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Instrument: f.Instrument,
		Interval:   f.Interval,
		Record:     rt,
		CSVPath:    f.SourcePath,
		NormWindow: f.NormWindowValue(),
	}, nil
}

// RawPath returns the raw binary sibling of the CSV.
func (d Descriptor) RawPath() string { return trimCSVExt(d.CSVPath) + ".bin" }

// NormPath returns the normalized binary sibling.
func (d Descriptor) NormPath() string { return trimCSVExt(d.CSVPath) + ".norm.bin" }

func trimCSVExt(path string) string {
	if strings.HasSuffix(path, ".csv") {
		return strings.TrimSuffix(path, ".csv")
	}
	return path
}

// Binarize ingests the descriptor's CSV into its raw and normalized binary
// files. When the raw binary already exists and force is false the pass is a
// no-op, so re-running binarization over an unchanged directory is free.
// Existing binaries are never corrupted by a failed run: output is written to
// temporary siblings and renamed into place only on success.
func Binarize(ctx context.Context, d Descriptor, force bool) error {
	if !force {
		if _, err := os.Stat(d.RawPath()); err == nil {
			return nil
		}
	}

	records, err := readCSV(d)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("dataset: %s: no records: %w", d.CSVPath, errs.ErrIOCorrupt)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dataset: binarize %s: %w", d.CSVPath, errs.ErrCancelled)
	}

	if err := writeRecords(d.RawPath(), records); err != nil {
		return err
	}
	normalized := normalizeRecords(records, len(d.Record.Fields), d.NormWindow)
	if err := writeRecords(d.NormPath(), normalized); err != nil {
		return err
	}
	return nil
}

// BinarizeAll runs Binarize over every source form of an observation
// instruction, stopping at the first failure.
func BinarizeAll(ctx context.Context, obs pipeline.ObservationInstruction, force bool) error {
	for _, f := range obs.SourceForms {
		d, err := DescriptorFromSourceForm(f)
		if err != nil {
			return err
		}
		if err := Binarize(ctx, d, force); err != nil {
			return err
		}
	}
	return nil
}

// record is one parsed CSV row: timestamp plus numeric fields.
type record struct {
	ts     int64
	fields []float64
}

func readCSV(d Descriptor) ([]record, error) {
	f, err := os.Open(d.CSVPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset: %s: %w", d.CSVPath, errs.ErrIOMissing)
		}
		return nil, fmt.Errorf("dataset: open %s: %w", d.CSVPath, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	var out []record
	var lastTS int64
	line := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %s line %d: %w", d.CSVPath, line+1, errs.ErrIOCorrupt)
		}
		line++
		if len(row) < 1+len(d.Record.Fields) {
			return nil, fmt.Errorf("dataset: %s line %d: %d columns, want %d: %w",
				d.CSVPath, line, len(row), 1+len(d.Record.Fields), errs.ErrIOCorrupt)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			// A non-numeric first field on the first line is a header.
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("dataset: %s line %d: bad timestamp %q: %w", d.CSVPath, line, row[0], errs.ErrIOCorrupt)
		}
		if len(out) > 0 && ts <= lastTS {
			return nil, fmt.Errorf("dataset: %s line %d: timestamp %d not strictly increasing: %w",
				d.CSVPath, line, ts, errs.ErrIOCorrupt)
		}
		lastTS = ts

		fields := make([]float64, len(d.Record.Fields))
		for i := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[1+i]), 64)
			if err != nil {
				// Missing or malformed numeric cells become NaN, which the
				// sample builder turns into mask=0.
				v = math.NaN()
			}
			fields[i] = v
		}
		out = append(out, record{ts: ts, fields: fields})
	}
	return out, nil
}

// normalizeRecords z-scores every field through a rolling window of size
// window; the first window−1 records are scored against an expanding window
// instead. window <= 0 disables normalization and copies values through.
func normalizeRecords(records []record, nFields, window int) []record {
	out := make([]record, len(records))
	if window <= 0 {
		for i, r := range records {
			out[i] = record{ts: r.ts, fields: append([]float64(nil), r.fields...)}
		}
		return out
	}

	expanding := make([]*mathx.Welford, nFields)
	rolling := make([]*mathx.Rolling, nFields)
	for f := 0; f < nFields; f++ {
		expanding[f] = mathx.NewWelford()
		rolling[f] = mathx.NewRolling(window)
	}

	for i, r := range records {
		fields := make([]float64, nFields)
		for f := 0; f < nFields; f++ {
			x := r.fields[f]
			if math.IsNaN(x) {
				fields[f] = x
				continue
			}
			expanding[f].Update(x)
			rolling[f].Update(x)
			if rolling[f].Ready() {
				fields[f] = rolling[f].Normalize(x)
			} else {
				fields[f] = expanding[f].Normalize(x)
			}
		}
		out[i] = record{ts: r.ts, fields: fields}
	}
	return out
}

// writeRecords packs records contiguously, little-endian, timestamp first,
// writing to a temporary sibling and renaming into place on success.
func writeRecords(path string, records []record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	buf := make([]byte, 8)
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf, uint64(r.ts))
		if _, err := w.Write(buf); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("dataset: write %s: %w", tmp, err)
		}
		for _, v := range r.fields {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := w.Write(buf); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("dataset: write %s: %w", tmp, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("dataset: flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dataset: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dataset: rename %s: %w", path, err)
	}
	return nil
}
