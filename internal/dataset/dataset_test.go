package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/pipeline"
)

// writeKlineCSV writes n kline rows with the given timestamps; fields are
// derived from the row index so values are easy to assert against.
func writeKlineCSV(t *testing.T, path string, timestamps []int64) {
	t.Helper()
	var b strings.Builder
	for i, ts := range timestamps {
		v := float64(i + 1)
		fmt.Fprintf(&b, "%d,%g,%g,%g,%g,%g\n", ts, v, v+1, v-1, v, v*10)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func uniformTimestamps(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(1230768000000 + i*60_000)
	}
	return out
}

func testObservation(csvPath string) pipeline.ObservationInstruction {
	return pipeline.ObservationInstruction{
		SourceForms: []pipeline.SourceForm{{
			Instrument: "BTCUSDT",
			Interval:   "1m",
			RecordType: "kline",
			NormWindow: "3",
			SourcePath: csvPath,
		}},
		ChannelForms: []pipeline.ChannelForm{{
			Interval:           "1m",
			RecordType:         "kline",
			Active:             true,
			SeqLengthRaw:       "4",
			FutureSeqLengthRaw: "2",
			ChannelWeightRaw:   "1.0",
		}},
	}
}

func binarized(t *testing.T, timestamps []int64) (pipeline.ObservationInstruction, Descriptor) {
	t.Helper()
	csvPath := filepath.Join(t.TempDir(), "BTCUSDT-1m.csv")
	writeKlineCSV(t, csvPath, timestamps)
	obs := testObservation(csvPath)
	d, err := DescriptorFromSourceForm(obs.SourceForms[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := Binarize(context.Background(), d, false); err != nil {
		t.Fatal(err)
	}
	return obs, d
}

func TestBinarizeProducesBothSiblings(t *testing.T) {
	_, d := binarized(t, uniformTimestamps(10))
	for _, p := range []string{d.RawPath(), d.NormPath()} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if want := int64(10 * d.Record.Width()); info.Size() != want {
			t.Errorf("%s size = %d, want %d", p, info.Size(), want)
		}
	}
}

func TestBinarizeIsIdempotent(t *testing.T) {
	_, d := binarized(t, uniformTimestamps(10))

	// Second run without force observes the binary and skips: removing the
	// CSV makes a re-ingest impossible, so a nil error proves the skip.
	if err := os.Remove(d.CSVPath); err != nil {
		t.Fatal(err)
	}
	if err := Binarize(context.Background(), d, false); err != nil {
		t.Fatalf("second binarize: %v", err)
	}
	// With force the CSV is required again.
	if err := Binarize(context.Background(), d, true); !errors.Is(err, errs.ErrIOMissing) {
		t.Fatalf("forced binarize without csv: err = %v, want io-missing", err)
	}
}

func TestBinarizeRejectsNonMonotonicTimestamps(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "bad.csv")
	ts := uniformTimestamps(5)
	ts[3] = ts[1]
	writeKlineCSV(t, csvPath, ts)
	d := Descriptor{Instrument: "X", Interval: "1m", Record: recordTypes["kline"], CSVPath: csvPath, NormWindow: 0}
	if err := Binarize(context.Background(), d, true); !errors.Is(err, errs.ErrIOCorrupt) {
		t.Fatalf("err = %v, want io-corrupt", err)
	}
}

func TestMappedLookup(t *testing.T) {
	// Irregular gaps force the binary-search path.
	ts := []int64{100, 200, 400, 1000, 1100}
	csvPath := filepath.Join(t.TempDir(), "irregular.csv")
	writeKlineCSV(t, csvPath, ts)
	d := Descriptor{Instrument: "X", Interval: "1m", Record: recordTypes["kline"], CSVPath: csvPath}
	if err := Binarize(context.Background(), d, true); err != nil {
		t.Fatal(err)
	}
	m, err := OpenMapped(d.RawPath(), d.Record)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	cases := []struct {
		ts    int64
		index int
		exact bool
	}{
		{99, -1, false},
		{100, 0, true},
		{250, 1, false}, // mid-gap resolves to the earlier record, never the future
		{400, 2, true},
		{999, 2, false},
		{5000, 4, false},
	}
	for _, tc := range cases {
		idx, exact := m.LookupTimestamp(tc.ts)
		if idx != tc.index || exact != tc.exact {
			t.Errorf("lookup(%d) = (%d, %v), want (%d, %v)", tc.ts, idx, exact, tc.index, tc.exact)
		}
	}
}

func TestMappedLookupUniformStride(t *testing.T) {
	_, d := binarized(t, uniformTimestamps(50))
	m, err := OpenMapped(d.RawPath(), d.Record)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for _, i := range []int{0, 1, 25, 49} {
		idx, exact := m.LookupTimestamp(m.Timestamp(i))
		if idx != i || !exact {
			t.Errorf("lookup(ts[%d]) = (%d, %v)", i, idx, exact)
		}
	}
	idx, exact := m.LookupTimestamp(m.Timestamp(10) + 30_000)
	if idx != 10 || exact {
		t.Errorf("mid-stride lookup = (%d, %v), want (10, false)", idx, exact)
	}
}

func TestConcatSampleShapesAndMask(t *testing.T) {
	obs, _ := binarized(t, uniformTimestamps(10))
	ds, err := OpenConcat("BTCUSDT", obs)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	c, tt, dd := ds.Shape()
	if c != 1 || tt != 4 || dd != 5 {
		t.Fatalf("shape = (%d, %d, %d), want (1, 4, 5)", c, tt, dd)
	}
	if ds.Len() != 10 {
		t.Fatalf("len = %d, want 10", ds.Len())
	}

	// Sample 0: only the anchor step is real, the rest is left padding.
	s, err := ds.SampleAt(0)
	if err != nil {
		t.Fatal(err)
	}
	wantMask := []uint8{0, 0, 0, 1}
	for t2, want := range wantMask {
		if got := s.Mask.At(0, t2); got != want {
			t.Errorf("sample 0 mask[0,%d] = %d, want %d", t2, got, want)
		}
	}
	// Future of sample 0 is fully inside the file.
	if s.FutureMask.At(0, 0) != 1 || s.FutureMask.At(0, 1) != 1 {
		t.Errorf("sample 0 future mask = [%d, %d], want [1, 1]", s.FutureMask.At(0, 0), s.FutureMask.At(0, 1))
	}

	// Sample 5: full window, full future.
	s5, err := ds.SampleAt(5)
	if err != nil {
		t.Fatal(err)
	}
	for t2 := 0; t2 < tt; t2++ {
		if s5.Mask.At(0, t2) != 1 {
			t.Errorf("sample 5 mask[0,%d] = 0, want 1", t2)
		}
	}

	// Last sample: future extends past the end, so future mask is zero.
	last, err := ds.SampleAt(9)
	if err != nil {
		t.Fatal(err)
	}
	if last.FutureMask.At(0, 0) != 0 || last.FutureMask.At(0, 1) != 0 {
		t.Errorf("last sample future mask = [%d, %d], want [0, 0]",
			last.FutureMask.At(0, 0), last.FutureMask.At(0, 1))
	}

	// Mask values are strictly {0, 1}.
	for _, v := range s5.Mask.Data {
		if v != 0 && v != 1 {
			t.Fatalf("mask value %d outside {0, 1}", v)
		}
	}
}

func TestNaNFieldBecomesMaskZero(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "gaps.csv")
	ts := uniformTimestamps(6)
	var b strings.Builder
	for i, tsv := range ts {
		if i == 3 {
			// Malformed close column on row 3: parses to NaN, not an error.
			fmt.Fprintf(&b, "%d,1,2,0,oops,10\n", tsv)
			continue
		}
		fmt.Fprintf(&b, "%d,1,2,0,1,10\n", tsv)
	}
	if err := os.WriteFile(csvPath, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	obs := testObservation(csvPath)
	obs.SourceForms[0].NormWindow = "0"
	d, err := DescriptorFromSourceForm(obs.SourceForms[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := Binarize(context.Background(), d, true); err != nil {
		t.Fatal(err)
	}

	ds, err := OpenConcat("BTCUSDT", obs)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	// Sample 5's window covers records 2..5; record 3 is the NaN row, landing
	// at t = T-3.
	s, err := ds.SampleAt(5)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Mask.At(0, 1); got != 0 {
		t.Errorf("NaN record mask = %d, want 0", got)
	}
	if got := s.Mask.At(0, 3); got != 1 {
		t.Errorf("clean record mask = %d, want 1", got)
	}
}

func TestOpenConcatErrors(t *testing.T) {
	obs := testObservation(filepath.Join(t.TempDir(), "never-binarized.csv"))

	// Missing binaries are io-missing at construction time.
	if _, err := OpenConcat("BTCUSDT", obs); !errors.Is(err, errs.ErrIOMissing) {
		t.Fatalf("err = %v, want io-missing", err)
	}

	// No active channels is semantic.
	noActive := obs
	noActive.ChannelForms = []pipeline.ChannelForm{{Interval: "1m", RecordType: "kline", Active: false, SeqLengthRaw: "4"}}
	if _, err := OpenConcat("BTCUSDT", noActive); !errors.Is(err, errs.ErrSemantic) {
		t.Fatalf("err = %v, want semantic", err)
	}

	// Unknown instrument has no source form: reference.
	obs2, _ := binarized(t, uniformTimestamps(10))
	if _, err := OpenConcat("ETHUSDT", obs2); !errors.Is(err, errs.ErrReference) {
		t.Fatalf("err = %v, want reference", err)
	}
}

func TestNormalizationFirstRecordIsZero(t *testing.T) {
	_, d := binarized(t, uniformTimestamps(10))
	norm, err := OpenMapped(d.NormPath(), d.Record)
	if err != nil {
		t.Fatal(err)
	}
	defer norm.Close()

	// The expanding window has a single sample at record 0, so std is 0 and
	// every z-score degenerates to 0.
	for f := 0; f < d.Record.FeatureDim(); f++ {
		if v := norm.Field(0, f); v != 0 {
			t.Errorf("norm record 0 field %d = %g, want 0", f, v)
		}
	}
	// Once the rolling window is ready the values are finite z-scores.
	for f := 0; f < d.Record.FeatureDim(); f++ {
		v := norm.Field(5, f)
		if v != v { // NaN check
			t.Errorf("norm record 5 field %d is NaN", f)
		}
	}
}
