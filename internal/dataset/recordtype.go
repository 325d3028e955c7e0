// Package dataset implements the memory-mapped data layer: CSV binarization
// into fixed-width little-endian record files, rolling-window normalization,
// read-only memory mapping with timestamp lookup, and the concat dataset that
// assembles [C, T, D] samples with 0/1 masks for the dataloader.
package dataset

import (
	"fmt"

	"github.com/cuwacunu/tsi/internal/errs"
)

// RecordType is the schema of one binarized CSV family: an ordered field
// list. Every record is packed little-endian as an i64 millisecond timestamp
// followed by the fields as IEEE-754 float64, no padding, no per-file header.
type RecordType struct {
	Name   string
	Fields []string
}

const timestampWidth = 8

// Width returns the packed byte width of one record.
func (rt RecordType) Width() int { return timestampWidth + 8*len(rt.Fields) }

// FeatureDim returns D, the per-timestep feature width served to samples
// (the numeric fields; the timestamp indexes, it is not a feature).
func (rt RecordType) FeatureDim() int { return len(rt.Fields) }

var recordTypes = map[string]RecordType{
	"kline": {Name: "kline", Fields: []string{"open", "high", "low", "close", "volume"}},
	"basic": {Name: "basic", Fields: []string{"value"}},
}

// RecordTypeByName resolves a record type declared in a source form. Unknown
// names fail with a reference error, the same category as an unresolved
// non-terminal.
func RecordTypeByName(name string) (RecordType, error) {
	rt, ok := recordTypes[name]
	if !ok {
		return RecordType{}, fmt.Errorf("dataset: unknown record type %q: %w", name, errs.ErrReference)
	}
	return rt, nil
}
