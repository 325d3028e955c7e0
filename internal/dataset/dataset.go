package dataset

import (
	"fmt"
	"math"

	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/pipeline"
	"github.com/cuwacunu/tsi/internal/tensor"
)

// Channel is one active feature stream of a concat dataset: a decoded
// channel form bound to its raw and normalized mappings. Training always
// reads the normalized file; the raw mapping is kept for shape validation
// and timestamp lookups share it.
type Channel struct {
	Interval   string
	RecordType string
	SeqLength  int
	FutureSeq  int
	Weight     float64

	raw  *MappedFile
	norm *MappedFile
}

// Sample is one dataset item: tensor [C, T, D], mask [C, T], and (when the
// instruction requests future windows) future tensor [C, Tf, D] with its own
// mask. mask[c, t] = 0 marks a padded or missing timestep.
type Sample struct {
	Index  int
	Anchor int64

	Data *tensor.Tensor
	Mask *tensor.Mask

	Future     *tensor.Tensor
	FutureMask *tensor.Mask
}

// ConcatDataset joins every active channel of an observation instruction
// into one sample stream. Sample i anchors at the master channel's i-th
// timestamp; the master is the first active channel in table order.
type ConcatDataset struct {
	channels []*Channel
	t        int // max seq_length over active channels
	tf       int // max future_seq_length
	d        int // record feature width
}

// OpenConcat opens the binary files behind every active channel of the
// instruction for the given instrument. Channels resolve their source form
// by (instrument, record_type, interval); a missing source form or binary is
// fatal here, per-sample gaps are not.
func OpenConcat(instrument string, obs pipeline.ObservationInstruction) (*ConcatDataset, error) {
	if obs.CountChannels() == 0 {
		return nil, fmt.Errorf("dataset: no active channels: %w", errs.ErrSemantic)
	}

	ds := &ConcatDataset{
		t:  obs.MaxSequenceLength(),
		tf: obs.MaxFutureSequenceLength(),
	}
	if ds.t < 1 {
		return nil, fmt.Errorf("dataset: max seq_length %d < 1: %w", ds.t, errs.ErrSemantic)
	}

	for _, form := range obs.ChannelForms {
		if !form.Active {
			continue
		}
		seq, ok := form.SeqLength()
		if !ok || seq < 1 {
			return nil, fmt.Errorf("dataset: channel (%s, %s) seq_length %q < 1: %w",
				form.RecordType, form.Interval, form.SeqLengthRaw, errs.ErrSemantic)
		}
		future, _ := form.FutureSeqLength()

		sources := obs.FilterSourceForms(instrument, form.RecordType, form.Interval)
		if len(sources) == 0 {
			ds.Close()
			return nil, fmt.Errorf("dataset: no source form for (%s, %s, %s): %w",
				instrument, form.RecordType, form.Interval, errs.ErrReference)
		}
		desc, err := DescriptorFromSourceForm(sources[0])
		if err != nil {
			ds.Close()
			return nil, err
		}

		ch := &Channel{
			Interval:   form.Interval,
			RecordType: form.RecordType,
			SeqLength:  seq,
			FutureSeq:  future,
			Weight:     form.ChannelWeight(),
		}
		if ch.raw, err = OpenMapped(desc.RawPath(), desc.Record); err != nil {
			ds.Close()
			return nil, err
		}
		if ch.norm, err = OpenMapped(desc.NormPath(), desc.Record); err != nil {
			ch.raw.Close()
			ds.Close()
			return nil, err
		}
		if !SameShape(ch.raw, ch.norm) {
			ch.raw.Close()
			ch.norm.Close()
			ds.Close()
			return nil, fmt.Errorf("dataset: %s: raw and normalized shapes differ: %w",
				desc.NormPath(), errs.ErrIOCorrupt)
		}

		if ds.d == 0 {
			ds.d = desc.Record.FeatureDim()
		} else if ds.d != desc.Record.FeatureDim() {
			ch.raw.Close()
			ch.norm.Close()
			ds.Close()
			return nil, fmt.Errorf("dataset: channel (%s, %s) feature width %d != %d: %w",
				form.RecordType, form.Interval, desc.Record.FeatureDim(), ds.d, errs.ErrSemantic)
		}
		ds.channels = append(ds.channels, ch)
	}
	return ds, nil
}

// Close unmaps every channel.
func (ds *ConcatDataset) Close() error {
	var first error
	for _, ch := range ds.channels {
		if ch.raw != nil {
			if err := ch.raw.Close(); err != nil && first == nil {
				first = err
			}
		}
		if ch.norm != nil {
			if err := ch.norm.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	ds.channels = nil
	return first
}

// Len returns the number of samples: the master channel's record count.
func (ds *ConcatDataset) Len() int {
	if len(ds.channels) == 0 {
		return 0
	}
	return ds.channels[0].norm.Len()
}

// Shape returns (C, T, D) for samples of this dataset.
func (ds *ConcatDataset) Shape() (c, t, d int) { return len(ds.channels), ds.t, ds.d }

// FutureLength returns Tf, the max future window; 0 when no channel requests
// future samples.
func (ds *ConcatDataset) FutureLength() int { return ds.tf }

// Weights returns the channel weights in channel order.
func (ds *ConcatDataset) Weights() []float64 {
	out := make([]float64, len(ds.channels))
	for i, ch := range ds.channels {
		out[i] = ch.Weight
	}
	return out
}

// SampleAt builds sample i. Each channel slices a window of its own
// seq_length ending at the anchor timestamp, right-aligned into the [C, T, D]
// tensor; the future window of future_seq_length begins strictly after the
// anchor, left-aligned into [C, Tf, D]. Windows extending past the file ends
// and NaN records contribute mask=0, never an error.
func (ds *ConcatDataset) SampleAt(i int) (*Sample, error) {
	if i < 0 || i >= ds.Len() {
		return nil, fmt.Errorf("dataset: sample index %d out of range [0, %d): %w", i, ds.Len(), errs.ErrInternal)
	}
	anchor := ds.channels[0].norm.Timestamp(i)

	c := len(ds.channels)
	s := &Sample{
		Index:  i,
		Anchor: anchor,
		Data:   tensor.New(c, ds.t, ds.d),
		Mask:   tensor.NewMask(c, ds.t),
	}
	if ds.tf > 0 {
		s.Future = tensor.New(c, ds.tf, ds.d)
		s.FutureMask = tensor.NewMask(c, ds.tf)
	}

	for ci, ch := range ds.channels {
		end, _ := ch.norm.LookupTimestamp(anchor)
		// Past window: records (end-L+1 .. end], right-aligned so the anchor
		// lands at t = T-1 for every channel.
		for k := 0; k < ch.SeqLength; k++ {
			rec := end - ch.SeqLength + 1 + k
			t := ds.t - ch.SeqLength + k
			if rec < 0 || end < 0 {
				continue // zero padding, mask stays 0
			}
			ds.writeStep(s.Data, s.Mask, ci, t, ch.norm, rec)
		}
		// Future window: records (end .. end+Lf], left-aligned.
		if s.Future != nil {
			for k := 0; k < ch.FutureSeq; k++ {
				rec := end + 1 + k
				if end < 0 || rec >= ch.norm.Len() {
					continue
				}
				ds.writeStep(s.Future, s.FutureMask, ci, k, ch.norm, rec)
			}
		}
	}
	return s, nil
}

// writeStep copies record rec of m into (c, t) of data, setting mask=1 only
// when every field is finite.
func (ds *ConcatDataset) writeStep(data *tensor.Tensor, mask *tensor.Mask, c, t int, m *MappedFile, rec int) {
	ok := uint8(1)
	for f := 0; f < ds.d; f++ {
		v := m.Field(rec, f)
		if math.IsNaN(v) {
			ok = 0
		}
		data.Set(float32(v), c, t, f)
	}
	mask.Set(ok, c, t)
}
