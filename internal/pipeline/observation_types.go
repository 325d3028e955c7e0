// Package pipeline implements the DSL-specific visitors that fold an AST
// (package dsl) into typed instruction records: the observation sources and
// channels pipelines of §4.4, merged into one observation instruction, and
// the board DSL pipeline (contracts/waves/binds) of §3.
package pipeline

import "strconv"

// SourceForm is one row of the source-forms table: (instrument, interval,
// record_type, norm_window, source_path). Key (instrument, record_type,
// interval) is unique per source form.
type SourceForm struct {
	Instrument string
	Interval   string
	RecordType string
	NormWindow string // stored textually, parsed at consumption time
	SourcePath string
}

// NormWindowValue parses NormWindow, defaulting to 0 on malformed input (a
// norm_window of 0 disables normalization rather than aborting decode).
func (f SourceForm) NormWindowValue() int {
	v, err := strconv.Atoi(f.NormWindow)
	if err != nil {
		return 0
	}
	return v
}

// ChannelForm is one row of the channel-forms table: (interval, record_type,
// active, seq_length, future_seq_length, channel_weight). Numeric fields are
// stored textually and parsed at consumption time per §4.4.
type ChannelForm struct {
	Interval           string
	RecordType         string
	Active             bool
	SeqLengthRaw       string
	FutureSeqLengthRaw string
	ChannelWeightRaw   string
}

// SeqLength parses SeqLengthRaw, reporting ok=false on malformed input so
// aggregators can ignore it rather than substituting a default.
func (f ChannelForm) SeqLength() (value int, ok bool) {
	v, err := strconv.Atoi(f.SeqLengthRaw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FutureSeqLength parses FutureSeqLengthRaw with the same ignore-on-malformed
// policy as SeqLength.
func (f ChannelForm) FutureSeqLength() (value int, ok bool) {
	v, err := strconv.Atoi(f.FutureSeqLengthRaw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ChannelWeight parses ChannelWeightRaw, returning 0.0 on malformed input —
// the reference pipeline's catch-and-push-zero policy, distinct from the
// ignore policy used for sequence lengths.
func (f ChannelForm) ChannelWeight() float64 {
	v, err := strconv.ParseFloat(f.ChannelWeightRaw, 64)
	if err != nil {
		return 0.0
	}
	return v
}

// SourcesInstruction is the decoded result of the observation sources
// pipeline.
type SourcesInstruction struct {
	SourceForms []SourceForm
}

// ChannelsInstruction is the decoded result of the observation channels
// pipeline.
type ChannelsInstruction struct {
	ChannelForms []ChannelForm
}

// ObservationInstruction is the merge of a sources and a channels
// instruction, per §4.4: merged.source_forms = sources.source_forms;
// merged.channel_forms = channels.channel_forms.
type ObservationInstruction struct {
	SourceForms  []SourceForm
	ChannelForms []ChannelForm
}

// MergeObservation combines independently decoded sources and channels
// instructions. Neither table is transformed by the merge.
func MergeObservation(sources SourcesInstruction, channels ChannelsInstruction) ObservationInstruction {
	return ObservationInstruction{
		SourceForms:  sources.SourceForms,
		ChannelForms: channels.ChannelForms,
	}
}

// FilterSourceForms returns every source form matching instrument,
// record_type, and interval exactly.
func (o ObservationInstruction) FilterSourceForms(instrument, recordType, interval string) []SourceForm {
	var out []SourceForm
	for _, f := range o.SourceForms {
		if f.Instrument == instrument && f.RecordType == recordType && f.Interval == interval {
			out = append(out, f)
		}
	}
	return out
}

// CountChannels returns the number of active channel forms.
func (o ObservationInstruction) CountChannels() int {
	n := 0
	for _, c := range o.ChannelForms {
		if c.Active {
			n++
		}
	}
	return n
}

// MaxSequenceLength returns the maximum seq_length across active channels,
// silently ignoring channels whose seq_length fails to parse (it neither
// contributes 0 nor aborts the aggregation).
func (o ObservationInstruction) MaxSequenceLength() int {
	max := 0
	for _, c := range o.ChannelForms {
		if !c.Active {
			continue
		}
		if v, ok := c.SeqLength(); ok && v > max {
			max = v
		}
	}
	return max
}

// MaxFutureSequenceLength returns the maximum future_seq_length across active
// channels, with the same ignore-on-malformed policy as MaxSequenceLength.
func (o ObservationInstruction) MaxFutureSequenceLength() int {
	max := 0
	for _, c := range o.ChannelForms {
		if !c.Active {
			continue
		}
		if v, ok := c.FutureSeqLength(); ok && v > max {
			max = v
		}
	}
	return max
}

// ChannelWeights returns the weight of every active channel in table order,
// substituting 0.0 for any malformed literal.
func (o ObservationInstruction) ChannelWeights() []float64 {
	var out []float64
	for _, c := range o.ChannelForms {
		if !c.Active {
			continue
		}
		out = append(out, c.ChannelWeight())
	}
	return out
}
