package pipeline

import (
	"errors"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
)

const sourcesTestGrammar = `
<instruction> ::= <instrument_table> ;
<instrument_table> ::= {<instrument_form>} ;
<instrument_form> ::= <instrument> <interval> <record_type> <norm_window> <source> ;
<instrument> ::= {<letter>} ;
<letter> ::= LETTER ;
<interval> ::= "1m" | "5m" | "1h" ;
<record_type> ::= "kline" | "basic" ;
<norm_window> ::= <number> ;
<number> ::= NUMBER ;
<source> ::= <file_path> ;
<file_path> ::= <literal> ;
<literal> ::= LITERAL ;
`

const channelsTestGrammar = `
<instruction> ::= <input_table> ;
<input_table> ::= {<input_form>} ;
<input_form> ::= <interval> <record_type> <active> <seq_length> <future_seq_length> <channel_weight> ;
<interval> ::= "1m" | "5m" | "1h" ;
<record_type> ::= "kline" | "basic" ;
<active> ::= <boolean> ;
<boolean> ::= BOOLEAN ;
<seq_length> ::= <number> ;
<future_seq_length> ::= <number> ;
<channel_weight> ::= <number> ;
<number> ::= NUMBER ;
`

func TestObservationSourcesPipelineDecode(t *testing.T) {
	p, err := NewObservationSourcesPipeline(sourcesTestGrammar)
	if err != nil {
		t.Fatalf("NewObservationSourcesPipeline() error: %v", err)
	}
	inst, err := p.Decode(`BTC 1m kline 20 "data/btc1m.csv" ETH 5m basic 0 "data/eth5m.csv"`)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(inst.SourceForms) != 2 {
		t.Fatalf("expected 2 source forms, got %d: %+v", len(inst.SourceForms), inst.SourceForms)
	}
	f0 := inst.SourceForms[0]
	if f0.Instrument != "BTC" || f0.Interval != "1m" || f0.RecordType != "kline" || f0.SourcePath != "data/btc1m.csv" {
		t.Fatalf("unexpected first source form: %+v", f0)
	}
	if f0.NormWindowValue() != 20 {
		t.Fatalf("expected norm window 20, got %d", f0.NormWindowValue())
	}
	f1 := inst.SourceForms[1]
	if f1.Instrument != "ETH" || f1.NormWindowValue() != 0 {
		t.Fatalf("unexpected second source form: %+v", f1)
	}
}

func TestObservationChannelsPipelineDecode(t *testing.T) {
	p, err := NewObservationChannelsPipeline(channelsTestGrammar)
	if err != nil {
		t.Fatalf("NewObservationChannelsPipeline() error: %v", err)
	}
	inst, err := p.Decode(`1m kline true 60 10 1.0 5m basic false 0 0 0.0`)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(inst.ChannelForms) != 2 {
		t.Fatalf("expected 2 channel forms, got %d: %+v", len(inst.ChannelForms), inst.ChannelForms)
	}
	c0 := inst.ChannelForms[0]
	if !c0.Active || c0.Interval != "1m" || c0.RecordType != "kline" {
		t.Fatalf("unexpected first channel form: %+v", c0)
	}
	if v, ok := c0.SeqLength(); !ok || v != 60 {
		t.Fatalf("expected seq_length 60, got %d ok=%v", v, ok)
	}
	if v, ok := c0.FutureSeqLength(); !ok || v != 10 {
		t.Fatalf("expected future_seq_length 10, got %d ok=%v", v, ok)
	}
	if c0.ChannelWeight() != 1.0 {
		t.Fatalf("expected channel_weight 1.0, got %v", c0.ChannelWeight())
	}
	c1 := inst.ChannelForms[1]
	if c1.Active {
		t.Fatalf("expected second channel form inactive")
	}
}

func TestDecodeObservationSplitMerges(t *testing.T) {
	inst, err := DecodeObservationSplit(
		sourcesTestGrammar, `BTC 1m kline 20 "data/btc1m.csv"`,
		channelsTestGrammar, `1m kline true 60 10 1.0`,
	)
	if err != nil {
		t.Fatalf("DecodeObservationSplit() error: %v", err)
	}
	if len(inst.SourceForms) != 1 || len(inst.ChannelForms) != 1 {
		t.Fatalf("expected 1 source form and 1 channel form, got %+v", inst)
	}
	if inst.CountChannels() != 1 {
		t.Fatalf("expected 1 active channel, got %d", inst.CountChannels())
	}
	if inst.MaxSequenceLength() != 60 {
		t.Fatalf("expected max sequence length 60, got %d", inst.MaxSequenceLength())
	}
	if inst.MaxFutureSequenceLength() != 10 {
		t.Fatalf("expected max future sequence length 10, got %d", inst.MaxFutureSequenceLength())
	}
	got := inst.FilterSourceForms("BTC", "kline", "1m")
	if len(got) != 1 {
		t.Fatalf("expected 1 filtered source form, got %d", len(got))
	}
}

func TestDecodeObservationSplitRejectsBlankInputs(t *testing.T) {
	_, err := DecodeObservationSplit("", "x", "y", "z")
	if err == nil || !errors.Is(err, errs.ErrSemantic) {
		t.Fatalf("expected semantic error for blank grammar, got %v", err)
	}
	_, err = DecodeObservationSplit(sourcesTestGrammar, "   ", channelsTestGrammar, "1m kline true 1 1 1.0")
	if err == nil || !errors.Is(err, errs.ErrSemantic) {
		t.Fatalf("expected semantic error for blank instruction, got %v", err)
	}
}

func TestChannelWeightDefaultsToZeroOnMalformedInput(t *testing.T) {
	f := ChannelForm{ChannelWeightRaw: "not-a-number"}
	if f.ChannelWeight() != 0.0 {
		t.Fatalf("expected malformed channel_weight to default to 0.0, got %v", f.ChannelWeight())
	}
}

func TestSeqLengthIgnoredRatherThanZeroedOnMalformedInput(t *testing.T) {
	f := ChannelForm{SeqLengthRaw: "garbage"}
	if _, ok := f.SeqLength(); ok {
		t.Fatalf("expected malformed seq_length to report ok=false")
	}
	o := ObservationInstruction{ChannelForms: []ChannelForm{
		{Active: true, SeqLengthRaw: "garbage"},
		{Active: true, SeqLengthRaw: "30"},
	}}
	if o.MaxSequenceLength() != 30 {
		t.Fatalf("expected malformed seq_length to be ignored by the max aggregator, got %d", o.MaxSequenceLength())
	}
}
