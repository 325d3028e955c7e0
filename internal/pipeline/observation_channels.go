package pipeline

import (
	"sync"

	"github.com/cuwacunu/tsi/internal/bnf"
	"github.com/cuwacunu/tsi/internal/dsl"
)

// ObservationChannelsPipeline decodes observation-channels DSL instructions
// against a fixed grammar, serialized by a mutex for the same reason as
// ObservationSourcesPipeline.
type ObservationChannelsPipeline struct {
	mu      sync.Mutex
	grammar *bnf.ProductionGrammar
}

// NewObservationChannelsPipeline parses grammarText once.
func NewObservationChannelsPipeline(grammarText string) (*ObservationChannelsPipeline, error) {
	g, err := bnf.NewParser(grammarText).Parse()
	if err != nil {
		return nil, err
	}
	return &ObservationChannelsPipeline{grammar: g}, nil
}

// Decode parses instruction text into a ChannelsInstruction.
func (p *ObservationChannelsPipeline) Decode(instruction string) (ChannelsInstruction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root, err := dsl.NewInstructionParser(p.grammar, instruction).Parse()
	if err != nil {
		return ChannelsInstruction{}, err
	}

	v := &channelsVisitor{}
	ctx := dsl.NewVisitorContext(v)
	if err := dsl.Walk(root, v, ctx); err != nil {
		return ChannelsInstruction{}, err
	}
	v.finish()
	return ChannelsInstruction{ChannelForms: v.forms}, nil
}

type channelsVisitor struct {
	forms []ChannelForm
	cur   *ChannelForm
}

func (v *channelsVisitor) finish() {
	if v.cur != nil {
		v.forms = append(v.forms, *v.cur)
		v.cur = nil
	}
}

func (v *channelsVisitor) VisitRoot(node *dsl.Node, ctx *dsl.VisitorContext) error { return nil }

func (v *channelsVisitor) VisitIntermediary(node *dsl.Node, ctx *dsl.VisitorContext) error {
	if node.LHS == "input_form" {
		v.finish()
		v.cur = &ChannelForm{}
	}
	return nil
}

func (v *channelsVisitor) VisitTerminal(node *dsl.Node, ctx *dsl.VisitorContext) error {
	if v.cur == nil {
		return nil
	}
	path := ctx.Path()
	text := node.Unit.Lexeme
	switch lastN(path, 2) {
	case "active/boolean":
		v.cur.Active = text == "true"
	case "seq_length/number":
		v.cur.SeqLengthRaw += text
	case "future_seq_length/number":
		v.cur.FutureSeqLengthRaw += text
	case "channel_weight/number":
		v.cur.ChannelWeightRaw += text
	}
	switch last(path) {
	case "interval":
		v.cur.Interval = text
	case "record_type":
		v.cur.RecordType = text
	}
	return nil
}
