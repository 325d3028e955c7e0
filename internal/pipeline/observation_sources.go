package pipeline

import (
	"sync"

	"github.com/cuwacunu/tsi/internal/bnf"
	"github.com/cuwacunu/tsi/internal/dsl"
)

// ObservationSourcesPipeline decodes observation-sources DSL instructions
// against a fixed grammar. Decode calls are serialized by a mutex: the
// reference pipeline carries the same lock around its single-threaded
// decode, flagged in its own comments as possibly unnecessary but kept
// required here (see the module's design notes on concurrent decoders).
type ObservationSourcesPipeline struct {
	mu      sync.Mutex
	grammar *bnf.ProductionGrammar
}

// NewObservationSourcesPipeline parses grammarText once and returns a
// pipeline ready to decode instruction text against it.
func NewObservationSourcesPipeline(grammarText string) (*ObservationSourcesPipeline, error) {
	g, err := bnf.NewParser(grammarText).Parse()
	if err != nil {
		return nil, err
	}
	return &ObservationSourcesPipeline{grammar: g}, nil
}

// Decode parses instruction text into a SourcesInstruction.
func (p *ObservationSourcesPipeline) Decode(instruction string) (SourcesInstruction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root, err := dsl.NewInstructionParser(p.grammar, instruction).Parse()
	if err != nil {
		return SourcesInstruction{}, err
	}

	v := &sourcesVisitor{}
	ctx := dsl.NewVisitorContext(v)
	if err := dsl.Walk(root, v, ctx); err != nil {
		return SourcesInstruction{}, err
	}
	v.finish()
	return SourcesInstruction{SourceForms: v.forms}, nil
}

type sourcesVisitor struct {
	forms []SourceForm
	cur   *SourceForm
}

func (v *sourcesVisitor) finish() {
	if v.cur != nil {
		v.forms = append(v.forms, *v.cur)
		v.cur = nil
	}
}

func (v *sourcesVisitor) VisitRoot(node *dsl.Node, ctx *dsl.VisitorContext) error { return nil }

func (v *sourcesVisitor) VisitIntermediary(node *dsl.Node, ctx *dsl.VisitorContext) error {
	if node.LHS == "instrument_form" {
		v.finish()
		v.cur = &SourceForm{}
	}
	return nil
}

func (v *sourcesVisitor) VisitTerminal(node *dsl.Node, ctx *dsl.VisitorContext) error {
	if v.cur == nil {
		return nil
	}
	path := ctx.Path()
	text := node.Unit.Lexeme
	switch lastN(path, 2) {
	case "instrument/letter":
		v.cur.Instrument += text
	case "norm_window/number":
		v.cur.NormWindow += text
	}
	switch lastN(path, 3) {
	case "source/file_path/literal":
		v.cur.SourcePath += text
	}
	switch last(path) {
	case "interval":
		v.cur.Interval = text
	case "record_type":
		v.cur.RecordType = text
	}
	return nil
}

func last(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// lastN joins the last n elements of path with '/', or returns "" if path is
// shorter than n — a small helper for matching the context-path suffix table
// of §4.4 without re-deriving it from the full path each time.
func lastN(path []string, n int) string {
	if len(path) < n {
		return ""
	}
	out := path[len(path)-n]
	for _, p := range path[len(path)-n+1:] {
		out += "/" + p
	}
	return out
}
