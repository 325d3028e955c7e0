package pipeline

import (
	"fmt"
	"sync"

	"github.com/cuwacunu/tsi/internal/bnf"
	"github.com/cuwacunu/tsi/internal/dsl"
	"github.com/cuwacunu/tsi/internal/errs"
)

// BoardContractDecl is one row of the board's contracts table.
type BoardContractDecl struct {
	ID   string
	File string
}

// BoardWaveDecl is one row of the board's waves table.
type BoardWaveDecl struct {
	ID   string
	File string
}

// BoardBindDecl is one row of the board's binds table, referencing a
// contract id and a wave id.
type BoardBindDecl struct {
	ID          string
	ContractRef string
	WaveRef     string
}

// BoardInstruction is the decoded three-table board instruction of §3.
type BoardInstruction struct {
	Contracts []BoardContractDecl
	Waves     []BoardWaveDecl
	Binds     []BoardBindDecl
}

// Validate checks the invariants of §3: ids unique within their table, and
// every bind references an existing contract id and wave id.
func (b BoardInstruction) Validate() error {
	contractIDs := make(map[string]bool, len(b.Contracts))
	for _, c := range b.Contracts {
		if contractIDs[c.ID] {
			return fmt.Errorf("pipeline: duplicate contract id %q: %w", c.ID, errs.ErrSemantic)
		}
		contractIDs[c.ID] = true
	}
	waveIDs := make(map[string]bool, len(b.Waves))
	for _, w := range b.Waves {
		if waveIDs[w.ID] {
			return fmt.Errorf("pipeline: duplicate wave id %q: %w", w.ID, errs.ErrSemantic)
		}
		waveIDs[w.ID] = true
	}
	bindIDs := make(map[string]bool, len(b.Binds))
	for _, bind := range b.Binds {
		if bindIDs[bind.ID] {
			return fmt.Errorf("pipeline: duplicate bind id %q: %w", bind.ID, errs.ErrSemantic)
		}
		bindIDs[bind.ID] = true
		if !contractIDs[bind.ContractRef] {
			return fmt.Errorf("pipeline: bind %q references unknown contract %q: %w", bind.ID, bind.ContractRef, errs.ErrReference)
		}
		if !waveIDs[bind.WaveRef] {
			return fmt.Errorf("pipeline: bind %q references unknown wave %q: %w", bind.ID, bind.WaveRef, errs.ErrReference)
		}
	}
	return nil
}

// BoardPipeline decodes board DSL instructions (contracts/waves/binds)
// against a fixed grammar, serialized by a mutex like the observation
// pipelines.
type BoardPipeline struct {
	mu      sync.Mutex
	grammar *bnf.ProductionGrammar
}

// NewBoardPipeline parses grammarText once.
func NewBoardPipeline(grammarText string) (*BoardPipeline, error) {
	g, err := bnf.NewParser(grammarText).Parse()
	if err != nil {
		return nil, err
	}
	return &BoardPipeline{grammar: g}, nil
}

// Decode parses instruction text into a validated BoardInstruction.
func (p *BoardPipeline) Decode(instruction string) (BoardInstruction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root, err := dsl.NewInstructionParser(p.grammar, instruction).Parse()
	if err != nil {
		return BoardInstruction{}, err
	}

	v := &boardVisitor{}
	ctx := dsl.NewVisitorContext(v)
	if err := dsl.Walk(root, v, ctx); err != nil {
		return BoardInstruction{}, err
	}
	v.finish()

	out := BoardInstruction{Contracts: v.contracts, Waves: v.waves, Binds: v.binds}
	if err := out.Validate(); err != nil {
		return BoardInstruction{}, err
	}
	return out, nil
}

type boardKind int

const (
	boardKindNone boardKind = iota
	boardKindContract
	boardKindWave
	boardKindBind
)

type boardVisitor struct {
	contracts []BoardContractDecl
	waves     []BoardWaveDecl
	binds     []BoardBindDecl

	kind        boardKind
	curContract BoardContractDecl
	curWave     BoardWaveDecl
	curBind     BoardBindDecl
}

func (v *boardVisitor) finish() {
	switch v.kind {
	case boardKindContract:
		v.contracts = append(v.contracts, v.curContract)
	case boardKindWave:
		v.waves = append(v.waves, v.curWave)
	case boardKindBind:
		v.binds = append(v.binds, v.curBind)
	}
	v.kind = boardKindNone
}

func (v *boardVisitor) VisitRoot(node *dsl.Node, ctx *dsl.VisitorContext) error { return nil }

func (v *boardVisitor) VisitIntermediary(node *dsl.Node, ctx *dsl.VisitorContext) error {
	switch node.LHS {
	case "contract_form":
		v.finish()
		v.kind = boardKindContract
		v.curContract = BoardContractDecl{}
	case "wave_form":
		v.finish()
		v.kind = boardKindWave
		v.curWave = BoardWaveDecl{}
	case "bind_form":
		v.finish()
		v.kind = boardKindBind
		v.curBind = BoardBindDecl{}
	}
	return nil
}

func (v *boardVisitor) VisitTerminal(node *dsl.Node, ctx *dsl.VisitorContext) error {
	path := ctx.Path()
	text := node.Unit.Lexeme

	var field string
	switch {
	case lastN(path, 2) == "id/literal":
		field = "id"
	case lastN(path, 3) == "file/file_path/literal":
		field = "file"
	case lastN(path, 2) == "contract_ref/literal":
		field = "contract_ref"
	case lastN(path, 2) == "wave_ref/literal":
		field = "wave_ref"
	}

	switch v.kind {
	case boardKindContract:
		switch field {
		case "id":
			v.curContract.ID += text
		case "file":
			v.curContract.File += text
		}
	case boardKindWave:
		switch field {
		case "id":
			v.curWave.ID += text
		case "file":
			v.curWave.File += text
		}
	case boardKindBind:
		switch field {
		case "id":
			v.curBind.ID += text
		case "contract_ref":
			v.curBind.ContractRef += text
		case "wave_ref":
			v.curBind.WaveRef += text
		}
	}
	return nil
}
