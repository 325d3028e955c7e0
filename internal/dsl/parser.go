package dsl

import (
	"fmt"

	"github.com/cuwacunu/tsi/internal/bnf"
	"github.com/cuwacunu/tsi/internal/errs"
)

// InstructionParser performs the deterministic left-to-right descent guided
// by a bnf.ProductionGrammar described in §4.3: for a rule with multiple
// alternatives it commits to the first whose first-terminal-set matches the
// next token, failing with *ambiguity* if two alternatives of the same rule
// share a first terminal.
type InstructionParser struct {
	grammar   *bnf.ProductionGrammar
	lex       *InstructionLexer
	firstSets map[string][]firstEntry // memoized per rule LHS
}

// firstEntry is one element of a first-set: either a literal expected text
// or a terminal class.
type firstEntry struct {
	literal string
	class   tokenClass
	isClass bool
}

// NewInstructionParser prepares a parser for instruction text against a
// grammar.
func NewInstructionParser(grammar *bnf.ProductionGrammar, instruction string) *InstructionParser {
	return &InstructionParser{
		grammar:   grammar,
		lex:       NewInstructionLexer(instruction),
		firstSets: make(map[string][]firstEntry),
	}
}

// Parse decodes the full instruction text against the grammar's start rule
// and returns the Root AST node.
func (p *InstructionParser) Parse() (*Node, error) {
	start, ok := p.grammar.StartRule()
	if !ok {
		return nil, fmt.Errorf("dsl: grammar has no start rule: %w", errs.ErrInternal)
	}
	node, err := p.parseRuleNode(start)
	if err != nil {
		return nil, err
	}
	node.Kind = RootNode
	if !p.lex.AtEOF() {
		line, column := p.lex.Position()
		return nil, errs.At(line, column,
			fmt.Errorf("dsl: unexpected trailing instruction text: %w", errs.ErrSyntax))
	}
	return node, nil
}

// parseRuleNode parses one application of rule, choosing the alternative
// whose first-set matches upcoming input, and returns an Intermediary node
// (the caller may relabel the top-level result as Root).
func (p *InstructionParser) parseRuleNode(rule bnf.ProductionRule) (*Node, error) {
	sets, err := p.firstSetsOf(rule)
	if err != nil {
		return nil, err
	}

	chosen := -1
	for i, entries := range sets {
		if p.anyMatches(entries) {
			chosen = i
			break
		}
	}
	if chosen == -1 {
		line, column := p.lex.Position()
		return nil, errs.At(line, column,
			fmt.Errorf("dsl: no alternative of rule %q matches input: %w", rule.LHS, errs.ErrSyntax))
	}

	alt := rule.Alternatives[chosen]
	children := make([]*Node, 0, len(alt.Units))
	for _, u := range alt.Units {
		nodes, err := p.parseUnit(u)
		if err != nil {
			return nil, err
		}
		children = append(children, nodes...)
	}
	return &Node{Kind: IntermediaryNode, LHS: rule.LHS, AltIndex: chosen, Children: children}, nil
}

// parseUnit parses exactly one unit of an alternative and returns the node(s)
// it contributes as direct children of the enclosing alternative: a Terminal
// or NonTerminal contributes exactly one node; an Optional contributes zero
// or one; a Repetition contributes zero or more occurrence nodes, each one
// an independent application of the inner rule (flattened, not wrapped in an
// extra synthetic layer) so a visitor sees one stack frame per occurrence.
func (p *InstructionParser) parseUnit(u bnf.ProductionUnit) ([]*Node, error) {
	switch u.Type {
	case bnf.Terminal:
		n, err := p.parseTerminal(u)
		if err != nil {
			return nil, err
		}
		return []*Node{n}, nil
	case bnf.NonTerminal:
		rule, ok := p.grammar.GetRule(u)
		if !ok {
			return nil, fmt.Errorf("dsl: unresolved non-terminal %q: %w", u.Name(), errs.ErrReference)
		}
		n, err := p.parseRuleNode(rule)
		if err != nil {
			return nil, err
		}
		return []*Node{n}, nil
	case bnf.Optional:
		rule, ok := p.grammar.GetRule(u)
		if !ok {
			return nil, fmt.Errorf("dsl: unresolved non-terminal %q: %w", u.Name(), errs.ErrReference)
		}
		sets, err := p.firstSetsOf(rule)
		if err != nil {
			return nil, err
		}
		if !p.anyOfAnyMatches(sets) {
			return nil, nil
		}
		n, err := p.parseRuleNode(rule)
		if err != nil {
			return nil, err
		}
		return []*Node{n}, nil
	case bnf.Repetition:
		rule, ok := p.grammar.GetRule(u)
		if !ok {
			return nil, fmt.Errorf("dsl: unresolved non-terminal %q: %w", u.Name(), errs.ErrReference)
		}
		sets, err := p.firstSetsOf(rule)
		if err != nil {
			return nil, err
		}
		directLetter := isDirectLetterRule(rule)
		var occurrences []*Node
		for {
			if directLetter && len(occurrences) > 0 {
				if !p.lex.PeekLetterAdjacent() {
					break
				}
			} else if !p.anyOfAnyMatches(sets) {
				break
			}
			n, err := p.parseRuleNode(rule)
			if err != nil {
				return nil, err
			}
			occurrences = append(occurrences, n)
		}
		return occurrences, nil
	default:
		return nil, fmt.Errorf("dsl: unexpected unit type %s in alternative: %w", u.Type, errs.ErrInternal)
	}
}

// isDirectLetterRule reports whether rule's sole alternative is exactly one
// LETTER terminal, i.e. it is used to assemble an identifier one character
// at a time via a surrounding {<rule>} repetition. Such repetitions must stop
// at a separating space rather than skip over it into the next field; a
// deeper or compound rule (e.g. one repeating whole table rows) keeps the
// normal skip-whitespace continuation check.
func isDirectLetterRule(rule bnf.ProductionRule) bool {
	if len(rule.Alternatives) != 1 {
		return false
	}
	alt := rule.Alternatives[0]
	if len(alt.Units) != 1 {
		return false
	}
	u := alt.Units[0]
	return u.Type == bnf.Terminal && tokenClass(u.Lexeme) == classLetter
}

func (p *InstructionParser) parseTerminal(u bnf.ProductionUnit) (*Node, error) {
	if class, ok := classOf(u.Lexeme); ok {
		tok, err := p.lex.ConsumeClass(class)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: TerminalNode, Unit: bnf.ProductionUnit{Type: bnf.Terminal, Lexeme: tok.Text, Line: tok.Line, Column: tok.Column}}, nil
	}
	literal := unescapeLexeme(u.Lexeme)
	tok, err := p.lex.ConsumeLiteral(literal)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: TerminalNode, Unit: bnf.ProductionUnit{Type: bnf.Terminal, Lexeme: tok.Text, Line: tok.Line, Column: tok.Column}}, nil
}

// firstSetsOf computes, and memoizes, the first-set of every alternative of
// rule, failing with *ambiguity* if two alternatives share an element.
func (p *InstructionParser) firstSetsOf(rule bnf.ProductionRule) ([][]firstEntry, error) {
	sets := make([][]firstEntry, len(rule.Alternatives))
	for i, alt := range rule.Alternatives {
		u, ok := alt.FirstUnit()
		if !ok {
			return nil, fmt.Errorf("dsl: rule %q has an empty alternative: %w", rule.LHS, errs.ErrSemantic)
		}
		entries, err := p.firstSetOfUnit(u, map[string]bool{rule.LHS: true})
		if err != nil {
			return nil, err
		}
		sets[i] = entries
	}
	if err := checkNoOverlap(rule.LHS, sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func checkNoOverlap(lhs string, sets [][]firstEntry) error {
	seen := make(map[string]int)
	for i, entries := range sets {
		for _, e := range entries {
			key := e.key()
			if prev, ok := seen[key]; ok && prev != i {
				return fmt.Errorf("dsl: rule %q has ambiguous alternatives %d and %d sharing first terminal %s: %w",
					lhs, prev, i, key, errs.ErrAmbiguity)
			}
			seen[key] = i
		}
	}
	return nil
}

func (e firstEntry) key() string {
	if e.isClass {
		return "$" + string(e.class)
	}
	return e.literal
}

func (p *InstructionParser) firstSetOfUnit(u bnf.ProductionUnit, visiting map[string]bool) ([]firstEntry, error) {
	switch u.Type {
	case bnf.Terminal:
		if class, ok := classOf(u.Lexeme); ok {
			return []firstEntry{{class: class, isClass: true}}, nil
		}
		return []firstEntry{{literal: unescapeLexeme(u.Lexeme)}}, nil
	case bnf.NonTerminal, bnf.Optional, bnf.Repetition:
		name := u.Name()
		if visiting[name] {
			return nil, nil
		}
		rule, ok := p.grammar.GetRuleByName(name)
		if !ok {
			return nil, fmt.Errorf("dsl: unresolved non-terminal %q: %w", name, errs.ErrReference)
		}
		nextVisiting := make(map[string]bool, len(visiting)+1)
		for k := range visiting {
			nextVisiting[k] = true
		}
		nextVisiting[name] = true
		var out []firstEntry
		for _, alt := range rule.Alternatives {
			first, ok := alt.FirstUnit()
			if !ok {
				continue
			}
			entries, err := p.firstSetOfUnit(first, nextVisiting)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dsl: unexpected unit type %s: %w", u.Type, errs.ErrInternal)
	}
}

func (p *InstructionParser) anyMatches(entries []firstEntry) bool {
	for _, e := range entries {
		if e.isClass {
			if p.lex.PeekClass(e.class) {
				return true
			}
		} else if p.lex.PeekLiteral(e.literal) {
			return true
		}
	}
	return false
}

func (p *InstructionParser) anyOfAnyMatches(sets [][]firstEntry) bool {
	for _, entries := range sets {
		if p.anyMatches(entries) {
			return true
		}
	}
	return false
}
