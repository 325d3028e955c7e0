package bnf

import (
	"fmt"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Parser consumes units from a Lexer and builds a ProductionGrammar:
//
//	<rule>  ::= <nonterminal> "::=" <rhs> ";"
//	<rhs>   ::= <alt> { "|" <alt> }
//	<alt>   ::= <unit> { <unit> }
//	<unit>  ::= <terminal> | <nonterminal> | <optional> | <repetition>
type Parser struct {
	lex  *Lexer
	cur  ProductionUnit
	init bool
}

// NewParser prepares a parser over grammar text.
func NewParser(text string) *Parser {
	return &Parser{lex: NewLexer(text)}
}

func (p *Parser) advance() error {
	u, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = u
	p.init = true
	return nil
}

func (p *Parser) current() (ProductionUnit, error) {
	if !p.init {
		if err := p.advance(); err != nil {
			return ProductionUnit{}, err
		}
	}
	return p.cur, nil
}

// Parse reads the entire grammar text and returns a validated
// ProductionGrammar, failing with *semantic* on an empty alternative and
// *reference* on any unresolved non-terminal.
func (p *Parser) Parse() (*ProductionGrammar, error) {
	var rules []ProductionRule
	for {
		u, err := p.current()
		if err != nil {
			return nil, err
		}
		if u.Type == EndOfFile {
			break
		}
		rule, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	g, err := NewGrammar(rules)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *Parser) parseRule() (ProductionRule, error) {
	lhsUnit, err := p.current()
	if err != nil {
		return ProductionRule{}, err
	}
	if lhsUnit.Type != NonTerminal {
		return ProductionRule{}, errs.At(lhsUnit.Line, lhsUnit.Column,
			fmt.Errorf("bnf: expected non-terminal at start of rule, got %s: %w", lhsUnit.Type, errs.ErrSyntax))
	}
	if err := p.advance(); err != nil {
		return ProductionRule{}, err
	}

	assign, err := p.current()
	if err != nil {
		return ProductionRule{}, err
	}
	if assign.Type != Punctuation || assign.Lexeme != "::=" {
		return ProductionRule{}, errs.At(assign.Line, assign.Column,
			fmt.Errorf("bnf: expected \"::=\" after %s: %w", lhsUnit.Lexeme, errs.ErrSyntax))
	}
	if err := p.advance(); err != nil {
		return ProductionRule{}, err
	}

	alternatives, err := p.parseAlternatives(lhsUnit.Name())
	if err != nil {
		return ProductionRule{}, err
	}

	semi, err := p.current()
	if err != nil {
		return ProductionRule{}, err
	}
	if semi.Type != Punctuation || semi.Lexeme != ";" {
		return ProductionRule{}, errs.At(semi.Line, semi.Column,
			fmt.Errorf("bnf: expected ';' terminating rule %s: %w", lhsUnit.Lexeme, errs.ErrSyntax))
	}
	if err := p.advance(); err != nil {
		return ProductionRule{}, err
	}

	return ProductionRule{LHS: lhsUnit.Name(), Alternatives: alternatives}, nil
}

func (p *Parser) parseAlternatives(lhs string) ([]ProductionAlternative, error) {
	var alts []ProductionAlternative
	alt, err := p.parseAlternative(lhs)
	if err != nil {
		return nil, err
	}
	alts = append(alts, alt)
	for {
		u, err := p.current()
		if err != nil {
			return nil, err
		}
		if u.Type != Punctuation || u.Lexeme != "|" {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		alt, err := p.parseAlternative(lhs)
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
	}
	return alts, nil
}

func (p *Parser) parseAlternative(lhs string) (ProductionAlternative, error) {
	var units []ProductionUnit
	for {
		u, err := p.current()
		if err != nil {
			return ProductionAlternative{}, err
		}
		if !isUnitStart(u) {
			break
		}
		units = append(units, u)
		if err := p.advance(); err != nil {
			return ProductionAlternative{}, err
		}
	}
	if len(units) == 0 {
		u, _ := p.current()
		return ProductionAlternative{}, errs.At(u.Line, u.Column,
			fmt.Errorf("bnf: empty alternative: %w", errs.ErrSemantic))
	}
	flags := computeFlags(units, lhs)
	return ProductionAlternative{Units: units, Flags: flags}, nil
}

func isUnitStart(u ProductionUnit) bool {
	switch u.Type {
	case Terminal, NonTerminal, Optional, Repetition:
		return true
	default:
		return false
	}
}

func computeFlags(units []ProductionUnit, lhs string) AlternativeFlags {
	var f AlternativeFlags
	for _, u := range units {
		switch u.Type {
		case Optional:
			f |= FlagContainsOptional
		case Repetition:
			f |= FlagContainsRepetition
		case NonTerminal:
			if u.Name() == lhs {
				f |= FlagContainsRecursion
			}
		}
	}
	return f
}
