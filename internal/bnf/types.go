// Package bnf implements the grammar lexer and parser: a BNF-like grammar
// text is turned into a ProductionGrammar of rules, alternatives, and units,
// the structure the instruction parser (package dsl) walks to decode DSL
// text into an AST.
package bnf

import (
	"fmt"
	"strings"

	"github.com/cuwacunu/tsi/internal/errs"
)

// UnitType tags the variant held by a ProductionUnit.
type UnitType int

const (
	Terminal UnitType = iota
	NonTerminal
	Optional
	Repetition
	Punctuation
	EndOfFile
	Undetermined
)

func (t UnitType) String() string {
	switch t {
	case Terminal:
		return "Terminal"
	case NonTerminal:
		return "NonTerminal"
	case Optional:
		return "Optional"
	case Repetition:
		return "Repetition"
	case Punctuation:
		return "Punctuation"
	case EndOfFile:
		return "EndOfFile"
	default:
		return "Undetermined"
	}
}

// ProductionUnit is a single lexical unit of grammar text. Lexeme preserves
// surrounding delimiters exactly: "<x>", "[<x>]", "{<x>}", "\"...\"".
type ProductionUnit struct {
	Type   UnitType
	Lexeme string
	Line   int
	Column int
}

func (u ProductionUnit) String() string {
	return u.Lexeme
}

// Name strips the delimiters from a NonTerminal/Optional/Repetition lexeme,
// returning the bare rule name ("<x>" -> "x", "[<x>]" -> "x", "{<x>}" -> "x").
func (u ProductionUnit) Name() string {
	s := u.Lexeme
	switch u.Type {
	case NonTerminal:
		return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	case Optional:
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		return strings.TrimSuffix(strings.TrimPrefix(inner, "<"), ">")
	case Repetition:
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
		return strings.TrimSuffix(strings.TrimPrefix(inner, "<"), ">")
	default:
		return s
	}
}

// AlternativeFlags mark structural properties of a ProductionAlternative,
// computed once at parse time so downstream consumers never re-walk units.
type AlternativeFlags uint8

const (
	FlagContainsRecursion AlternativeFlags = 1 << iota
	FlagContainsOptional
	FlagContainsRepetition
)

func (f AlternativeFlags) Has(bit AlternativeFlags) bool { return f&bit != 0 }

// ProductionAlternative is either a single unit or an ordered sequence of
// units forming one RHS alternative of a rule.
type ProductionAlternative struct {
	Units []ProductionUnit
	Flags AlternativeFlags
}

// IsSingle reports whether this alternative is a lone unit rather than a
// multi-unit sequence.
func (a ProductionAlternative) IsSingle() bool { return len(a.Units) == 1 }

func (a ProductionAlternative) String() string {
	parts := make([]string, len(a.Units))
	for i, u := range a.Units {
		parts[i] = u.Lexeme
	}
	return strings.Join(parts, " ")
}

// FirstUnit returns the alternative's leading unit, used to compute first-sets
// for the parser's commit-on-first-terminal strategy.
func (a ProductionAlternative) FirstUnit() (ProductionUnit, bool) {
	if len(a.Units) == 0 {
		return ProductionUnit{}, false
	}
	return a.Units[0], true
}

// ProductionRule is a named non-terminal with an ordered, non-empty list of
// alternatives.
type ProductionRule struct {
	LHS          string
	Alternatives []ProductionAlternative
}

func (r ProductionRule) String() string {
	alts := make([]string, len(r.Alternatives))
	for i, a := range r.Alternatives {
		alts[i] = a.String()
	}
	return fmt.Sprintf("<%s> ::= %s ;", r.LHS, strings.Join(alts, " | "))
}

// ProductionGrammar is an ordered list of rules. The first rule in
// declaration order is the start rule.
type ProductionGrammar struct {
	Rules []ProductionRule

	byLHS map[string]int
}

// NewGrammar builds a grammar from an ordered rule list, indexing LHS names
// for O(1) lookup.
func NewGrammar(rules []ProductionRule) (*ProductionGrammar, error) {
	g := &ProductionGrammar{Rules: rules, byLHS: make(map[string]int, len(rules))}
	for i, r := range rules {
		if _, dup := g.byLHS[r.LHS]; dup {
			return nil, fmt.Errorf("bnf: duplicate rule lhs %q: %w", r.LHS, errs.ErrSemantic)
		}
		g.byLHS[r.LHS] = i
	}
	return g, nil
}

// StartRule returns the first rule in declaration order.
func (g *ProductionGrammar) StartRule() (ProductionRule, bool) {
	if len(g.Rules) == 0 {
		return ProductionRule{}, false
	}
	return g.Rules[0], true
}

// GetRuleByName looks up a rule by its bare LHS name.
func (g *ProductionGrammar) GetRuleByName(lhs string) (ProductionRule, bool) {
	i, ok := g.byLHS[lhs]
	if !ok {
		return ProductionRule{}, false
	}
	return g.Rules[i], true
}

// GetRule looks up the rule referenced by a unit, unwrapping a surrounding
// Optional ([<x>] -> <x>) or Repetition ({<x>} -> <x>) before lookup.
func (g *ProductionGrammar) GetRule(u ProductionUnit) (ProductionRule, bool) {
	switch u.Type {
	case NonTerminal, Optional, Repetition:
		return g.GetRuleByName(u.Name())
	default:
		return ProductionRule{}, false
	}
}

// GetRuleAt looks up a rule by its declaration index.
func (g *ProductionGrammar) GetRuleAt(index int) (ProductionRule, bool) {
	if index < 0 || index >= len(g.Rules) {
		return ProductionRule{}, false
	}
	return g.Rules[index], true
}

// Validate checks that every NonTerminal (and the inner name of every
// Optional/Repetition) referenced on any RHS resolves to a declared LHS.
func (g *ProductionGrammar) Validate() error {
	seen := make(map[string]bool, len(g.Rules))
	for _, r := range g.Rules {
		if seen[r.LHS] {
			return fmt.Errorf("bnf: duplicate rule lhs %q: %w", r.LHS, errs.ErrSemantic)
		}
		seen[r.LHS] = true
		if len(r.Alternatives) == 0 {
			return fmt.Errorf("bnf: rule %q has no alternatives: %w", r.LHS, errs.ErrSemantic)
		}
	}
	for _, r := range g.Rules {
		for _, alt := range r.Alternatives {
			if len(alt.Units) == 0 {
				return fmt.Errorf("bnf: rule %q has an empty alternative: %w", r.LHS, errs.ErrSemantic)
			}
			for _, u := range alt.Units {
				switch u.Type {
				case NonTerminal, Optional, Repetition:
					if _, ok := g.byLHS[u.Name()]; !ok {
						return fmt.Errorf("bnf: unresolved non-terminal %q referenced by rule %q: %w", u.Name(), r.LHS, errs.ErrReference)
					}
				}
			}
		}
	}
	return nil
}

func (g *ProductionGrammar) String() string {
	var b strings.Builder
	for _, r := range g.Rules {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}
