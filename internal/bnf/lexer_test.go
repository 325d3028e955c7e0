package bnf

import (
	"errors"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
)

func lexAll(t *testing.T, text string) []ProductionUnit {
	t.Helper()
	lex := NewLexer(text)
	var units []ProductionUnit
	for {
		u, err := lex.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		units = append(units, u)
		if u.Type == EndOfFile {
			break
		}
	}
	return units
}

func TestLexerBasicUnits(t *testing.T) {
	units := lexAll(t, `<rule> ::= "term" | <other> ;`)
	want := []UnitType{NonTerminal, Punctuation, Terminal, Punctuation, NonTerminal, Punctuation, EndOfFile}
	if len(units) != len(want) {
		t.Fatalf("got %d units, want %d: %+v", len(units), len(want), units)
	}
	for i, w := range want {
		if units[i].Type != w {
			t.Errorf("unit %d: got %s, want %s (lexeme %q)", i, units[i].Type, w, units[i].Lexeme)
		}
	}
}

func TestLexerLineCommentAtColumnOne(t *testing.T) {
	units := lexAll(t, "; this is a comment\n<a> ::= \"x\" ;")
	if units[0].Type != NonTerminal || units[0].Lexeme != "<a>" {
		t.Fatalf("expected comment to be skipped, got %+v", units[0])
	}
}

func TestLexerSemicolonNotAtColumnOneIsPunctuation(t *testing.T) {
	lex := NewLexer(`<a> ::= "x" ;`)
	var last ProductionUnit
	for i := 0; i < 4; i++ {
		u, err := lex.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		last = u
	}
	if last.Type != Punctuation || last.Lexeme != ";" {
		t.Fatalf("expected terminating ';' punctuation, got %+v", last)
	}
}

func TestLexerUnterminatedNonTerminal(t *testing.T) {
	lex := NewLexer("<abc")
	_, err := lex.Next()
	if err == nil || !errors.Is(err, errs.ErrSyntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestLexerUnterminatedQuotedTerminal(t *testing.T) {
	lex := NewLexer(`"unterminated`)
	_, err := lex.Next()
	if err == nil || !errors.Is(err, errs.ErrSyntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestLexerEscapeInsideQuotesPreservedVerbatim(t *testing.T) {
	lex := NewLexer(`"a\nb"`)
	u, err := lex.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if u.Lexeme != `"a\nb"` {
		t.Fatalf("expected escape preserved verbatim, got %q", u.Lexeme)
	}
}

func TestLexerEllipsisRejected(t *testing.T) {
	lex := NewLexer("...")
	_, err := lex.Next()
	if err == nil || !errors.Is(err, errs.ErrSyntax) {
		t.Fatalf("expected \"...\" to be rejected as syntax error, got %v", err)
	}
}

func TestLexerDottedTerminalAccepted(t *testing.T) {
	lex := NewLexer("v1.2.3")
	u, err := lex.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if u.Type != Terminal || u.Lexeme != "v1.2.3" {
		t.Fatalf("expected dotted terminal, got %+v", u)
	}
}

func TestLexerOptionalMustEncloseNonTerminal(t *testing.T) {
	lex := NewLexer(`["x"]`)
	_, err := lex.Next()
	if err == nil || !errors.Is(err, errs.ErrSyntax) {
		t.Fatalf("expected syntax error for optional enclosing a terminal, got %v", err)
	}
}

func TestLexerPositionTracking(t *testing.T) {
	lex := NewLexer("a\nbc")
	u1, _ := lex.Next()
	if u1.Line != 1 || u1.Column != 1 {
		t.Fatalf("expected first unit at 1:1, got %d:%d", u1.Line, u1.Column)
	}
	u2, _ := lex.Next()
	if u2.Line != 2 || u2.Column != 1 {
		t.Fatalf("expected second unit at 2:1, got %d:%d", u2.Line, u2.Column)
	}
}
