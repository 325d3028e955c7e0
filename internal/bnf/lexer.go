package bnf

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Lexer turns grammar text into a sequence of ProductionUnits. It mirrors the
// reference lexer's single-pass, rune-at-a-time scan: whitespace and
// column-1 ';' comments are skipped between units, and position (line,
// column) is tracked exactly so syntax errors can report where they occurred.
type Lexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

// NewLexer prepares a lexer over grammar text.
func NewLexer(text string) *Lexer {
	return &Lexer{src: []rune(text), pos: 0, line: 1, column: 1}
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.src) }

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(offset int) rune {
	i := l.pos + offset
	if i < 0 || i >= len(l.src) {
		return 0
	}
	return l.src[i]
}

func (l *Lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	l.updatePosition(r)
	return r
}

func (l *Lexer) updatePosition(r rune) {
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
}

// skipWhitespace skips runs of whitespace and ';'-at-column-1 line comments.
func (l *Lexer) skipWhitespace() {
	for !l.isAtEnd() {
		r := l.peek()
		if unicode.IsSpace(r) {
			l.advance()
			continue
		}
		if r == ';' && l.column == 1 {
			for !l.isAtEnd() && l.peek() != '\n' {
				l.advance()
			}
			if !l.isAtEnd() {
				l.advance() // consume the newline itself, comment is inclusive of it
			}
			continue
		}
		break
	}
}

// Next returns the next production unit, or an EndOfFile unit when the
// source is exhausted.
func (l *Lexer) Next() (ProductionUnit, error) {
	l.skipWhitespace()
	if l.isAtEnd() {
		return ProductionUnit{Type: EndOfFile, Line: l.line, Column: l.column}, nil
	}

	startLine, startColumn := l.line, l.column
	r := l.peek()

	if r == '.' && l.isStandaloneEllipsis() {
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: \"...\" is not a supported punctuation: %w", errs.ErrSyntax))
	}

	switch {
	case r == '<':
		return l.parseNonTerminal()
	case r == '[':
		return l.parseOptional()
	case r == '{':
		return l.parseRepetition()
	case r == '"' || r == '\'':
		return l.parseQuotedTerminal()
	case isUnquotedTerminalStart(r):
		return l.parseUnquotedTerminal()
	case isPunctuationStart(r):
		return l.parsePunctuation()
	default:
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: unexpected character %q: %w", r, errs.ErrSyntax))
	}
}

// isStandaloneEllipsis reports whether the lexer sits at exactly "..." not
// followed by a further '.' or identifier character — the bare ellipsis the
// reference grammar explicitly rejects, as opposed to a dotted terminal like
// "v1.2.3".
func (l *Lexer) isStandaloneEllipsis() bool {
	if l.peekAt(0) != '.' || l.peekAt(1) != '.' || l.peekAt(2) != '.' {
		return false
	}
	after := l.peekAt(3)
	return !isUnquotedTerminalRune(after)
}

func isUnquotedTerminalStart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

func isUnquotedTerminalRune(r rune) bool {
	return isUnquotedTerminalStart(r)
}

func isPunctuationStart(r rune) bool {
	switch r {
	case ':', '|', ';':
		return true
	default:
		return false
	}
}

func (l *Lexer) parseNonTerminal() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	var b strings.Builder
	b.WriteRune(l.advance()) // '<'
	for {
		if l.isAtEnd() {
			return ProductionUnit{}, errs.At(startLine, startColumn,
				fmt.Errorf("bnf: unterminated non-terminal: %w", errs.ErrSyntax))
		}
		r := l.advance()
		b.WriteRune(r)
		if r == '>' {
			break
		}
	}
	return ProductionUnit{Type: NonTerminal, Lexeme: b.String(), Line: startLine, Column: startColumn}, nil
}

func (l *Lexer) parseOptional() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	l.advance() // '['
	l.skipWhitespace()
	if l.peek() != '<' {
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: optional must enclose a non-terminal: %w", errs.ErrSyntax))
	}
	inner, err := l.parseNonTerminal()
	if err != nil {
		return ProductionUnit{}, err
	}
	l.skipWhitespace()
	if l.isAtEnd() || l.peek() != ']' {
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: unterminated optional, missing ']': %w", errs.ErrSyntax))
	}
	l.advance() // ']'
	lexeme := "[" + inner.Lexeme + "]"
	return ProductionUnit{Type: Optional, Lexeme: lexeme, Line: startLine, Column: startColumn}, nil
}

func (l *Lexer) parseRepetition() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	l.advance() // '{'
	l.skipWhitespace()
	if l.peek() != '<' {
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: repetition must enclose a non-terminal: %w", errs.ErrSyntax))
	}
	inner, err := l.parseNonTerminal()
	if err != nil {
		return ProductionUnit{}, err
	}
	l.skipWhitespace()
	if l.isAtEnd() || l.peek() != '}' {
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: unterminated repetition, missing '}': %w", errs.ErrSyntax))
	}
	l.advance() // '}'
	lexeme := "{" + inner.Lexeme + "}"
	return ProductionUnit{Type: Repetition, Lexeme: lexeme, Line: startLine, Column: startColumn}, nil
}

// parseQuotedTerminal preserves "\X" verbatim in the lexeme; escape
// interpretation is deferred to the instruction parser's unescape step.
func (l *Lexer) parseQuotedTerminal() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	quote := l.advance()
	var b strings.Builder
	b.WriteRune(quote)
	for {
		if l.isAtEnd() {
			return ProductionUnit{}, errs.At(startLine, startColumn,
				fmt.Errorf("bnf: unterminated quoted terminal: %w", errs.ErrSyntax))
		}
		r := l.advance()
		if r == '\\' && !l.isAtEnd() {
			b.WriteRune(r)
			b.WriteRune(l.advance())
			continue
		}
		b.WriteRune(r)
		if r == quote {
			break
		}
	}
	return ProductionUnit{Type: Terminal, Lexeme: b.String(), Line: startLine, Column: startColumn}, nil
}

func (l *Lexer) parseUnquotedTerminal() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	var b strings.Builder
	for !l.isAtEnd() && isUnquotedTerminalRune(l.peek()) {
		b.WriteRune(l.advance())
	}
	return ProductionUnit{Type: Terminal, Lexeme: b.String(), Line: startLine, Column: startColumn}, nil
}

// parsePunctuation recognizes "::=", "|", ";". "..." is explicitly rejected.
func (l *Lexer) parsePunctuation() (ProductionUnit, error) {
	startLine, startColumn := l.line, l.column
	if l.peek() == ':' {
		if l.peekAt(1) == ':' && l.peekAt(2) == '=' {
			l.advance()
			l.advance()
			l.advance()
			return ProductionUnit{Type: Punctuation, Lexeme: "::=", Line: startLine, Column: startColumn}, nil
		}
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: unexpected ':', expected \"::=\": %w", errs.ErrSyntax))
	}
	r := l.advance()
	switch r {
	case '|', ';':
		return ProductionUnit{Type: Punctuation, Lexeme: string(r), Line: startLine, Column: startColumn}, nil
	default:
		return ProductionUnit{}, errs.At(startLine, startColumn,
			fmt.Errorf("bnf: unexpected punctuation %q: %w", r, errs.ErrSyntax))
	}
}
