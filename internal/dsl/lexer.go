package dsl

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cuwacunu/tsi/internal/errs"
)

// tokenClass is the set of terminal "classes" the instruction lexer
// recognizes on request, as opposed to matching literal keyword text.
// A grammar rule bottoms out in a class by naming one of these as its
// Terminal lexeme, e.g. "<number> ::= NUMBER ;", the same convention
// ictiobus's RegisterClass/AddPattern lexer uses for reserved token classes.
type tokenClass string

const (
	classNumber  tokenClass = "NUMBER"
	classLetter  tokenClass = "LETTER"
	classBoolean tokenClass = "BOOLEAN"
	classLiteral tokenClass = "LITERAL"
)

func classOf(lexeme string) (tokenClass, bool) {
	switch tokenClass(lexeme) {
	case classNumber, classLetter, classBoolean, classLiteral:
		return tokenClass(lexeme), true
	default:
		return "", false
	}
}

// token is a span of matched instruction text.
type token struct {
	Text   string
	Line   int
	Column int
}

// InstructionLexer is "driven by the grammar": unlike bnf.Lexer it does not
// decide on its own what the next token is — the parser tells it whether it
// expects a literal lexeme or a terminal class, and the lexer consumes
// exactly that much of the input.
type InstructionLexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

// NewInstructionLexer prepares a lexer over instruction text.
func NewInstructionLexer(text string) *InstructionLexer {
	return &InstructionLexer{src: []rune(text), pos: 0, line: 1, column: 1}
}

func (l *InstructionLexer) isAtEnd() bool { return l.pos >= len(l.src) }

func (l *InstructionLexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.src[l.pos]
}

func (l *InstructionLexer) peekAt(offset int) rune {
	i := l.pos + offset
	if i < 0 || i >= len(l.src) {
		return 0
	}
	return l.src[i]
}

func (l *InstructionLexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return r
}

// skipInsignificantWhitespace skips whitespace between tokens. Whitespace is
// only insignificant as a separator; it is never skipped mid-token.
func (l *InstructionLexer) skipInsignificantWhitespace() {
	for !l.isAtEnd() && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// Position reports the current (line, column), mainly for error reporting by
// the parser before it asks the lexer to consume anything.
func (l *InstructionLexer) Position() (line, column int) {
	return l.line, l.column
}

// AtEOF reports whether the remaining input (after skipping separator
// whitespace) is empty.
func (l *InstructionLexer) AtEOF() bool {
	l.skipInsignificantWhitespace()
	return l.isAtEnd()
}

// PeekLiteral reports whether the literal text (already unescaped) occurs at
// the current position, without consuming it. Used to evaluate first-sets
// without committing to a match.
func (l *InstructionLexer) PeekLiteral(literal string) bool {
	l.skipInsignificantWhitespace()
	runes := []rune(literal)
	for i, r := range runes {
		if l.peekAt(i) != r {
			return false
		}
	}
	// A bare-word literal must not match a longer identifier run; require a
	// boundary unless the literal itself is pure punctuation.
	if isIdentifierRune(runes[len(runes)-1]) {
		next := l.peekAt(len(runes))
		if isIdentifierRune(next) {
			return false
		}
	}
	return true
}

// ConsumeLiteral matches and consumes literal text at the current position.
func (l *InstructionLexer) ConsumeLiteral(literal string) (token, error) {
	l.skipInsignificantWhitespace()
	startLine, startColumn := l.line, l.column
	if !l.PeekLiteral(literal) {
		return token{}, errs.At(startLine, startColumn,
			fmt.Errorf("dsl: expected %q: %w", literal, errs.ErrSyntax))
	}
	for range []rune(literal) {
		l.advance()
	}
	return token{Text: literal, Line: startLine, Column: startColumn}, nil
}

func isIdentifierRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

// PeekClass reports whether a token of the given class can be matched at the
// current position, without consuming it.
func (l *InstructionLexer) PeekClass(class tokenClass) bool {
	l.skipInsignificantWhitespace()
	if l.isAtEnd() {
		return false
	}
	switch class {
	case classLetter:
		return isIdentifierRune(l.peek())
	case classNumber:
		r := l.peek()
		return unicode.IsDigit(r) || ((r == '-' || r == '+') && unicode.IsDigit(l.peekAt(1)))
	case classBoolean:
		return l.matchesWord("true") || l.matchesWord("false")
	case classLiteral:
		return l.peek() == '"' || l.peek() == '\'' || isIdentifierRune(l.peek())
	default:
		return false
	}
}

// PeekLetterAdjacent reports whether another LETTER character follows with no
// intervening whitespace. Used to continue a same-token letter-by-letter
// repetition (an identifier assembled via {<letter>}): unlike PeekClass, a
// separating space here must end the repetition rather than be skipped into
// the next field.
func (l *InstructionLexer) PeekLetterAdjacent() bool {
	return !l.isAtEnd() && isIdentifierRune(l.peek())
}

func (l *InstructionLexer) matchesWord(word string) bool {
	runes := []rune(word)
	for i, r := range runes {
		if unicode.ToLower(l.peekAt(i)) != r {
			return false
		}
	}
	return !isIdentifierRune(l.peekAt(len(runes)))
}

// ConsumeClass consumes one token of the requested class.
func (l *InstructionLexer) ConsumeClass(class tokenClass) (token, error) {
	l.skipInsignificantWhitespace()
	startLine, startColumn := l.line, l.column
	if l.isAtEnd() {
		return token{}, errs.At(startLine, startColumn,
			fmt.Errorf("dsl: unexpected end of instruction, expected %s: %w", class, errs.ErrSyntax))
	}
	switch class {
	case classLetter:
		if !isIdentifierRune(l.peek()) {
			return token{}, errs.At(startLine, startColumn,
				fmt.Errorf("dsl: expected a letter: %w", errs.ErrSyntax))
		}
		r := l.advance()
		return token{Text: string(r), Line: startLine, Column: startColumn}, nil
	case classNumber:
		var b strings.Builder
		if l.peek() == '-' || l.peek() == '+' {
			b.WriteRune(l.advance())
		}
		sawDigit := false
		for !l.isAtEnd() && unicode.IsDigit(l.peek()) {
			b.WriteRune(l.advance())
			sawDigit = true
		}
		if !l.isAtEnd() && l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
			b.WriteRune(l.advance())
			for !l.isAtEnd() && unicode.IsDigit(l.peek()) {
				b.WriteRune(l.advance())
			}
		}
		if !sawDigit {
			return token{}, errs.At(startLine, startColumn,
				fmt.Errorf("dsl: expected a number: %w", errs.ErrSyntax))
		}
		return token{Text: b.String(), Line: startLine, Column: startColumn}, nil
	case classBoolean:
		if l.matchesWord("true") {
			for range []rune("true") {
				l.advance()
			}
			return token{Text: "true", Line: startLine, Column: startColumn}, nil
		}
		if l.matchesWord("false") {
			for range []rune("false") {
				l.advance()
			}
			return token{Text: "false", Line: startLine, Column: startColumn}, nil
		}
		return token{}, errs.At(startLine, startColumn,
			fmt.Errorf("dsl: expected true/false: %w", errs.ErrSyntax))
	case classLiteral:
		return l.consumeLiteralToken()
	default:
		return token{}, fmt.Errorf("dsl: unknown token class %q: %w", class, errs.ErrInternal)
	}
}

func (l *InstructionLexer) consumeLiteralToken() (token, error) {
	startLine, startColumn := l.line, l.column
	if l.peek() == '"' || l.peek() == '\'' {
		quote := l.advance()
		var b strings.Builder
		for {
			if l.isAtEnd() {
				return token{}, errs.At(startLine, startColumn,
					fmt.Errorf("dsl: unterminated quoted literal: %w", errs.ErrSyntax))
			}
			r := l.advance()
			if r == '\\' && !l.isAtEnd() {
				b.WriteRune(unescapeOne(l.advance()))
				continue
			}
			if r == quote {
				break
			}
			b.WriteRune(r)
		}
		return token{Text: b.String(), Line: startLine, Column: startColumn}, nil
	}
	var b strings.Builder
	for !l.isAtEnd() && isIdentifierRune(l.peek()) {
		b.WriteRune(l.advance())
	}
	if b.Len() == 0 {
		return token{}, errs.At(startLine, startColumn,
			fmt.Errorf("dsl: expected a literal: %w", errs.ErrSyntax))
	}
	return token{Text: b.String(), Line: startLine, Column: startColumn}, nil
}

func unescapeOne(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

// unescapeLexeme strips the surrounding quotes (if any) from a grammar
// Terminal lexeme and interprets its \X escapes, producing the literal text
// an instruction token must match. Unquoted lexemes pass through unchanged.
func unescapeLexeme(lexeme string) string {
	if len(lexeme) < 2 {
		return lexeme
	}
	quote := lexeme[0]
	if quote != '"' && quote != '\'' {
		return lexeme
	}
	if lexeme[len(lexeme)-1] != quote {
		return lexeme
	}
	inner := lexeme[1 : len(lexeme)-1]
	var b strings.Builder
	runes := []rune(inner)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			b.WriteRune(unescapeOne(runes[i]))
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
