package board

import (
	"fmt"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Compile turns a contract's text into a validated circuit. The contract
// syntax is a flat statement list, optionally wrapped in braces:
//
//	{ src  = tsi.source.dataloader;
//	  rep  = tsi.wikimyei.representation.vicreg;
//	  sink = tsi.sink.null;
//	  src@payload:tensor -> rep@step;
//	  rep@payload:tensor -> sink@step; }
//
// A name = canonical.type statement declares a node; src@port -> dst@port
// declares an edge. Port type annotations (:tensor, :str) are checked
// against the canonical type's declared port surface.
func Compile(text string) (*Circuit, error) {
	p := &contractParser{lex: newContractLexer(text)}
	c, err := p.parse()
	if err != nil {
		return nil, err
	}
	c.Hash = hashText(text)
	if err := c.finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// contract token kinds.
type ctokKind int

const (
	ctokIdent ctokKind = iota
	ctokLBrace
	ctokRBrace
	ctokEquals
	ctokSemicolon
	ctokAt
	ctokColon
	ctokArrow
	ctokEOF
)

type ctok struct {
	kind   ctokKind
	lexeme string
	line   int
	column int
}

type contractLexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

func newContractLexer(text string) *contractLexer {
	return &contractLexer{src: []rune(text), line: 1, column: 1}
}

func (l *contractLexer) advance() rune {
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

func isIdentRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '.'
}

func (l *contractLexer) next() (ctok, error) {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			l.advance()
			continue
		}
		break
	}
	if l.pos >= len(l.src) {
		return ctok{kind: ctokEOF, line: l.line, column: l.column}, nil
	}

	line, column := l.line, l.column
	r := l.advance()
	switch {
	case r == '{':
		return ctok{kind: ctokLBrace, lexeme: "{", line: line, column: column}, nil
	case r == '}':
		return ctok{kind: ctokRBrace, lexeme: "}", line: line, column: column}, nil
	case r == '=':
		return ctok{kind: ctokEquals, lexeme: "=", line: line, column: column}, nil
	case r == ';':
		return ctok{kind: ctokSemicolon, lexeme: ";", line: line, column: column}, nil
	case r == '@':
		return ctok{kind: ctokAt, lexeme: "@", line: line, column: column}, nil
	case r == ':':
		return ctok{kind: ctokColon, lexeme: ":", line: line, column: column}, nil
	case r == '-':
		if l.pos < len(l.src) && l.src[l.pos] == '>' {
			l.advance()
			return ctok{kind: ctokArrow, lexeme: "->", line: line, column: column}, nil
		}
		return ctok{}, errs.At(line, column, fmt.Errorf("board: unexpected '-': %w", errs.ErrSyntax))
	case isIdentRune(r):
		lexeme := []rune{r}
		for l.pos < len(l.src) && isIdentRune(l.src[l.pos]) {
			lexeme = append(lexeme, l.advance())
		}
		return ctok{kind: ctokIdent, lexeme: string(lexeme), line: line, column: column}, nil
	default:
		return ctok{}, errs.At(line, column, fmt.Errorf("board: unexpected %q: %w", r, errs.ErrSyntax))
	}
}

type contractParser struct {
	lex *contractLexer
	tok ctok
}

func (p *contractParser) bump() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *contractParser) expect(kind ctokKind, what string) (ctok, error) {
	if p.tok.kind != kind {
		return ctok{}, errs.At(p.tok.line, p.tok.column,
			fmt.Errorf("board: expected %s, found %q: %w", what, p.tok.lexeme, errs.ErrSyntax))
	}
	t := p.tok
	if err := p.bump(); err != nil {
		return ctok{}, err
	}
	return t, nil
}

func (p *contractParser) parse() (*Circuit, error) {
	if err := p.bump(); err != nil {
		return nil, err
	}
	braced := false
	if p.tok.kind == ctokLBrace {
		braced = true
		if err := p.bump(); err != nil {
			return nil, err
		}
	}

	c := &Circuit{}
	byID := make(map[string]uint32)

	for p.tok.kind != ctokEOF && p.tok.kind != ctokRBrace {
		name, err := p.expect(ctokIdent, "a node or edge statement")
		if err != nil {
			return nil, err
		}
		switch p.tok.kind {
		case ctokEquals:
			if err := p.bump(); err != nil {
				return nil, err
			}
			canonical, err := p.expect(ctokIdent, "a canonical type")
			if err != nil {
				return nil, err
			}
			if _, dup := byID[name.lexeme]; dup {
				return nil, errs.At(name.line, name.column,
					fmt.Errorf("board: duplicate node id %q: %w", name.lexeme, errs.ErrSemantic))
			}
			nt, ok := LookupNodeType(canonical.lexeme)
			if !ok {
				return nil, errs.At(canonical.line, canonical.column,
					fmt.Errorf("board: unknown canonical type %q: %w", canonical.lexeme, errs.ErrReference))
			}
			byID[name.lexeme] = uint32(len(c.Nodes))
			c.Nodes = append(c.Nodes, Node{ID: name.lexeme, Type: nt})

		case ctokAt:
			edge, err := p.parseEdge(c, byID, name)
			if err != nil {
				return nil, err
			}
			c.Edges = append(c.Edges, edge)

		default:
			return nil, errs.At(p.tok.line, p.tok.column,
				fmt.Errorf("board: expected '=' or '@' after %q: %w", name.lexeme, errs.ErrSyntax))
		}

		if _, err := p.expect(ctokSemicolon, "';'"); err != nil {
			return nil, err
		}
	}

	if braced {
		if _, err := p.expect(ctokRBrace, "'}'"); err != nil {
			return nil, err
		}
	}
	if p.tok.kind != ctokEOF {
		return nil, errs.At(p.tok.line, p.tok.column,
			fmt.Errorf("board: trailing input %q: %w", p.tok.lexeme, errs.ErrSyntax))
	}
	if len(c.Nodes) == 0 {
		return nil, fmt.Errorf("board: contract declares no nodes: %w", errs.ErrSemantic)
	}
	return c, nil
}

// parseEdge consumes src@port[:class] -> dst@port[:class] with the source
// node name already read.
func (p *contractParser) parseEdge(c *Circuit, byID map[string]uint32, src ctok) (Edge, error) {
	if err := p.bump(); err != nil { // consume '@'
		return Edge{}, err
	}
	srcPort, srcClass, err := p.parsePortRef()
	if err != nil {
		return Edge{}, err
	}
	if _, err := p.expect(ctokArrow, "'->'"); err != nil {
		return Edge{}, err
	}
	dst, err := p.expect(ctokIdent, "a destination node")
	if err != nil {
		return Edge{}, err
	}
	if _, err := p.expect(ctokAt, "'@'"); err != nil {
		return Edge{}, err
	}
	dstPort, dstClass, err := p.parsePortRef()
	if err != nil {
		return Edge{}, err
	}

	srcIdx, ok := byID[src.lexeme]
	if !ok {
		return Edge{}, errs.At(src.line, src.column,
			fmt.Errorf("board: edge references undeclared node %q: %w", src.lexeme, errs.ErrReference))
	}
	dstIdx, ok := byID[dst.lexeme]
	if !ok {
		return Edge{}, errs.At(dst.line, dst.column,
			fmt.Errorf("board: edge references undeclared node %q: %w", dst.lexeme, errs.ErrReference))
	}

	out, ok := c.Nodes[srcIdx].Type.port(srcPort.lexeme, false)
	if !ok {
		return Edge{}, errs.At(srcPort.line, srcPort.column,
			fmt.Errorf("board: node %q has no outbound port %q: %w", src.lexeme, srcPort.lexeme, errs.ErrReference))
	}
	in, ok := c.Nodes[dstIdx].Type.port(dstPort.lexeme, true)
	if !ok {
		return Edge{}, errs.At(dstPort.line, dstPort.column,
			fmt.Errorf("board: node %q has no inbound port %q: %w", dst.lexeme, dstPort.lexeme, errs.ErrReference))
	}

	// An explicit annotation must agree with the declared port class.
	if err := checkAnnotation(srcPort.lexeme, srcClass, out.Class); err != nil {
		return Edge{}, err
	}
	if err := checkAnnotation(dstPort.lexeme, dstClass, in.Class); err != nil {
		return Edge{}, err
	}
	// Signal consumers accept anything; typed ports must match.
	if in.Class != SignalPort && in.Class != out.Class {
		return Edge{}, fmt.Errorf("board: edge %s@%s -> %s@%s: %s incompatible with %s: %w",
			src.lexeme, srcPort.lexeme, dst.lexeme, dstPort.lexeme, out.Class, in.Class, errs.ErrSemantic)
	}

	return Edge{Src: srcIdx, Dst: dstIdx, SrcPort: srcPort.lexeme, DstPort: dstPort.lexeme}, nil
}

// parsePortRef consumes port[:class], returning the port token and the
// optional annotation token.
func (p *contractParser) parsePortRef() (port ctok, class *ctok, err error) {
	port, err = p.expect(ctokIdent, "a port name")
	if err != nil {
		return ctok{}, nil, err
	}
	if p.tok.kind == ctokColon {
		if err := p.bump(); err != nil {
			return ctok{}, nil, err
		}
		c, err := p.expect(ctokIdent, "a port type")
		if err != nil {
			return ctok{}, nil, err
		}
		class = &c
	}
	return port, class, nil
}

func checkAnnotation(portName string, annotation *ctok, declared PortClass) error {
	if annotation == nil {
		return nil
	}
	if annotation.lexeme != declared.String() {
		return errs.At(annotation.line, annotation.column,
			fmt.Errorf("board: port %q is %s, annotated %s: %w", portName, declared, annotation.lexeme, errs.ErrSemantic))
	}
	return nil
}
