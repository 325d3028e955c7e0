// Package dsl implements the instruction lexer and parser that walk a
// bnf.ProductionGrammar to turn DSL instruction text into an AST, plus the
// visitor dispatch mechanism that folds that AST into typed instruction
// records (package pipeline).
package dsl

import (
	"fmt"

	"github.com/cuwacunu/tsi/internal/bnf"
)

// NodeKind tags the AST node variant.
type NodeKind int

const (
	RootNode NodeKind = iota
	IntermediaryNode
	TerminalNode
)

func (k NodeKind) String() string {
	switch k {
	case RootNode:
		return "Root"
	case IntermediaryNode:
		return "Intermediary"
	case TerminalNode:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Node is the single polymorphic AST node type. Root and Intermediary carry
// an LHS rule name and children matching the chosen alternative's unit
// sequence in order; Terminal carries the matched production unit verbatim
// (its Lexeme is the literal text consumed from the instruction, not the
// grammar's declared lexeme, so visitors see actual values).
type Node struct {
	Kind     NodeKind
	LHS      string
	AltIndex int
	Unit     bnf.ProductionUnit
	Children []*Node
}

func (n *Node) String() string {
	switch n.Kind {
	case TerminalNode:
		return fmt.Sprintf("Terminal(%q)", n.Unit.Lexeme)
	default:
		return fmt.Sprintf("%s(%s)[alt %d, %d children]", n.Kind, n.LHS, n.AltIndex, len(n.Children))
	}
}

// VisitorContext is the stack of Root/Intermediary nodes currently open
// during a depth-first walk, plus an opaque user-data record visitors mutate
// in place. Visitors identify "where they are" by comparing the LHS names
// along Path() against the context path table of the pipeline driving them.
type VisitorContext struct {
	stack    []*Node
	UserData any
}

// NewVisitorContext creates a context carrying the given user-data record.
func NewVisitorContext(userData any) *VisitorContext {
	return &VisitorContext{UserData: userData}
}

func (c *VisitorContext) push(n *Node) { c.stack = append(c.stack, n) }
func (c *VisitorContext) pop()         { c.stack = c.stack[:len(c.stack)-1] }

// Depth returns the number of Root/Intermediary nodes currently open.
func (c *VisitorContext) Depth() int { return len(c.stack) }

// Path returns the LHS names of every open node, root-first, the sequence a
// visitor compares against its own path table to decide what to write.
func (c *VisitorContext) Path() []string {
	path := make([]string, len(c.stack))
	for i, n := range c.stack {
		path[i] = n.LHS
	}
	return path
}

// Top returns the innermost currently-open node, or nil if the stack is
// empty (only possible before the walk begins).
func (c *VisitorContext) Top() *Node {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

// Visitor is implemented by pipeline-specific folders that turn an AST into
// a typed instruction record carried in VisitorContext.UserData.
type Visitor interface {
	VisitRoot(node *Node, ctx *VisitorContext) error
	VisitIntermediary(node *Node, ctx *VisitorContext) error
	VisitTerminal(node *Node, ctx *VisitorContext) error
}

// Walk performs the depth-first traversal described in §4.3: the visitor is
// invoked on entry to Root/Intermediary nodes (with that node already pushed
// onto the context stack so Path() reflects "where we are"), then on every
// Terminal child, recursing in order before popping back off the stack.
func Walk(n *Node, v Visitor, ctx *VisitorContext) error {
	switch n.Kind {
	case RootNode:
		ctx.push(n)
		defer ctx.pop()
		if err := v.VisitRoot(n, ctx); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := Walk(c, v, ctx); err != nil {
				return err
			}
		}
		return nil
	case IntermediaryNode:
		ctx.push(n)
		defer ctx.pop()
		if err := v.VisitIntermediary(n, ctx); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := Walk(c, v, ctx); err != nil {
				return err
			}
		}
		return nil
	case TerminalNode:
		return v.VisitTerminal(n, ctx)
	default:
		return fmt.Errorf("dsl: unknown node kind %v", n.Kind)
	}
}
