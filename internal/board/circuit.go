// Package board implements the board runtime: compiling a contract's text
// into a circuit of named nodes connected by typed ports, the cooperative
// single-threaded scheduler that steps a payload stream through that circuit,
// binding execution against a wave's schedule and budgets, and the
// process-wide artifact driver registry that persists component state under
// content-addressed directories.
package board

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/cuwacunu/tsi/internal/errs"
)

// PortClass tags what flows through a port.
type PortClass int

const (
	// SignalPort accepts any inbound value; step/info/warn consumers.
	SignalPort PortClass = iota
	// TensorPort carries a tensor payload.
	TensorPort
	// StringPort carries a string (meta:str).
	StringPort
)

func (c PortClass) String() string {
	switch c {
	case TensorPort:
		return "tensor"
	case StringPort:
		return "str"
	default:
		return "signal"
	}
}

// Port is one named, typed endpoint of a node type.
type Port struct {
	Name    string
	Class   PortClass
	Inbound bool
}

// NodeType is the declared port surface of a canonical type.
type NodeType struct {
	Canonical string
	Ports     []Port
}

// IsSource reports whether the type has no inbound ports: it originates the
// payload stream instead of consuming one.
func (t NodeType) IsSource() bool {
	for _, p := range t.Ports {
		if p.Inbound {
			return false
		}
	}
	return true
}

func (t NodeType) port(name string, inbound bool) (Port, bool) {
	for _, p := range t.Ports {
		if p.Name == name && p.Inbound == inbound {
			return p, true
		}
	}
	return Port{}, false
}

// Canonical node types known to the compiler. Components behind the
// non-builtin types are bound at runtime; the compiler only needs the port
// surfaces.
var nodeTypes = struct {
	mu sync.RWMutex
	m  map[string]NodeType
}{m: map[string]NodeType{
	"tsi.source.dataloader": {
		Canonical: "tsi.source.dataloader",
		Ports: []Port{
			{Name: "payload", Class: TensorPort},
			{Name: "meta", Class: StringPort},
		},
	},
	"tsi.sink.null": {
		Canonical: "tsi.sink.null",
		Ports:     []Port{{Name: "step", Class: SignalPort, Inbound: true}},
	},
	"tsi.sink.log.sys": {
		Canonical: "tsi.sink.log.sys",
		Ports:     []Port{{Name: "step", Class: SignalPort, Inbound: true}},
	},
	"tsi.wikimyei.representation.vicreg": {
		Canonical: "tsi.wikimyei.representation.vicreg",
		Ports: []Port{
			{Name: "step", Class: SignalPort, Inbound: true},
			{Name: "payload", Class: TensorPort},
			{Name: "loss", Class: TensorPort},
			{Name: "info", Class: StringPort},
			{Name: "warn", Class: StringPort},
			{Name: "meta", Class: StringPort},
		},
	},
}}

// RegisterNodeType declares an additional canonical type. Registration is
// one-shot per canonical name.
func RegisterNodeType(t NodeType) error {
	nodeTypes.mu.Lock()
	defer nodeTypes.mu.Unlock()
	if _, exists := nodeTypes.m[t.Canonical]; exists {
		return fmt.Errorf("board: node type %q already registered: %w", t.Canonical, errs.ErrSemantic)
	}
	nodeTypes.m[t.Canonical] = t
	return nil
}

// LookupNodeType resolves a canonical type string.
func LookupNodeType(canonical string) (NodeType, bool) {
	nodeTypes.mu.RLock()
	defer nodeTypes.mu.RUnlock()
	t, ok := nodeTypes.m[canonical]
	return t, ok
}

// Node is one compiled circuit node. Nodes live in the circuit's arena and
// reference each other only through edge indices, never pointers.
type Node struct {
	ID   string
	Type NodeType
}

// Edge connects src@SrcPort to dst@DstPort by node index.
type Edge struct {
	Src     uint32
	Dst     uint32
	SrcPort string
	DstPort string
}

// Circuit is a compiled board contract: the node arena, the edge list,
// per-node inbound/outbound edge indices, and the topological visit order
// the scheduler follows.
type Circuit struct {
	Nodes    []Node
	Edges    []Edge
	Inbound  [][]int
	Outbound [][]int
	Order    []uint32

	// Hash fingerprints the contract text the circuit was compiled from.
	Hash string
}

// NodeIndex resolves a node id to its arena index.
func (c *Circuit) NodeIndex(id string) (uint32, bool) {
	for i, n := range c.Nodes {
		if n.ID == id {
			return uint32(i), true
		}
	}
	return 0, false
}

// finalize validates edges and computes the deterministic topological order.
func (c *Circuit) finalize() error {
	n := len(c.Nodes)
	c.Inbound = make([][]int, n)
	c.Outbound = make([][]int, n)
	for ei, e := range c.Edges {
		c.Outbound[e.Src] = append(c.Outbound[e.Src], ei)
		c.Inbound[e.Dst] = append(c.Inbound[e.Dst], ei)
	}

	// Every node that consumes a step must have at least one inbound edge on
	// its step port.
	for i, node := range c.Nodes {
		if _, hasStep := node.Type.port("step", true); !hasStep {
			continue
		}
		found := false
		for _, ei := range c.Inbound[i] {
			if c.Edges[ei].DstPort == "step" {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("board: node %q has no inbound edge on its step port: %w", node.ID, errs.ErrSemantic)
		}
	}

	// Kahn's algorithm; ready nodes are taken in ascending index so the
	// order between independent sibling subgraphs is unspecified by the
	// contract but deterministic given the compiled graph.
	indeg := make([]int, n)
	for _, e := range c.Edges {
		indeg[e.Dst]++
	}
	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	c.Order = c.Order[:0]
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		c.Order = append(c.Order, uint32(i))
		for _, ei := range c.Outbound[i] {
			dst := int(c.Edges[ei].Dst)
			indeg[dst]--
			if indeg[dst] == 0 {
				ready = append(ready, dst)
			}
		}
	}
	if len(c.Order) != n {
		return fmt.Errorf("board: contract contains a cycle: %w", errs.ErrSemantic)
	}
	return nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
