package board

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cuwacunu/tsi/internal/dataloader"
	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/mathx"
	"github.com/cuwacunu/tsi/internal/tensor"
)

// PortValue is one value emitted on a node's outbound port during a step.
// Exactly one of Tensor/Str is meaningful, selected by the port's class.
type PortValue struct {
	Port   string
	Tensor *tensor.Tensor
	Mask   *tensor.Mask
	Str    string
}

// Component is the capability set behind a non-source node: consume the
// inbound values at its step port, optionally emit on its outbound ports.
// Heavy work (model forward/backward) lives behind this interface; the
// scheduler itself never blocks.
type Component interface {
	Step(ctx context.Context, inputs []PortValue) ([]PortValue, error)
}

// Source feeds the circuit's source node, one batch per circuit step.
type Source interface {
	NextBatch(ctx context.Context) (*dataloader.Batch, error)
}

// NullSink discards its inputs.
type NullSink struct{}

func (NullSink) Step(context.Context, []PortValue) ([]PortValue, error) { return nil, nil }

// SysLogSink writes a one-line summary of each inbound value to stderr.
type SysLogSink struct{}

func (SysLogSink) Step(_ context.Context, inputs []PortValue) ([]PortValue, error) {
	for _, in := range inputs {
		switch {
		case in.Tensor != nil:
			fmt.Fprintf(os.Stderr, "[board] %s shape=%v\n", in.Port, in.Tensor.Shape)
		case in.Str != "":
			fmt.Fprintf(os.Stderr, "[board] %s %s\n", in.Port, in.Str)
		}
	}
	return nil, nil
}

// Passthrough re-emits the first inbound tensor on its payload port. It
// stands in for a representation component when a contract is exercised
// without a trained model behind it.
type Passthrough struct{}

func (Passthrough) Step(_ context.Context, inputs []PortValue) ([]PortValue, error) {
	for _, in := range inputs {
		if in.Tensor != nil {
			return []PortValue{{Port: "payload", Tensor: in.Tensor, Mask: in.Mask}}, nil
		}
	}
	return nil, nil
}

// Runtime is a compiled circuit bound to a source and to the components
// behind its non-builtin nodes. Stepping is single-threaded and cooperative.
type Runtime struct {
	circuit    *Circuit
	source     Source
	components map[uint32]Component
}

// NewRuntime binds a circuit to its source. Builtin sink types are bound
// automatically; every other non-source node needs a Bind call before the
// first Step.
func NewRuntime(c *Circuit, source Source) (*Runtime, error) {
	nSources := 0
	for _, n := range c.Nodes {
		if n.Type.IsSource() {
			nSources++
		}
	}
	if nSources != 1 {
		return nil, fmt.Errorf("board: contract has %d source nodes, want exactly 1: %w", nSources, errs.ErrSemantic)
	}
	if source == nil {
		return nil, fmt.Errorf("board: nil source: %w", errs.ErrSemantic)
	}

	r := &Runtime{circuit: c, source: source, components: make(map[uint32]Component)}
	for i, n := range c.Nodes {
		switch n.Type.Canonical {
		case "tsi.sink.null":
			r.components[uint32(i)] = NullSink{}
		case "tsi.sink.log.sys":
			r.components[uint32(i)] = SysLogSink{}
		}
	}
	return r, nil
}

// Bind attaches the component behind a named node.
func (r *Runtime) Bind(nodeID string, comp Component) error {
	idx, ok := r.circuit.NodeIndex(nodeID)
	if !ok {
		return fmt.Errorf("board: unknown node %q: %w", nodeID, errs.ErrReference)
	}
	if r.circuit.Nodes[idx].Type.IsSource() {
		return fmt.Errorf("board: node %q is the source, bind a Source instead: %w", nodeID, errs.ErrSemantic)
	}
	r.components[idx] = comp
	return nil
}

// StepResult aggregates what one circuit step produced.
type StepResult struct {
	// Losses holds the batch-mean of every tensor emitted on a loss port.
	Losses []float64
}

// Step runs the circuit once: pull one batch from the source, propagate it
// along outbound edges in topological order, visit every node exactly once.
// Source exhaustion surfaces as io.EOF.
func (r *Runtime) Step(ctx context.Context) (StepResult, error) {
	var res StepResult
	outputs := make([][]PortValue, len(r.circuit.Nodes))

	for _, idx := range r.circuit.Order {
		node := r.circuit.Nodes[idx]

		if node.Type.IsSource() {
			batch, err := r.source.NextBatch(ctx)
			if err != nil {
				return res, err
			}
			outputs[idx] = []PortValue{
				{Port: "payload", Tensor: batch.Data, Mask: batch.Mask},
				{Port: "meta", Str: fmt.Sprintf("batch samples=%v", batch.Indices)},
			}
			continue
		}

		comp, ok := r.components[idx]
		if !ok {
			return res, fmt.Errorf("board: no component bound for node %q (%s): %w",
				node.ID, node.Type.Canonical, errs.ErrNoDriver)
		}

		// Gather the values arriving on this node's inbound edges, renamed
		// to the destination port so the component sees its own surface.
		var inputs []PortValue
		for _, ei := range r.circuit.Inbound[idx] {
			e := r.circuit.Edges[ei]
			for _, out := range outputs[e.Src] {
				if out.Port != e.SrcPort {
					continue
				}
				in := out
				in.Port = e.DstPort
				inputs = append(inputs, in)
			}
		}

		outs, err := comp.Step(ctx, inputs)
		if err != nil {
			return res, fmt.Errorf("board: node %q: %w", node.ID, err)
		}
		outputs[idx] = outs

		for _, out := range outs {
			if out.Port == "loss" && out.Tensor != nil {
				res.Losses = append(res.Losses, tensorMean(out.Tensor))
			}
		}
	}
	return res, nil
}

func tensorMean(t *tensor.Tensor) float64 {
	if len(t.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum / float64(len(t.Data))
}

// Wave is a training/inference schedule: how many steps of the bound
// contract to run and which sampler drove the pass. Steps == 0 runs until
// the source is exhausted.
type Wave struct {
	ID      string
	Steps   int
	Sampler string
	Seed    int64
}

// Hash fingerprints the wave's schedule for run records.
func (w Wave) Hash() string {
	return hashText(fmt.Sprintf("%s|%d|%s|%d", w.ID, w.Steps, w.Sampler, w.Seed))
}

// Binding pairs a contract with a wave for execution.
type Binding struct {
	ID       string
	Contract *Circuit
	Wave     Wave
}

// Budget bounds a binding run independently of the wave's own schedule.
// Zero fields are unlimited.
type Budget struct {
	MaxSteps  int
	Wallclock time.Duration
}

// RunRecord accumulates what a binding run did. It is returned even when
// the run terminates on cancellation or budget exhaustion, carrying the
// partial step counts.
type RunRecord struct {
	RunID        string
	BindingID    string
	ContractHash string
	WaveHash     string

	TotalSteps int

	LossCount int64
	LossMean  float64
	LossStd   float64
	LossMin   float64
	LossMax   float64

	Sampler string
	Seed    int64

	Started time.Time
	Elapsed time.Duration
}

// RunBinding executes a binding: repeatedly step the circuit until the
// wave's schedule completes, the source exhausts, the budget fires, or ctx
// is cancelled. The cancel flag is checked between steps only; a step always
// runs to completion.
func (r *Runtime) RunBinding(ctx context.Context, b Binding, budget Budget) (rec RunRecord, err error) {
	rec = RunRecord{
		RunID:        uuid.NewString(),
		BindingID:    b.ID,
		ContractHash: b.Contract.Hash,
		WaveHash:     b.Wave.Hash(),
		Sampler:      b.Wave.Sampler,
		Seed:         b.Wave.Seed,
		Started:      time.Now(),
	}
	loss := mathx.NewWelford()
	defer func() {
		rec.Elapsed = time.Since(rec.Started)
		rec.LossCount = loss.Count()
		if loss.Count() > 0 {
			rec.LossMean = loss.Mean()
			rec.LossStd = loss.Std()
			rec.LossMin = loss.Min()
			rec.LossMax = loss.Max()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return rec, fmt.Errorf("board: binding %q: %w", b.ID, errs.ErrCancelled)
		}
		if budget.Wallclock > 0 && time.Since(rec.Started) >= budget.Wallclock {
			return rec, fmt.Errorf("board: binding %q wallclock budget: %w", b.ID, errs.ErrBudgetExhausted)
		}
		if budget.MaxSteps > 0 && rec.TotalSteps >= budget.MaxSteps {
			return rec, fmt.Errorf("board: binding %q step budget: %w", b.ID, errs.ErrBudgetExhausted)
		}
		if b.Wave.Steps > 0 && rec.TotalSteps >= b.Wave.Steps {
			return rec, nil
		}

		res, err := r.Step(ctx)
		if err == io.EOF {
			return rec, nil
		}
		if err != nil {
			return rec, err
		}
		rec.TotalSteps++
		for _, l := range res.Losses {
			loss.Update(l)
		}
	}
}
