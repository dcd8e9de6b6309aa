package runtime

import (
	"fmt"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/kernels"
)

// ProcessedNode is one prepared operation: input pointers resolved into
// peer slots, owned output slots, and exactly one of the three dispatch
// handles. Templates live in the StaticModule with constant inputs bound;
// each StaticRuntime clones them and binds the remaining pointers into its
// own slot arrays.
type ProcessedNode struct {
	node    *graph.Node
	inputs  []*ivalue.IValue
	outputs []ivalue.IValue

	outFn    kernels.OutVariantFn
	nativeFn kernels.NativeFn
	boxedFn  kernels.BoxedFn
}

// newProcessedNode selects the dispatch handle for a node: out-variant
// when enabled and available, else native, else the boxed fallback.
func newProcessedNode(n *graph.Node, inputs []*ivalue.IValue, reg *kernels.Registry, enableOutVariant bool) (ProcessedNode, error) {
	pn := ProcessedNode{
		node:    n,
		inputs:  inputs,
		outputs: make([]ivalue.IValue, len(n.Outputs())),
	}
	if enableOutVariant {
		if pn.outFn = reg.OutVariantFor(n); pn.outFn != nil {
			return pn, nil
		}
	}
	if pn.nativeFn = reg.NativeFor(n); pn.nativeFn != nil {
		return pn, nil
	}
	if pn.boxedFn = reg.BoxedFor(n); pn.boxedFn == nil {
		return ProcessedNode{}, fmt.Errorf("%w: no operator for %s", ErrUnsupportedGraph, n.Kind())
	}
	return pn, nil
}

// clone copies the template for a new runtime: fresh output slots, input
// pointer array copied so the runtime can rebind the unresolved entries.
func (pn *ProcessedNode) clone() ProcessedNode {
	c := *pn
	c.inputs = append([]*ivalue.IValue(nil), pn.inputs...)
	c.outputs = make([]ivalue.IValue, len(pn.outputs))
	return c
}

// Node returns the source graph node.
func (pn *ProcessedNode) Node() *graph.Node { return pn.node }

// NumInputs returns the input arity.
func (pn *ProcessedNode) NumInputs() int { return len(pn.inputs) }

// Input returns the resolved pointer to input slot i.
func (pn *ProcessedNode) Input(i int) *ivalue.IValue { return pn.inputs[i] }

// Output returns the owned output slot i.
func (pn *ProcessedNode) Output(i int) *ivalue.IValue { return &pn.outputs[i] }

// HasOutVariant reports whether the node dispatches to an out-variant
// kernel; only these feed the memory planner.
func (pn *ProcessedNode) HasOutVariant() bool { return pn.outFn != nil }

func (pn *ProcessedNode) setInput(i int, p *ivalue.IValue) { pn.inputs[i] = p }

// run executes the node. Out-variant and native handlers see the frame
// directly; the boxed path materializes a stack, appends the arity for
// variadic operators, and moves the result tail into the owned slots.
func (pn *ProcessedNode) run() error {
	if debugChecks {
		if err := pn.verifyOutputsDontOverlapInputs(); err != nil {
			return err
		}
	}
	switch {
	case pn.outFn != nil:
		return pn.outFn(pn)
	case pn.nativeFn != nil:
		return pn.nativeFn(pn)
	}

	stack := make([]ivalue.IValue, 0, len(pn.inputs)+1)
	for _, in := range pn.inputs {
		stack = append(stack, *in)
	}
	if pn.node.Schema().HasVarArgs() {
		stack = append(stack, ivalue.FromInt(int64(len(pn.inputs))))
	}
	results, err := pn.boxedFn(stack)
	if err != nil {
		return err
	}
	if len(results) != len(pn.outputs) {
		return fmt.Errorf("%w: %s returned %d values, want %d", ErrKernelFailure, pn.node.Kind(), len(results), len(pn.outputs))
	}
	for i := range results {
		pn.outputs[i] = results[i].Move()
	}
	return nil
}

// verifyOutputsDontOverlapInputs is the debug-time probe: an operator with
// an immutable schema must never produce a tensor whose storage overlaps a
// tensor input.
func (pn *ProcessedNode) verifyOutputsDontOverlapInputs() error {
	sch := pn.node.Schema()
	if sch == nil || sch.IsMutable() {
		return nil
	}
	for i, in := range pn.inputs {
		it := in.Tensor()
		if it == nil || !it.Defined() {
			continue
		}
		for j := range pn.outputs {
			ot := pn.outputs[j].Tensor()
			if ot == nil || !ot.Defined() {
				continue
			}
			if ivalue.MemOverlap(it.Storage(), ot.Storage()) {
				return fmt.Errorf("%w: %s input %d overlaps output %d", ErrInputOutputOverlap, pn.node.Kind(), i, j)
			}
		}
	}
	return nil
}

// debugChecks gates the invariant probes that run on every node. On by
// default; benchmarking can switch it off for honest hot-path numbers.
var debugChecks = true

// SetDebugChecks toggles the per-run invariant probes and returns the
// previous setting.
func SetDebugChecks(on bool) bool {
	prev := debugChecks
	debugChecks = on
	return prev
}
