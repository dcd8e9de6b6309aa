// Package runtime executes frozen dataflow graphs with no per-operation
// dispatch overhead: a StaticModule compiles the graph into a flat vector
// of prepared nodes once, and each StaticRuntime interprets that vector
// linearly, reusing one arena for intermediate tensor storage run over
// run. See DESIGN.md for the provenance of the algorithms.
package runtime

import (
	"context"
	"fmt"

	"github.com/vk/staticgrid/internal/ctxlog"
	"github.com/vk/staticgrid/internal/ivalue"
)

// StaticRuntime is the per-invocation executor. It owns its input slots,
// its ProcessedNode copies, and its memory planner; it is not safe for
// concurrent entry. Pool several runtimes over one StaticModule for
// parallel serving.
type StaticRuntime struct {
	module *StaticModule

	// inputs and nodes are sized at construction and never reallocated:
	// node input pointers lead into them.
	inputs []ivalue.IValue
	nodes  []ProcessedNode

	outputs          []*ivalue.IValue
	outputIsConstant []bool

	planner *MemoryPlanner
}

// NewRuntime prepares an executor for the module: templates are cloned
// and every unresolved input pointer is bound to this runtime's input
// slots, the module's constant cells, or an earlier node's output slot.
func NewRuntime(sm *StaticModule) *StaticRuntime {
	rt := &StaticRuntime{
		module: sm,
		inputs: make([]ivalue.IValue, sm.NumInputs()),
		nodes:  make([]ProcessedNode, len(sm.nodes)),
	}

	for idx := range sm.nodes {
		rt.nodes[idx] = sm.nodes[idx].clone()
		pn := &rt.nodes[idx]
		for i := 0; i < pn.NumInputs(); i++ {
			if pn.Input(i) != nil {
				continue // constant, already bound by the template
			}
			def := sm.inputDefs[idx][i]
			switch def.Node {
			case OriginInput:
				pn.setInput(i, &rt.inputs[def.Index])
			case OriginConstant:
				pn.setInput(i, &sm.constants[def.Index])
			default:
				pn.setInput(i, rt.nodes[def.Node].Output(def.Index))
			}
		}
	}

	for _, def := range sm.outputDefs {
		switch def.Node {
		case OriginInput:
			rt.outputs = append(rt.outputs, &rt.inputs[def.Index])
			rt.outputIsConstant = append(rt.outputIsConstant, false)
		case OriginConstant:
			// A graph returning a constant hands out the pool cell; the
			// gather below copies instead of moving so the pool survives.
			rt.outputs = append(rt.outputs, &sm.constants[def.Index])
			rt.outputIsConstant = append(rt.outputIsConstant, true)
		default:
			rt.outputs = append(rt.outputs, rt.nodes[def.Node].Output(def.Index))
			rt.outputIsConstant = append(rt.outputIsConstant, false)
		}
	}
	return rt
}

// Module returns the owning StaticModule.
func (rt *StaticRuntime) Module() *StaticModule { return rt.module }

// Nodes exposes the prepared nodes; the planner and the benchmark walk
// them in execution order.
func (rt *StaticRuntime) Nodes() []ProcessedNode { return rt.nodes }

// Planner returns the memory planner, nil before the first completed run
// with CleanupActivations set.
func (rt *StaticRuntime) Planner() *MemoryPlanner { return rt.planner }

func (rt *StaticRuntime) setInputs(args []ivalue.IValue, kwargs map[string]ivalue.IValue) error {
	sm := rt.module
	if len(kwargs) > 0 {
		if sm.schema == nil {
			return fmt.Errorf("%w: keyword invocation requires a module schema", ErrMissingSchema)
		}
		stack := make([]ivalue.IValue, 0, len(rt.inputs))
		if sm.firstInputIsSelf {
			stack = append(stack, sm.selfValue)
		}
		stack = append(stack, args...)
		normalized, err := sm.schema.CheckAndNormalizeInputs(stack, kwargs)
		if err != nil {
			return err
		}
		if len(normalized) != len(rt.inputs) {
			return fmt.Errorf("%w: schema produced %d inputs, graph wants %d", ErrArityMismatch, len(normalized), len(rt.inputs))
		}
		copy(rt.inputs, normalized)
		return nil
	}

	if sm.firstInputIsSelf {
		if len(args)+1 != len(rt.inputs) {
			return fmt.Errorf("%w: got %d args, want %d", ErrArityMismatch, len(args), len(rt.inputs)-1)
		}
		rt.inputs[0] = sm.selfValue
		copy(rt.inputs[1:], args)
		return nil
	}
	if len(args) != len(rt.inputs) {
		return fmt.Errorf("%w: got %d args, want %d", ErrArityMismatch, len(args), len(rt.inputs))
	}
	copy(rt.inputs, args)
	return nil
}

// cleanUpInputIValues resets the input slots so the references they own
// are released at the end of a cleaned-up run.
func (rt *StaticRuntime) cleanUpInputIValues() {
	for i := range rt.inputs {
		rt.inputs[i].Reset()
	}
}

// Invoke runs the graph once. Inference is the only mode there is: the
// value library keeps no autograd state, so nothing needs disabling per
// call. Multiple graph outputs come back as a tuple.
func (rt *StaticRuntime) Invoke(ctx context.Context, args []ivalue.IValue, kwargs map[string]ivalue.IValue) (ivalue.IValue, error) {
	if rt.planner != nil {
		rt.planner.allocate()
	}

	if err := rt.setInputs(args, kwargs); err != nil {
		return ivalue.None(), err
	}

	for i := range rt.nodes {
		if err := rt.nodes[i].run(); err != nil {
			return ivalue.None(), fmt.Errorf("node %d (%s): %w", i, rt.nodes[i].Node().Kind(), err)
		}
	}

	// Gather before cleanup: an output slot may be an input slot (identity
	// graphs), and the input reset below must not eat the result.
	out := rt.gatherOutputs()

	if rt.module.opts.CleanupActivations {
		// The planner is created after the first completed run on
		// purpose: it learns storage sizes from the tensors this run
		// produced.
		if rt.planner == nil {
			rt.planner = newMemoryPlanner(rt)
		}
		rt.planner.deallocate()
		rt.cleanUpInputIValues()
		if debugChecks {
			if err := rt.CheckForMemoryLeak(true); err != nil {
				return ivalue.None(), err
			}
		}
	}

	return out, nil
}

func (rt *StaticRuntime) gatherOutputs() ivalue.IValue {
	take := func(i int) ivalue.IValue {
		if rt.outputIsConstant[i] {
			return *rt.outputs[i]
		}
		return rt.outputs[i].Move()
	}
	if len(rt.outputs) == 1 {
		return take(0)
	}
	outs := make([]ivalue.IValue, len(rt.outputs))
	for i := range rt.outputs {
		outs[i] = take(i)
	}
	return ivalue.FromTuple(outs)
}

// InvokeTensors is the tensor-list convenience overload.
func (rt *StaticRuntime) InvokeTensors(ctx context.Context, inputs []*ivalue.Tensor) ([]*ivalue.Tensor, error) {
	args := make([]ivalue.IValue, len(inputs))
	for i, t := range inputs {
		args[i] = ivalue.FromTensor(t)
	}
	out, err := rt.Invoke(ctx, args, nil)
	if err != nil {
		return nil, err
	}
	if out.Kind() == ivalue.KindTuple {
		elems := out.Elems()
		tensors := make([]*ivalue.Tensor, len(elems))
		for i := range elems {
			if tensors[i] = elems[i].Tensor(); tensors[i] == nil {
				return nil, fmt.Errorf("%w: output %d is %s, want Tensor", ErrTypeMismatch, i, elems[i].Kind())
			}
		}
		return tensors, nil
	}
	t := out.Tensor()
	if t == nil {
		return nil, fmt.Errorf("%w: output is %s, want Tensor", ErrTypeMismatch, out.Kind())
	}
	return []*ivalue.Tensor{t}, nil
}

// CheckForMemoryLeak verifies that a cleaned-up runtime holds no stray
// references: input slots are None, every non-output intermediate slot is
// None (or a storage-reset tensor / leaked container), and — when
// outputReturned — the output slots are None too. A no-op unless
// CleanupActivations is set.
func (rt *StaticRuntime) CheckForMemoryLeak(outputReturned bool) error {
	if !rt.module.opts.CleanupActivations {
		return nil
	}

	for i := range rt.inputs {
		if !rt.inputs[i].IsNone() {
			return fmt.Errorf("%w: input %d was not cleaned up", ErrMemoryLeak, i)
		}
	}

	outputSlots := make(map[*ivalue.IValue]bool, len(rt.outputs))
	for _, o := range rt.outputs {
		outputSlots[o] = true
	}
	for n := range rt.nodes {
		pn := &rt.nodes[n]
		for i := range pn.outputs {
			slot := pn.Output(i)
			val := pn.Node().Outputs()[i]
			if outputSlots[slot] {
				if outputReturned && !slot.IsNone() {
					return fmt.Errorf("%w: output %d (%%%s) of node %d was not cleaned up", ErrMemoryLeak, i, val.Name(), n)
				}
				continue
			}
			if slot.IsNone() {
				continue
			}
			if t := slot.Tensor(); t != nil {
				if t.Defined() {
					return fmt.Errorf("%w: output %d (%%%s) of node %d still holds storage", ErrMemoryLeak, i, val.Name(), n)
				}
				continue
			}
			if !rt.module.reg.IsOptimizableContainerType(pn.Node()) {
				return fmt.Errorf("%w: output %d (%%%s) of node %d was not cleaned up", ErrMemoryLeak, i, val.Name(), n)
			}
		}
	}
	return nil
}

// DisplayNodes runs the graph once, dumping every node's inputs and
// outputs after it executes. Debugging aid; follows the same planner
// lifecycle as Invoke.
func (rt *StaticRuntime) DisplayNodes(ctx context.Context, args []ivalue.IValue, kwargs map[string]ivalue.IValue) error {
	logger := ctxlog.FromContext(ctx)
	if rt.planner != nil {
		rt.planner.allocate()
	}
	if err := rt.setInputs(args, kwargs); err != nil {
		return err
	}
	for i := range rt.nodes {
		pn := &rt.nodes[i]
		if err := pn.run(); err != nil {
			return fmt.Errorf("node %d (%s): %w", i, pn.Node().Kind(), err)
		}
		logger.Info("Node executed.", "index", i, "node", pn.Node().String())
		for j := 0; j < pn.NumInputs(); j++ {
			logger.Info("  input", "index", j, "value", pn.Input(j).Summary())
		}
		for j := range pn.outputs {
			logger.Info("  output", "index", j, "value", pn.Output(j).Summary())
		}
	}
	if rt.module.opts.CleanupActivations {
		if rt.planner == nil {
			rt.planner = newMemoryPlanner(rt)
		}
		rt.planner.deallocate()
		rt.cleanUpInputIValues()
	}
	return nil
}
