// Package testutil provides the shared test harness: tensor literals,
// graph builders for the common test topologies, a naïve reference
// executor, and a seeded random-DAG generator for the property tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/kernels"
)

// MustTensor builds a tensor literal, failing the test on shape mismatch.
func MustTensor(t *testing.T, values []float32, shape ...int64) *ivalue.Tensor {
	t.Helper()
	tensor, err := ivalue.FromFloats(values, shape...)
	if err != nil {
		t.Fatalf("building tensor: %v", err)
	}
	return tensor
}

// TwoStepAdd builds y = add(x, x); z = add(y, y) with output z.
func TwoStepAdd() *graph.Graph {
	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	y := g.AddOp("aten::add", "y", graph.TensorType, x, x)
	z := g.AddOp("aten::add", "z", graph.TensorType, y, y)
	g.RegisterOutput(z)
	return g
}

// EscapingOutput builds y = relu(x); z = add(y, y) with outputs y, z.
func EscapingOutput() *graph.Graph {
	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	y := g.AddOp("aten::relu", "y", graph.TensorType, x)
	z := g.AddOp("aten::add", "z", graph.TensorType, y, y)
	g.RegisterOutput(y)
	g.RegisterOutput(z)
	return g
}

// Identity builds a graph whose sole output is its input.
func Identity() *graph.Graph {
	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	g.RegisterOutput(x)
	return g
}

// ConstantPassthrough builds a graph returning one tensor constant.
func ConstantPassthrough(t *testing.T, values []float32, shape ...int64) *graph.Graph {
	g := graph.New()
	c := g.AddConstant("c", graph.TensorType, ivalue.FromTensor(MustTensor(t, values, shape...)))
	g.RegisterOutput(c)
	return g
}

// ViewChain builds v = view(x, sizes); z = add(v, v) with output z. The
// alias database reports v may alias x.
func ViewChain(sizes []int64) *graph.Graph {
	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	elems := make([]ivalue.IValue, len(sizes))
	for i, s := range sizes {
		elems[i] = ivalue.FromInt(s)
	}
	sz := g.AddConstant("sizes", graph.ListType, ivalue.FromList(elems))
	v := g.AddOp("aten::view", "v", graph.TensorType, x, sz)
	z := g.AddOp("aten::add", "z", graph.TensorType, v, v)
	g.RegisterOutput(z)
	return g
}

// ReferenceRun executes a graph naïvely: every op through its boxed
// kernel, allocating freshly, no planning anywhere. The runtime's outputs
// must be bit-equal to this under every option combination.
func ReferenceRun(g *graph.Graph, inputs []ivalue.IValue) ([]ivalue.IValue, error) {
	if err := g.Freeze(); err != nil {
		return nil, err
	}
	if len(inputs) != len(g.Inputs()) {
		return nil, fmt.Errorf("reference: got %d inputs, want %d", len(inputs), len(g.Inputs()))
	}
	reg := kernels.Default()

	env := make(map[*graph.Value]ivalue.IValue)
	for i, in := range g.Inputs() {
		env[in] = inputs[i]
	}
	for _, n := range g.Nodes() {
		if n.IsConstant() {
			env[n.Outputs()[0]] = n.Payload()
			continue
		}
		boxed := reg.BoxedFor(n)
		if boxed == nil {
			return nil, fmt.Errorf("reference: no boxed op for %s", n.Kind())
		}
		stack := make([]ivalue.IValue, 0, len(n.Inputs())+1)
		for _, in := range n.Inputs() {
			stack = append(stack, env[in])
		}
		if n.Schema().HasVarArgs() {
			stack = append(stack, ivalue.FromInt(int64(len(n.Inputs()))))
		}
		results, err := boxed(stack)
		if err != nil {
			return nil, fmt.Errorf("reference: %s: %w", n.Kind(), err)
		}
		if len(results) != len(n.Outputs()) {
			return nil, fmt.Errorf("reference: %s returned %d values, want %d", n.Kind(), len(results), len(n.Outputs()))
		}
		for i, out := range n.Outputs() {
			env[out] = results[i]
		}
	}

	outs := make([]ivalue.IValue, len(g.Outputs()))
	for i, out := range g.Outputs() {
		outs[i] = env[out]
	}
	return outs, nil
}
