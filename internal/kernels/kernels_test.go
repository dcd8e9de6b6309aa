package kernels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

// testFrame is a minimal Frame for exercising kernels directly.
type testFrame struct {
	node    *graph.Node
	inputs  []*ivalue.IValue
	outputs []ivalue.IValue
}

func (f *testFrame) NumInputs() int              { return len(f.inputs) }
func (f *testFrame) Input(i int) *ivalue.IValue  { return f.inputs[i] }
func (f *testFrame) Output(i int) *ivalue.IValue { return &f.outputs[i] }
func (f *testFrame) Node() *graph.Node           { return f.node }

func frameFor(t *testing.T, kind string, ins ...ivalue.IValue) *testFrame {
	t.Helper()
	g := graph.New()
	var vals []*graph.Value
	for range ins {
		vals = append(vals, g.AddInput("i", graph.TensorType))
	}
	n := g.AddNode(kind, vals, []string{"o"}, []graph.Type{graph.TensorType})
	f := &testFrame{node: n, outputs: make([]ivalue.IValue, 1)}
	for i := range ins {
		f.inputs = append(f.inputs, &ins[i])
	}
	return f
}

func tensorOf(t *testing.T, values []float32, shape ...int64) *ivalue.Tensor {
	t.Helper()
	tensor, err := ivalue.FromFloats(values, shape...)
	require.NoError(t, err)
	return tensor
}

func TestOutVariantMatchesBoxed(t *testing.T) {
	t.Parallel()

	reg := Default()
	x := []float32{-1, 0.5, 2, -3}
	y := []float32{4, 0.25, -1, 1}

	cases := []struct {
		kind string
		ins  func(t *testing.T) []ivalue.IValue
	}{
		{"aten::add", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4)), ivalue.FromTensor(tensorOf(t, y, 4))}
		}},
		{"aten::sub", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4)), ivalue.FromTensor(tensorOf(t, y, 4))}
		}},
		{"aten::mul", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4)), ivalue.FromTensor(tensorOf(t, y, 4))}
		}},
		{"aten::relu", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4))}
		}},
		{"aten::sigmoid", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4))}
		}},
		{"aten::tanh", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 4))}
		}},
		{"aten::matmul", func(t *testing.T) []ivalue.IValue {
			return []ivalue.IValue{ivalue.FromTensor(tensorOf(t, x, 2, 2)), ivalue.FromTensor(tensorOf(t, y, 2, 2))}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			t.Parallel()

			f := frameFor(t, tc.kind, tc.ins(t)...)
			outFn := reg.OutVariantFor(f.Node())
			require.NotNil(t, outFn)
			require.NoError(t, outFn(f))

			stack := make([]ivalue.IValue, 0, f.NumInputs())
			ins := tc.ins(t)
			stack = append(stack, ins...)
			boxed := reg.BoxedFor(f.Node())
			require.NotNil(t, boxed)
			results, err := boxed(stack)
			require.NoError(t, err)
			require.Len(t, results, 1)

			require.True(t, f.Output(0).Equal(&results[0]),
				"out-variant and boxed results must be bit-equal")
		})
	}
}

func TestOutVariant_ReusesStorage(t *testing.T) {
	t.Parallel()

	reg := Default()
	in := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4}, 4))
	f := frameFor(t, "aten::relu", in)
	outFn := reg.OutVariantFor(f.Node())

	require.NoError(t, outFn(f))
	st := f.Output(0).Tensor().Storage()

	// Steady state: the destination storage must be reused, not replaced.
	require.NoError(t, outFn(f))
	require.Same(t, st, f.Output(0).Tensor().Storage())
}

func TestMatmul(t *testing.T) {
	t.Parallel()

	a := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3))
	b := ivalue.FromTensor(tensorOf(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2))
	f := frameFor(t, "aten::matmul", a, b)
	require.NoError(t, Default().OutVariantFor(f.Node())(f))

	out := f.Output(0).Tensor()
	require.Equal(t, []int64{2, 2}, out.Shape())
	require.Equal(t, []float32{58, 64, 139, 154}, out.Floats())
}

func TestMatmul_ShapeMismatch(t *testing.T) {
	t.Parallel()

	a := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4}, 2, 2))
	b := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3}, 3))
	f := frameFor(t, "aten::matmul", a, b)
	err := Default().OutVariantFor(f.Node())(f)
	require.ErrorIs(t, err, ErrKernelFailure)
}

func TestCat(t *testing.T) {
	t.Parallel()

	a := ivalue.FromTensor(tensorOf(t, []float32{1, 2}, 1, 2))
	b := ivalue.FromTensor(tensorOf(t, []float32{3, 4, 5, 6}, 2, 2))
	f := frameFor(t, "aten::cat", a, b)
	require.NoError(t, Default().OutVariantFor(f.Node())(f))

	out := f.Output(0).Tensor()
	require.Equal(t, []int64{3, 2}, out.Shape())
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out.Floats())

	// Boxed form takes the arity as the trailing stack entry.
	stack := []ivalue.IValue{a, b, ivalue.FromInt(2)}
	results, err := Default().BoxedFor(f.Node())(stack)
	require.NoError(t, err)
	require.True(t, f.Output(0).Equal(&results[0]))
}

func TestView(t *testing.T) {
	t.Parallel()

	in := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3))
	sizes := ivalue.FromList([]ivalue.IValue{ivalue.FromInt(3), ivalue.FromInt(-1)})
	f := frameFor(t, "aten::view", in, sizes)
	require.NoError(t, Default().NativeFor(f.Node())(f))

	out := f.Output(0).Tensor()
	require.Equal(t, []int64{3, 2}, out.Shape(), "-1 is inferred from the element count")
	require.Same(t, in.Tensor().Storage(), out.Storage(), "views allocate nothing")
}

func TestView_BadSizes(t *testing.T) {
	t.Parallel()

	in := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4}, 4))
	sizes := ivalue.FromList([]ivalue.IValue{ivalue.FromInt(3)})
	f := frameFor(t, "aten::view", in, sizes)
	require.ErrorIs(t, Default().NativeFor(f.Node())(f), ErrKernelFailure)
}

func TestTranspose(t *testing.T) {
	t.Parallel()

	in := ivalue.FromTensor(tensorOf(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3))
	f := frameFor(t, "aten::transpose", in)
	require.NoError(t, Default().NativeFor(f.Node())(f))

	out := f.Output(0).Tensor()
	require.Equal(t, []int64{3, 2}, out.Shape())
	require.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Floats())
}

func TestListConstruct_ReusesBackingArray(t *testing.T) {
	t.Parallel()

	a := ivalue.FromTensor(tensorOf(t, []float32{1}, 1))
	b := ivalue.FromTensor(tensorOf(t, []float32{2}, 1))
	f := frameFor(t, "prim::ListConstruct", a, b)
	outFn := Default().OutVariantFor(f.Node())
	require.NotNil(t, outFn)

	require.NoError(t, outFn(f))
	first := f.Output(0).Elems()
	require.Len(t, first, 2)

	require.NoError(t, outFn(f))
	second := f.Output(0).Elems()
	require.Same(t, &first[0], &second[0], "the element array is reused between runs")
}

func TestRegistryPredicates(t *testing.T) {
	t.Parallel()

	reg := Default()
	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	add := g.AddOp("aten::add", "y", graph.TensorType, x, x).Producer()
	sz := g.AddConstant("sz", graph.ListType, ivalue.FromList([]ivalue.IValue{ivalue.FromInt(1)}))
	view := g.AddOp("aten::view", "v", graph.TensorType, x, sz).Producer()
	lst := g.AddOp("prim::ListConstruct", "l", graph.ListType, x).Producer()

	require.True(t, reg.CanReuseInputsOutputs(add))
	require.False(t, reg.CanReuseInputsOutputs(view), "views must not reuse storage")
	require.False(t, reg.CanReuseInputsOutputs(lst), "container values stay out of the arena")
	require.True(t, reg.IsOptimizableContainerType(lst))
	require.False(t, reg.IsOptimizableContainerType(add))

	require.True(t, reg.IsRegistered("aten::add"))
	require.False(t, reg.IsRegistered("custom::mystery"))
	require.True(t, reg.NativeRegistered("aten::view"))
	require.Nil(t, reg.OutVariantFor(view))
	require.NotNil(t, reg.NativeFor(view))
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := New()
	reg.RegisterBoxed("custom::op", func(stack []ivalue.IValue) ([]ivalue.IValue, error) { return nil, nil })
	require.Panics(t, func() {
		reg.RegisterBoxed("custom::op", func(stack []ivalue.IValue) ([]ivalue.IValue, error) { return nil, nil })
	})
}
