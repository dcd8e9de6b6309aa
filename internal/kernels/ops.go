package kernels

import (
	"fmt"
	"math"

	"github.com/vk/staticgrid/internal/ivalue"
)

// registerBuiltins installs the float32 CPU kernel set. Element-wise and
// matmul ops come in out-variant and boxed forms sharing one compute body;
// view, reshape and flatten are native and allocation-free; transpose is
// native but copies into a freshly allocated tensor; the container
// constructors are the optimizable-container out variants.
func registerBuiltins(r *Registry) {
	ew := func(kind string, op func(x, y float32) float32) {
		r.RegisterOutVariant(kind, ewOutVariant(op), true, false)
		r.RegisterBoxed(kind, ewBoxed(kind, op))
	}
	ew("aten::add", func(x, y float32) float32 { return x + y })
	ew("aten::sub", func(x, y float32) float32 { return x - y })
	ew("aten::mul", func(x, y float32) float32 { return x * y })

	un := func(kind string, op func(x float32) float32) {
		r.RegisterOutVariant(kind, unaryOutVariant(op), true, false)
		r.RegisterBoxed(kind, unaryBoxed(kind, op))
	}
	un("aten::relu", func(x float32) float32 {
		if x < 0 {
			return 0
		}
		return x
	})
	un("aten::sigmoid", func(x float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(x))))
	})
	un("aten::tanh", func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	})
	un("aten::clone", func(x float32) float32 { return x })

	r.RegisterOutVariant("aten::matmul", matmulOut, true, false)
	r.RegisterBoxed("aten::matmul", matmulBoxed)

	r.RegisterOutVariant("aten::cat", catOut, true, false)
	r.RegisterBoxed("aten::cat", catBoxed)

	r.RegisterNative("aten::view", viewNative)
	r.RegisterBoxed("aten::view", viewBoxed)
	r.RegisterNative("aten::reshape", viewNative)
	r.RegisterBoxed("aten::reshape", viewBoxed)
	r.RegisterNative("aten::flatten", flattenNative)
	r.RegisterBoxed("aten::flatten", flattenBoxed)
	r.RegisterNative("aten::transpose", transposeNative)
	r.RegisterBoxed("aten::transpose", transposeBoxed)

	r.RegisterOutVariant("prim::ListConstruct", listConstructOut, false, true)
	r.RegisterBoxed("prim::ListConstruct", listConstructBoxed)
	r.RegisterBoxed("prim::TupleConstruct", tupleConstructBoxed)
}

// outTensor resolves output slot i of a frame to a tensor of the given
// shape, reusing the existing tensor object and growing its storage only
// when the current capacity is insufficient.
func outTensor(f Frame, i int, shape []int64) *ivalue.Tensor {
	slot := f.Output(i)
	t := slot.Tensor()
	if t == nil {
		t = ivalue.NewTensor(shape...)
		*slot = ivalue.FromTensor(t)
		return t
	}
	t.SetShape(shape)
	t.Storage().EnsureBytes(t.NBytes())
	return t
}

func inputTensor(f Frame, i int) (*ivalue.Tensor, error) {
	t := f.Input(i).Tensor()
	if t == nil {
		return nil, fmt.Errorf("%w: %s input %d is %s, want Tensor", ErrKernelFailure, f.Node().Kind(), i, f.Input(i).Kind())
	}
	return t, nil
}

func sameShape(a, b *ivalue.Tensor) bool {
	sa, sb := a.Shape(), b.Shape()
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func ewCompute(x, y, dst *ivalue.Tensor, op func(x, y float32) float32) error {
	if !sameShape(x, y) {
		return fmt.Errorf("%w: shape mismatch %v vs %v", ErrKernelFailure, x.Shape(), y.Shape())
	}
	vx, vy, vd := x.Floats(), y.Floats(), dst.Floats()
	for i := range vd {
		vd[i] = op(vx[i], vy[i])
	}
	return nil
}

func ewOutVariant(op func(x, y float32) float32) OutVariantFn {
	return func(f Frame) error {
		x, err := inputTensor(f, 0)
		if err != nil {
			return err
		}
		y, err := inputTensor(f, 1)
		if err != nil {
			return err
		}
		return ewCompute(x, y, outTensor(f, 0, x.Shape()), op)
	}
}

func ewBoxed(kind string, op func(x, y float32) float32) BoxedFn {
	return func(stack []ivalue.IValue) ([]ivalue.IValue, error) {
		x, y := stack[0].Tensor(), stack[1].Tensor()
		if x == nil || y == nil {
			return nil, fmt.Errorf("%w: %s wants two tensors", ErrKernelFailure, kind)
		}
		dst := ivalue.NewTensor(x.Shape()...)
		if err := ewCompute(x, y, dst, op); err != nil {
			return nil, err
		}
		return []ivalue.IValue{ivalue.FromTensor(dst)}, nil
	}
}

func unaryCompute(x, dst *ivalue.Tensor, op func(x float32) float32) {
	vx, vd := x.Floats(), dst.Floats()
	for i := range vd {
		vd[i] = op(vx[i])
	}
}

func unaryOutVariant(op func(x float32) float32) OutVariantFn {
	return func(f Frame) error {
		x, err := inputTensor(f, 0)
		if err != nil {
			return err
		}
		unaryCompute(x, outTensor(f, 0, x.Shape()), op)
		return nil
	}
}

func unaryBoxed(kind string, op func(x float32) float32) BoxedFn {
	return func(stack []ivalue.IValue) ([]ivalue.IValue, error) {
		x := stack[0].Tensor()
		if x == nil {
			return nil, fmt.Errorf("%w: %s wants a tensor", ErrKernelFailure, kind)
		}
		dst := ivalue.NewTensor(x.Shape()...)
		unaryCompute(x, dst, op)
		return []ivalue.IValue{ivalue.FromTensor(dst)}, nil
	}
}

func matmulShapes(x, y *ivalue.Tensor) (m, k, n int64, err error) {
	sx, sy := x.Shape(), y.Shape()
	if len(sx) != 2 || len(sy) != 2 || sx[1] != sy[0] {
		return 0, 0, 0, fmt.Errorf("%w: matmul shape mismatch %v x %v", ErrKernelFailure, sx, sy)
	}
	return sx[0], sx[1], sy[1], nil
}

func matmulCompute(x, y, dst *ivalue.Tensor, m, k, n int64) {
	vx, vy, vd := x.Floats(), y.Floats(), dst.Floats()
	for i := int64(0); i < m; i++ {
		for j := int64(0); j < n; j++ {
			var acc float32
			for p := int64(0); p < k; p++ {
				acc += vx[i*k+p] * vy[p*n+j]
			}
			vd[i*n+j] = acc
		}
	}
}

func matmulOut(f Frame) error {
	x, err := inputTensor(f, 0)
	if err != nil {
		return err
	}
	y, err := inputTensor(f, 1)
	if err != nil {
		return err
	}
	m, k, n, err := matmulShapes(x, y)
	if err != nil {
		return err
	}
	matmulCompute(x, y, outTensor(f, 0, []int64{m, n}), m, k, n)
	return nil
}

func matmulBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	x, y := stack[0].Tensor(), stack[1].Tensor()
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: matmul wants two tensors", ErrKernelFailure)
	}
	m, k, n, err := matmulShapes(x, y)
	if err != nil {
		return nil, err
	}
	dst := ivalue.NewTensor(m, n)
	matmulCompute(x, y, dst, m, k, n)
	return []ivalue.IValue{ivalue.FromTensor(dst)}, nil
}

// cat concatenates along dimension 0; trailing dimensions must agree.
func catShape(ts []*ivalue.Tensor) ([]int64, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: cat of zero tensors", ErrKernelFailure)
	}
	shape := append([]int64(nil), ts[0].Shape()...)
	for _, t := range ts[1:] {
		s := t.Shape()
		if len(s) != len(shape) {
			return nil, fmt.Errorf("%w: cat rank mismatch", ErrKernelFailure)
		}
		for d := 1; d < len(s); d++ {
			if s[d] != shape[d] {
				return nil, fmt.Errorf("%w: cat trailing dim mismatch", ErrKernelFailure)
			}
		}
		shape[0] += s[0]
	}
	return shape, nil
}

func catCompute(ts []*ivalue.Tensor, dst *ivalue.Tensor) {
	vd := dst.Floats()
	off := 0
	for _, t := range ts {
		off += copy(vd[off:], t.Floats())
	}
}

func catOut(f Frame) error {
	ts := make([]*ivalue.Tensor, f.NumInputs())
	for i := range ts {
		t, err := inputTensor(f, i)
		if err != nil {
			return err
		}
		ts[i] = t
	}
	shape, err := catShape(ts)
	if err != nil {
		return err
	}
	catCompute(ts, outTensor(f, 0, shape))
	return nil
}

func catBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	// Variadic: the trailing stack entry is the input arity.
	arity := int(stack[len(stack)-1].Int())
	ts := make([]*ivalue.Tensor, arity)
	for i := 0; i < arity; i++ {
		if ts[i] = stack[i].Tensor(); ts[i] == nil {
			return nil, fmt.Errorf("%w: cat input %d is not a tensor", ErrKernelFailure, i)
		}
	}
	shape, err := catShape(ts)
	if err != nil {
		return nil, err
	}
	dst := ivalue.NewTensor(shape...)
	catCompute(ts, dst)
	return []ivalue.IValue{ivalue.FromTensor(dst)}, nil
}

// sizesFrom decodes a target shape from a boxed size argument: a list of
// ints, with at most one -1 dimension inferred from the element count.
func sizesFrom(v *ivalue.IValue, numel int64) ([]int64, error) {
	if v.Kind() != ivalue.KindList {
		return nil, fmt.Errorf("%w: size argument is %s, want List", ErrKernelFailure, v.Kind())
	}
	dims := make([]int64, len(v.Elems()))
	known := int64(1)
	infer := -1
	for i := range v.Elems() {
		d := v.Elems()[i].Int()
		dims[i] = d
		if d == -1 {
			if infer >= 0 {
				return nil, fmt.Errorf("%w: multiple -1 dims in size", ErrKernelFailure)
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || numel%known != 0 {
			return nil, fmt.Errorf("%w: cannot infer size %v for %d elements", ErrKernelFailure, dims, numel)
		}
		dims[infer] = numel / known
		known *= dims[infer]
	}
	if known != numel {
		return nil, fmt.Errorf("%w: size %v does not match %d elements", ErrKernelFailure, dims, numel)
	}
	return dims, nil
}

func viewNative(f Frame) error {
	x, err := inputTensor(f, 0)
	if err != nil {
		return err
	}
	dims, err := sizesFrom(f.Input(1), x.Numel())
	if err != nil {
		return err
	}
	v, err := ivalue.ViewOf(x, dims...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelFailure, err)
	}
	*f.Output(0) = ivalue.FromTensor(v)
	return nil
}

func viewBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	x := stack[0].Tensor()
	if x == nil {
		return nil, fmt.Errorf("%w: view wants a tensor", ErrKernelFailure)
	}
	dims, err := sizesFrom(&stack[1], x.Numel())
	if err != nil {
		return nil, err
	}
	v, err := ivalue.ViewOf(x, dims...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKernelFailure, err)
	}
	return []ivalue.IValue{ivalue.FromTensor(v)}, nil
}

func flattenNative(f Frame) error {
	x, err := inputTensor(f, 0)
	if err != nil {
		return err
	}
	v, err := ivalue.ViewOf(x, x.Numel())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelFailure, err)
	}
	*f.Output(0) = ivalue.FromTensor(v)
	return nil
}

func flattenBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	x := stack[0].Tensor()
	if x == nil {
		return nil, fmt.Errorf("%w: flatten wants a tensor", ErrKernelFailure)
	}
	v, err := ivalue.ViewOf(x, x.Numel())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKernelFailure, err)
	}
	return []ivalue.IValue{ivalue.FromTensor(v)}, nil
}

func transposeCompute(x *ivalue.Tensor) (*ivalue.Tensor, error) {
	s := x.Shape()
	if len(s) != 2 {
		return nil, fmt.Errorf("%w: transpose wants a 2-d tensor, got %v", ErrKernelFailure, s)
	}
	rows, cols := s[0], s[1]
	dst := ivalue.NewTensor(cols, rows)
	vx, vd := x.Floats(), dst.Floats()
	for i := int64(0); i < rows; i++ {
		for j := int64(0); j < cols; j++ {
			vd[j*rows+i] = vx[i*cols+j]
		}
	}
	return dst, nil
}

func transposeNative(f Frame) error {
	x, err := inputTensor(f, 0)
	if err != nil {
		return err
	}
	dst, err := transposeCompute(x)
	if err != nil {
		return err
	}
	*f.Output(0) = ivalue.FromTensor(dst)
	return nil
}

func transposeBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	x := stack[0].Tensor()
	if x == nil {
		return nil, fmt.Errorf("%w: transpose wants a tensor", ErrKernelFailure)
	}
	dst, err := transposeCompute(x)
	if err != nil {
		return nil, err
	}
	return []ivalue.IValue{ivalue.FromTensor(dst)}, nil
}

// listConstructOut reuses the output list's backing array across runs;
// this is the "expensive to reallocate" container the planner leaks on
// purpose.
func listConstructOut(f Frame) error {
	slot := f.Output(0)
	elems := slot.Elems()
	if cap(elems) < f.NumInputs() {
		elems = make([]ivalue.IValue, 0, f.NumInputs())
	}
	elems = elems[:0]
	for i := 0; i < f.NumInputs(); i++ {
		elems = append(elems, *f.Input(i))
	}
	*slot = ivalue.FromList(elems)
	return nil
}

func listConstructBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	arity := int(stack[len(stack)-1].Int())
	elems := append([]ivalue.IValue(nil), stack[:arity]...)
	return []ivalue.IValue{ivalue.FromList(elems)}, nil
}

func tupleConstructBoxed(stack []ivalue.IValue) ([]ivalue.IValue, error) {
	arity := int(stack[len(stack)-1].Int())
	elems := append([]ivalue.IValue(nil), stack[:arity]...)
	return []ivalue.IValue{ivalue.FromTuple(elems)}, nil
}
