package ivalue

import (
	"fmt"
	"math"
	"strings"
	"unsafe"
)

// ElemSize is the byte size of a tensor element. The kernel catalog is
// float32-only, matching the CPU inference workloads this engine serves.
const ElemSize = 4

// Tensor is a dense float32 tensor view over a Storage. Several tensors may
// share one Storage (same-storage cluster members do); shape and storage are
// otherwise independent.
type Tensor struct {
	shape   []int64
	storage *Storage
}

// NewTensor allocates a tensor of the given shape with fresh storage.
func NewTensor(shape ...int64) *Tensor {
	t := &Tensor{shape: append([]int64(nil), shape...)}
	t.storage = NewStorage(t.Numel() * ElemSize)
	return t
}

// FromFloats builds a tensor of the given shape from literal values.
func FromFloats(values []float32, shape ...int64) (*Tensor, error) {
	t := NewTensor(shape...)
	if int64(len(values)) != t.Numel() {
		return nil, fmt.Errorf("tensor literal has %d values, shape %v wants %d", len(values), shape, t.Numel())
	}
	copy(t.Floats(), values)
	return t, nil
}

// ViewOf returns a new tensor sharing base's storage under a different
// shape. The element count must match.
func ViewOf(base *Tensor, shape ...int64) (*Tensor, error) {
	v := &Tensor{shape: append([]int64(nil), shape...), storage: base.storage}
	if v.Numel() != base.Numel() {
		return nil, fmt.Errorf("cannot view %v as %v", base.shape, shape)
	}
	return v, nil
}

// Shape returns the dimension sizes. Callers must not mutate the slice.
func (t *Tensor) Shape() []int64 {
	return t.shape
}

// SetShape replaces the shape in place; out-variant kernels reshape their
// destination to the computed result shape on every run.
func (t *Tensor) SetShape(shape []int64) {
	t.shape = append(t.shape[:0], shape...)
}

// Numel returns the element count implied by the shape.
func (t *Tensor) Numel() int64 {
	n := int64(1)
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// NBytes returns the byte size implied by the shape.
func (t *Tensor) NBytes() int64 {
	return t.Numel() * ElemSize
}

// Storage returns the backing storage.
func (t *Tensor) Storage() *Storage {
	return t.storage
}

// SetStorage rebinds the tensor to a different storage object. The memory
// planner does not use it: cluster members keep their own Storage objects,
// which allocate binds to the same arena region.
func (t *Tensor) SetStorage(s *Storage) {
	t.storage = s
}

// Defined reports whether the tensor currently has backing data.
func (t *Tensor) Defined() bool {
	return t.storage != nil && t.storage.Data() != nil
}

// Floats exposes the storage as a mutable float32 view of Numel elements.
// Kernels write through this view, so it must alias the storage bytes
// rather than copy them. The storage must have been sized first
// (EnsureBytes or planner binding).
func (t *Tensor) Floats() []float32 {
	data := t.storage.Data()
	n := t.Numel()
	if n == 0 || len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), n)
}

// SetFloats writes values into the storage, growing it if needed.
func (t *Tensor) SetFloats(values []float32) {
	t.storage.EnsureBytes(int64(len(values)) * ElemSize)
	copy(t.Floats(), values)
}

// At returns element i in flattened order.
func (t *Tensor) At(i int64) float32 {
	return t.Floats()[i]
}

// SetAt writes element i in flattened order.
func (t *Tensor) SetAt(i int64, v float32) {
	t.Floats()[i] = v
}

// Clone returns a deep copy with freshly allocated storage.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.shape...)
	copy(c.storage.Data(), t.storage.Data())
	return c
}

// Equal reports bit-equality of shape and data.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	a, b := t.Floats(), o.Floats()
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// String renders a short shape summary, e.g. "Tensor{2, 3}".
func (t *Tensor) String() string {
	dims := make([]string, len(t.shape))
	for i, d := range t.shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return "Tensor{" + strings.Join(dims, ", ") + "}"
}
