// Package ivalue defines the boxed runtime values flowing between graph
// operations: tensors over explicit storages, scalars, and the container
// kinds. Storages are the unit of memory planning; the planner rebinds and
// resets them without disturbing the value slots that point at them.
package ivalue

import (
	"fmt"
	"strings"
)

// Kind tags the payload of an IValue.
type Kind uint8

const (
	KindNone Kind = iota
	KindTensor
	KindDouble
	KindInt
	KindBool
	KindString
	KindList
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindTensor:
		return "Tensor"
	case KindDouble:
		return "Double"
	case KindInt:
		return "Int"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindList:
		return "List"
	case KindTuple:
		return "Tuple"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IValue is a boxed value slot. The zero value is None. Slots are stored in
// fixed-capacity slices owned by the runtime, so *IValue pointers into them
// stay valid for the runtime's lifetime.
type IValue struct {
	kind    Kind
	tensor  *Tensor
	number  float64
	integer int64
	boolean bool
	str     string
	elems   []IValue
}

// None returns the empty value.
func None() IValue { return IValue{} }

// FromTensor boxes a tensor.
func FromTensor(t *Tensor) IValue { return IValue{kind: KindTensor, tensor: t} }

// FromDouble boxes a float64 scalar.
func FromDouble(v float64) IValue { return IValue{kind: KindDouble, number: v} }

// FromInt boxes an int64 scalar.
func FromInt(v int64) IValue { return IValue{kind: KindInt, integer: v} }

// FromBool boxes a bool.
func FromBool(v bool) IValue { return IValue{kind: KindBool, boolean: v} }

// FromString boxes a string.
func FromString(v string) IValue { return IValue{kind: KindString, str: v} }

// FromList boxes a list of values.
func FromList(elems []IValue) IValue { return IValue{kind: KindList, elems: elems} }

// FromTuple boxes a tuple of values.
func FromTuple(elems []IValue) IValue { return IValue{kind: KindTuple, elems: elems} }

// Kind returns the payload tag.
func (v *IValue) Kind() Kind { return v.kind }

// IsNone reports whether the slot is empty.
func (v *IValue) IsNone() bool { return v.kind == KindNone }

// IsTensor reports whether the slot holds a tensor.
func (v *IValue) IsTensor() bool { return v.kind == KindTensor }

// Tensor returns the boxed tensor, nil for non-tensor values.
func (v *IValue) Tensor() *Tensor {
	if v.kind != KindTensor {
		return nil
	}
	return v.tensor
}

// Double returns the boxed float64.
func (v *IValue) Double() float64 { return v.number }

// Int returns the boxed int64.
func (v *IValue) Int() int64 { return v.integer }

// Bool returns the boxed bool.
func (v *IValue) Bool() bool { return v.boolean }

// Str returns the boxed string.
func (v *IValue) Str() string { return v.str }

// Elems returns the elements of a list or tuple value.
func (v *IValue) Elems() []IValue { return v.elems }

// Move returns the current value and leaves None behind. Output gathering
// uses this so the runtime drops its reference once the caller owns the
// result.
func (v *IValue) Move() IValue {
	out := *v
	*v = IValue{}
	return out
}

// Reset overwrites the slot with None, releasing whatever it referenced.
func (v *IValue) Reset() {
	*v = IValue{}
}

// Equal reports deep equality; tensors compare bit-exact.
func (v *IValue) Equal(o *IValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindTensor:
		return v.tensor.Equal(o.tensor)
	case KindDouble:
		return v.number == o.number
	case KindInt:
		return v.integer == o.integer
	case KindBool:
		return v.boolean == o.boolean
	case KindString:
		return v.str == o.str
	case KindList, KindTuple:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(&o.elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Summary renders a one-line description for debug dumps.
func (v *IValue) Summary() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindTensor:
		return v.tensor.String()
	case KindDouble:
		return fmt.Sprintf("double {%g}", v.number)
	case KindInt:
		return fmt.Sprintf("int {%d}", v.integer)
	case KindBool:
		return fmt.Sprintf("bool {%t}", v.boolean)
	case KindString:
		return fmt.Sprintf("string {%q}", v.str)
	case KindList, KindTuple:
		parts := make([]string, len(v.elems))
		for i := range v.elems {
			parts[i] = v.elems[i].Summary()
		}
		label := "List"
		if v.kind == KindTuple {
			label = "Tuple"
		}
		return label + " {" + strings.Join(parts, ", ") + "}"
	}
	return v.kind.String()
}
