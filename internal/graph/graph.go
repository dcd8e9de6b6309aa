// Package graph defines the frozen dataflow graph the static runtime
// executes: SSA values, operator nodes with ordered input and output ports,
// and the constant pool sources. Graphs are built once (by the HCL loader
// or programmatically), frozen, and never mutated afterwards, which is what
// lets every downstream table index by position.
package graph

import (
	"fmt"

	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/schema"
)

// ConstantKind is the distinguished node kind whose outputs come from the
// constants pool instead of a kernel.
const ConstantKind = "prim::Constant"

// Type is the static type tag of a Value.
type Type uint8

const (
	TensorType Type = iota
	ListType
	TupleType
	ScalarType
	OtherType
)

func (t Type) String() string {
	switch t {
	case TensorType:
		return "Tensor"
	case ListType:
		return "List"
	case TupleType:
		return "Tuple"
	case ScalarType:
		return "Scalar"
	}
	return "Other"
}

// Value is an SSA graph value. Identity is the pointer; the id is stable
// and unique within its graph, assigned in creation order.
type Value struct {
	id       int
	name     string
	typ      Type
	producer *Node // nil for graph inputs
	uses     []*Node
	isSelf   bool
}

// ID returns the creation-order id of the value within its graph.
func (v *Value) ID() int { return v.id }

// Name returns the debug name.
func (v *Value) Name() string { return v.name }

// Type returns the static type tag.
func (v *Value) Type() Type { return v.typ }

// Producer returns the node producing this value, nil for graph inputs.
func (v *Value) Producer() *Node { return v.producer }

// Uses returns the nodes consuming this value, one entry per consuming
// port (a node reading the value twice appears twice).
func (v *Value) Uses() []*Node { return v.uses }

// HasUses reports whether any node consumes the value.
func (v *Value) HasUses() bool { return len(v.uses) > 0 }

// IsModuleSelf reports whether this is the module-self input value.
func (v *Value) IsModuleSelf() bool { return v.isSelf }

// Node is one operation in the graph.
type Node struct {
	kind    string
	inputs  []*Value
	outputs []*Value
	schema  *schema.Schema
	payload ivalue.IValue // constant payload, None unless kind == ConstantKind
}

// Kind returns the operator kind identifier, e.g. "aten::add".
func (n *Node) Kind() string { return n.kind }

// Inputs returns the ordered input values.
func (n *Node) Inputs() []*Value { return n.inputs }

// Outputs returns the ordered output values.
func (n *Node) Outputs() []*Value { return n.outputs }

// Schema returns the operator schema, nil when unknown.
func (n *Node) Schema() *schema.Schema { return n.schema }

// IsConstant reports whether this is a constant node.
func (n *Node) IsConstant() bool { return n.kind == ConstantKind }

// Payload returns the materialized constant value of a constant node.
func (n *Node) Payload() ivalue.IValue { return n.payload }

// String renders the node for diagnostics: "%y = aten::add(%x, %x)".
func (n *Node) String() string {
	s := ""
	for i, o := range n.outputs {
		if i > 0 {
			s += ", "
		}
		s += "%" + o.name
	}
	s += " = " + n.kind + "("
	for i, in := range n.inputs {
		if i > 0 {
			s += ", "
		}
		s += "%" + in.name
	}
	return s + ")"
}

// Graph is the frozen dataflow graph.
type Graph struct {
	nodes   []*Node
	inputs  []*Value
	outputs []*Value
	nextID  int
	frozen  bool
}

// New returns an empty, unfrozen graph.
func New() *Graph {
	return &Graph{}
}

// Nodes returns the ordered node list.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Inputs returns the ordered graph inputs.
func (g *Graph) Inputs() []*Value { return g.inputs }

// Outputs returns the ordered graph outputs.
func (g *Graph) Outputs() []*Value { return g.outputs }

func (g *Graph) newValue(name string, typ Type, producer *Node) *Value {
	v := &Value{id: g.nextID, name: name, typ: typ, producer: producer}
	g.nextID++
	return v
}

// AddInput appends a graph input and returns its value.
func (g *Graph) AddInput(name string, typ Type) *Value {
	g.mustBeMutable()
	v := g.newValue(name, typ, nil)
	g.inputs = append(g.inputs, v)
	return v
}

// AddSelfInput appends the module-self input. It must be the first input.
func (g *Graph) AddSelfInput() *Value {
	g.mustBeMutable()
	if len(g.inputs) != 0 {
		panic("graph: self input must be added first")
	}
	v := g.AddInput("self", OtherType)
	v.isSelf = true
	return v
}

// AddConstant appends a constant node carrying the given payload and
// returns its single output value.
func (g *Graph) AddConstant(name string, typ Type, payload ivalue.IValue) *Value {
	g.mustBeMutable()
	n := &Node{kind: ConstantKind, payload: payload}
	out := g.newValue(name, typ, n)
	n.outputs = []*Value{out}
	g.nodes = append(g.nodes, n)
	return out
}

// AddNode appends an operator node with the given inputs and one output
// per entry in outNames, and returns the node.
func (g *Graph) AddNode(kind string, inputs []*Value, outNames []string, outTypes []Type) *Node {
	g.mustBeMutable()
	if len(outNames) != len(outTypes) {
		panic("graph: outNames and outTypes length mismatch")
	}
	n := &Node{kind: kind, inputs: append([]*Value(nil), inputs...), schema: schema.For(kind)}
	for i, name := range outNames {
		n.outputs = append(n.outputs, g.newValue(name, outTypes[i], n))
	}
	g.nodes = append(g.nodes, n)
	return n
}

// AddOp is the common single-output case of AddNode.
func (g *Graph) AddOp(kind, outName string, outType Type, inputs ...*Value) *Value {
	return g.AddNode(kind, inputs, []string{outName}, []Type{outType}).outputs[0]
}

// RegisterOutput appends a graph output.
func (g *Graph) RegisterOutput(v *Value) {
	g.mustBeMutable()
	g.outputs = append(g.outputs, v)
}

// EraseInput removes graph input i. Only legal for unused inputs.
func (g *Graph) EraseInput(i int) error {
	if g.inputs[i].HasUses() {
		return fmt.Errorf("graph: input %d (%%%s) still has uses", i, g.inputs[i].name)
	}
	g.inputs = append(g.inputs[:i], g.inputs[i+1:]...)
	return nil
}

// Freeze validates the graph and computes use chains. After Freeze the
// graph is immutable; Freeze is idempotent.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	produced := make(map[*Value]bool, g.nextID)
	for _, in := range g.inputs {
		produced[in] = true
	}
	for i, n := range g.nodes {
		for _, in := range n.inputs {
			if !produced[in] {
				return fmt.Errorf("graph: node %d (%s) reads %%%s before it is produced", i, n.kind, in.name)
			}
			in.uses = append(in.uses, n)
		}
		for _, out := range n.outputs {
			produced[out] = true
		}
	}
	for _, out := range g.outputs {
		if !produced[out] {
			return fmt.Errorf("graph: output %%%s is never produced", out.name)
		}
	}
	g.frozen = true
	return nil
}

func (g *Graph) mustBeMutable() {
	if g.frozen {
		panic("graph: mutation after Freeze")
	}
}
