// Package hclgraph loads graph definitions from HCL model files. A model
// file carries one graph block (inputs, constants, nodes, outputs) and
// optionally an options block overriding the runtime defaults and a bench
// block with literal input tensors for the CLI.
package hclgraph

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/staticgrid/internal/ctxlog"
	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/runtime"
	"github.com/vk/staticgrid/internal/schema"
)

// Definition is a fully translated model file.
type Definition struct {
	Name    string
	Graph   *graph.Graph
	Schema  *schema.Schema
	Options runtime.Options
	Bench   BenchSpec
}

// BenchSpec carries the bench block: run counts and literal inputs in
// graph-input order.
type BenchSpec struct {
	Warmup int
	Runs   int
	Inputs []ivalue.IValue
}

type fileHCL struct {
	Graph   *graphHCL   `hcl:"graph,block"`
	Options *optionsHCL `hcl:"options,block"`
	Bench   *benchHCL   `hcl:"bench,block"`
}

type graphHCL struct {
	Name    string        `hcl:"name,label"`
	Inputs  []*inputHCL   `hcl:"input,block"`
	Consts  []*literalHCL `hcl:"const,block"`
	Nodes   []*nodeHCL    `hcl:"node,block"`
	Outputs []string      `hcl:"outputs"`
}

type inputHCL struct {
	Name string `hcl:"name,label"`
	Type string `hcl:"type,optional"`
}

// literalHCL is a tensor or int-list literal; used for const blocks and
// bench inputs. Values stay as expressions until translation so integer
// and float literals can mix freely.
type literalHCL struct {
	Name   string         `hcl:"name,label"`
	Values hcl.Expression `hcl:"values,optional"`
	Shape  []int64        `hcl:"shape,optional"`
	Ints   hcl.Expression `hcl:"ints,optional"`
}

type nodeHCL struct {
	Name    string   `hcl:"name,label"`
	Op      string   `hcl:"op"`
	Inputs  []string `hcl:"inputs"`
	Outputs []string `hcl:"outputs,optional"`
}

type optionsHCL struct {
	CleanupActivations        *bool `hcl:"cleanup_activations,optional"`
	EnableOutVariant          *bool `hcl:"enable_out_variant,optional"`
	OptimizeMemory            *bool `hcl:"optimize_memory,optional"`
	OptimizeGraphOutputMemory *bool `hcl:"optimize_graph_output_memory,optional"`
}

type benchHCL struct {
	Warmup int           `hcl:"warmup,optional"`
	Runs   int           `hcl:"runs,optional"`
	Inputs []*literalHCL `hcl:"input,block"`
}

// Load parses the model file at path.
func Load(ctx context.Context, path string) (*Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return Parse(ctx, path, src)
}

// Parse translates HCL source into a frozen-ready graph definition.
func Parse(ctx context.Context, filename string, src []byte) (*Definition, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", filename, diags)
	}
	var root fileHCL
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", filename, diags)
	}
	if root.Graph == nil {
		return nil, fmt.Errorf("%s: no graph block", filename)
	}
	logger.Debug("Parsed model file.", "file", filename, "graph", root.Graph.Name,
		"inputs", len(root.Graph.Inputs), "nodes", len(root.Graph.Nodes))

	def := &Definition{Name: root.Graph.Name, Options: runtime.DefaultOptions}
	if err := def.buildGraph(root.Graph); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	def.applyOptions(root.Options)
	if err := def.buildBench(root.Bench); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return def, nil
}

func typeFromString(s string) (graph.Type, error) {
	switch s {
	case "", "tensor":
		return graph.TensorType, nil
	case "scalar":
		return graph.ScalarType, nil
	case "list":
		return graph.ListType, nil
	case "tuple":
		return graph.TupleType, nil
	case "other":
		return graph.OtherType, nil
	}
	return graph.OtherType, fmt.Errorf("unknown value type %q", s)
}

// outputTypeFor infers the static type of an operator's outputs.
func outputTypeFor(op string) graph.Type {
	switch op {
	case "prim::ListConstruct":
		return graph.ListType
	case "prim::TupleConstruct":
		return graph.TupleType
	}
	return graph.TensorType
}

// numbersFromExpr evaluates a list expression to cty numbers. Returns
// ok=false when the attribute was absent.
func numbersFromExpr(expr hcl.Expression) (nums []cty.Value, ok bool, err error) {
	if expr == nil {
		return nil, false, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, false, diags
	}
	if val.IsNull() {
		return nil, false, nil
	}
	if !val.CanIterateElements() {
		return nil, false, fmt.Errorf("expected a list, got %s", val.Type().FriendlyName())
	}
	for it := val.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		ev, convErr := convert.Convert(ev, cty.Number)
		if convErr != nil {
			return nil, false, convErr
		}
		nums = append(nums, ev)
	}
	return nums, true, nil
}

func (l *literalHCL) toIValue() (ivalue.IValue, graph.Type, error) {
	ints, ok, err := numbersFromExpr(l.Ints)
	if err != nil {
		return ivalue.None(), graph.ListType, err
	}
	if ok {
		elems := make([]ivalue.IValue, len(ints))
		for i, n := range ints {
			v, _ := n.AsBigFloat().Int64()
			elems[i] = ivalue.FromInt(v)
		}
		return ivalue.FromList(elems), graph.ListType, nil
	}

	nums, _, err := numbersFromExpr(l.Values)
	if err != nil {
		return ivalue.None(), graph.TensorType, err
	}
	values := make([]float32, len(nums))
	for i, n := range nums {
		f, _ := n.AsBigFloat().Float32()
		values[i] = f
	}
	shape := l.Shape
	if shape == nil {
		shape = []int64{int64(len(values))}
	}
	t, err := ivalue.FromFloats(values, shape...)
	if err != nil {
		return ivalue.None(), graph.TensorType, err
	}
	return ivalue.FromTensor(t), graph.TensorType, nil
}

func (d *Definition) buildGraph(gh *graphHCL) error {
	g := graph.New()
	values := make(map[string]*graph.Value)

	sch := &schema.Schema{Name: gh.Name}
	for _, in := range gh.Inputs {
		typ, err := typeFromString(in.Type)
		if err != nil {
			return fmt.Errorf("input %q: %w", in.Name, err)
		}
		if _, exists := values[in.Name]; exists {
			return fmt.Errorf("duplicate value name %q", in.Name)
		}
		values[in.Name] = g.AddInput(in.Name, typ)
		sch.Args = append(sch.Args, schema.Arg{Name: in.Name})
	}

	for _, c := range gh.Consts {
		if _, exists := values[c.Name]; exists {
			return fmt.Errorf("duplicate value name %q", c.Name)
		}
		payload, typ, err := c.toIValue()
		if err != nil {
			return fmt.Errorf("const %q: %w", c.Name, err)
		}
		values[c.Name] = g.AddConstant(c.Name, typ, payload)
	}

	for _, n := range gh.Nodes {
		inputs := make([]*graph.Value, len(n.Inputs))
		for i, name := range n.Inputs {
			v, ok := values[name]
			if !ok {
				return fmt.Errorf("node %q reads unknown value %q", n.Name, name)
			}
			inputs[i] = v
		}
		outNames := n.Outputs
		if len(outNames) == 0 {
			outNames = []string{n.Name}
		}
		outTypes := make([]graph.Type, len(outNames))
		for i := range outTypes {
			outTypes[i] = outputTypeFor(n.Op)
		}
		node := g.AddNode(n.Op, inputs, outNames, outTypes)
		for i, out := range node.Outputs() {
			if _, exists := values[outNames[i]]; exists {
				return fmt.Errorf("duplicate value name %q", outNames[i])
			}
			values[outNames[i]] = out
		}
	}

	for _, name := range gh.Outputs {
		v, ok := values[name]
		if !ok {
			return fmt.Errorf("graph output %q is not a known value", name)
		}
		g.RegisterOutput(v)
	}

	if err := g.Freeze(); err != nil {
		return err
	}
	d.Graph = g
	d.Schema = sch
	return nil
}

func (d *Definition) applyOptions(oh *optionsHCL) {
	if oh == nil {
		return
	}
	if oh.CleanupActivations != nil {
		d.Options.CleanupActivations = *oh.CleanupActivations
	}
	if oh.EnableOutVariant != nil {
		d.Options.EnableOutVariant = *oh.EnableOutVariant
	}
	if oh.OptimizeMemory != nil {
		d.Options.OptimizeMemory = *oh.OptimizeMemory
	}
	if oh.OptimizeGraphOutputMemory != nil {
		d.Options.OptimizeGraphOutputMemory = *oh.OptimizeGraphOutputMemory
	}
}

func (d *Definition) buildBench(bh *benchHCL) error {
	if bh == nil {
		return nil
	}
	d.Bench.Warmup = bh.Warmup
	d.Bench.Runs = bh.Runs

	byName := make(map[string]*literalHCL, len(bh.Inputs))
	for _, in := range bh.Inputs {
		byName[in.Name] = in
	}
	for _, in := range d.Graph.Inputs() {
		lit, ok := byName[in.Name()]
		if !ok {
			return fmt.Errorf("bench block missing input %q", in.Name())
		}
		v, _, err := lit.toIValue()
		if err != nil {
			return fmt.Errorf("bench input %q: %w", in.Name(), err)
		}
		d.Bench.Inputs = append(d.Bench.Inputs, v)
	}
	return nil
}
