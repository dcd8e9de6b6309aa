package schema

// The built-in catalog mirrors the kernel library: every operator the
// registry dispatches has a declared calling convention here. For(kind)
// returns nil for unknown kinds; the runtime then skips normalization and
// treats the node as mutable.

func binary(name string) *Schema {
	return &Schema{Name: name, Args: []Arg{{Name: "self"}, {Name: "other"}}}
}

func unary(name string) *Schema {
	return &Schema{Name: name, Args: []Arg{{Name: "self"}}}
}

var catalog = map[string]*Schema{
	"aten::add":    binary("aten::add"),
	"aten::sub":    binary("aten::sub"),
	"aten::mul":    binary("aten::mul"),
	"aten::matmul": binary("aten::matmul"),

	"aten::relu":    unary("aten::relu"),
	"aten::sigmoid": unary("aten::sigmoid"),
	"aten::tanh":    unary("aten::tanh"),
	"aten::clone":   unary("aten::clone"),

	// View-family ops (view, reshape, flatten) alias their input, which
	// counts as mutable for the purposes of the overlap check; transpose
	// copies but is declared mutable as well.
	"aten::view":      {Name: "aten::view", Args: []Arg{{Name: "self"}, {Name: "size"}}, Mutable: true},
	"aten::reshape":   {Name: "aten::reshape", Args: []Arg{{Name: "self"}, {Name: "shape"}}, Mutable: true},
	"aten::transpose": {Name: "aten::transpose", Args: []Arg{{Name: "self"}}, Mutable: true},
	"aten::flatten":   {Name: "aten::flatten", Args: []Arg{{Name: "self"}}, Mutable: true},

	"aten::cat": {Name: "aten::cat", Variadic: true},

	"prim::ListConstruct":  {Name: "prim::ListConstruct", Variadic: true},
	"prim::TupleConstruct": {Name: "prim::TupleConstruct", Variadic: true},
}

// For returns the built-in schema for an operator kind, nil when unknown.
func For(kind string) *Schema {
	return catalog[kind]
}
