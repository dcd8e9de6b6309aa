package hclgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

const mlpModel = `
graph "mlp" {
  input "x" {}

  const "w" {
    values = [1, 0, 0, 1]
    shape  = [2, 2]
  }

  node "h" {
    op     = "aten::matmul"
    inputs = ["x", "w"]
  }
  node "y" {
    op     = "aten::relu"
    inputs = ["h"]
  }

  outputs = ["y"]
}

options {
  cleanup_activations = true
  enable_out_variant  = true
  optimize_memory     = false
}

bench {
  warmup = 2
  runs   = 5
  input "x" {
    values = [1.5, -2.0, 3.0, 4.5]
    shape  = [2, 2]
  }
}
`

func TestParse_FullModel(t *testing.T) {
	t.Parallel()

	def, err := Parse(context.Background(), "mlp.hcl", []byte(mlpModel))
	require.NoError(t, err)

	require.Equal(t, "mlp", def.Name)
	require.Len(t, def.Graph.Inputs(), 1)
	require.Len(t, def.Graph.Outputs(), 1)
	require.Len(t, def.Graph.Nodes(), 3, "one constant plus two operator nodes")

	require.True(t, def.Options.CleanupActivations)
	require.True(t, def.Options.EnableOutVariant)
	require.False(t, def.Options.OptimizeMemory)

	require.Equal(t, 2, def.Bench.Warmup)
	require.Equal(t, 5, def.Bench.Runs)
	require.Len(t, def.Bench.Inputs, 1)
	require.Equal(t, []float32{1.5, -2, 3, 4.5}, def.Bench.Inputs[0].Tensor().Floats())

	require.NotNil(t, def.Schema)
	require.Equal(t, "x", def.Schema.Args[0].Name)
}

func TestParse_IntListConstant(t *testing.T) {
	t.Parallel()

	src := `
graph "viewer" {
  input "x" {}
  const "sz" { ints = [2, 2] }
  node "v" {
    op     = "aten::view"
    inputs = ["x", "sz"]
  }
  outputs = ["v"]
}
`
	def, err := Parse(context.Background(), "viewer.hcl", []byte(src))
	require.NoError(t, err)

	var sz *graph.Value
	for _, n := range def.Graph.Nodes() {
		if n.IsConstant() {
			sz = n.Outputs()[0]
		}
	}
	require.NotNil(t, sz)
	require.Equal(t, graph.ListType, sz.Type())

	payload := sz.Producer().Payload()
	require.Equal(t, ivalue.KindList, payload.Kind())
	require.Equal(t, int64(2), payload.Elems()[0].Int())
}

func TestParse_ExplicitNodeOutputs(t *testing.T) {
	t.Parallel()

	src := `
graph "two" {
  input "a" {}
  input "b" {}
  node "pair" {
    op      = "prim::ListConstruct"
    inputs  = ["a", "b"]
    outputs = ["lst"]
  }
  outputs = ["lst"]
}
`
	def, err := Parse(context.Background(), "two.hcl", []byte(src))
	require.NoError(t, err)
	require.Equal(t, graph.ListType, def.Graph.Outputs()[0].Type())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		src  string
	}{
		{"syntax error", `graph "g" {`},
		{"no graph block", `options {}`},
		{"unknown input reference", `
graph "g" {
  input "x" {}
  node "y" {
    op     = "aten::relu"
    inputs = ["nope"]
  }
  outputs = ["y"]
}`},
		{"unknown output", `
graph "g" {
  input "x" {}
  outputs = ["nope"]
}`},
		{"duplicate value name", `
graph "g" {
  input "x" {}
  const "x" { values = [1] }
  outputs = ["x"]
}`},
		{"bench missing input", `
graph "g" {
  input "x" {}
  outputs = ["x"]
}
bench { runs = 1 }`},
		{"bad tensor literal", `
graph "g" {
  input "x" {}
  const "c" {
    values = [1, 2, 3]
    shape  = [2]
  }
  outputs = ["x"]
}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(context.Background(), "bad.hcl", []byte(tc.src))
			require.Error(t, err)
		})
	}
}

func TestParse_DefaultsWithoutOptionalBlocks(t *testing.T) {
	t.Parallel()

	src := `
graph "g" {
  input "x" {}
  outputs = ["x"]
}
`
	def, err := Parse(context.Background(), "g.hcl", []byte(src))
	require.NoError(t, err)
	require.True(t, def.Options.CleanupActivations, "defaults apply when the options block is absent")
	require.Empty(t, def.Bench.Inputs)
}
