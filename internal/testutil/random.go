package testutil

import (
	"fmt"
	"math/rand"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

// binaryKinds and unaryKinds are the bounded vocabulary for random DAGs.
// Everything is shape-preserving so any earlier value is a legal operand.
var (
	binaryKinds = []string{"aten::add", "aten::sub", "aten::mul"}
	unaryKinds  = []string{"aten::relu", "aten::sigmoid", "aten::tanh", "aten::clone"}
)

// RandomDAG generates a random shape-preserving dataflow graph with the
// given number of operator nodes (plus, for some seeds, one tensor
// constant node), and matching random inputs. The same seed always
// yields the same graph and inputs.
func RandomDAG(seed int64, numInputs, numNodes int, shape []int64) (*graph.Graph, []ivalue.IValue) {
	rng := rand.New(rand.NewSource(seed))
	g := graph.New()

	numel := int64(1)
	for _, d := range shape {
		numel *= d
	}

	var pool []*graph.Value
	inputs := make([]ivalue.IValue, numInputs)
	for i := 0; i < numInputs; i++ {
		v := g.AddInput(fmt.Sprintf("in%d", i), graph.TensorType)
		pool = append(pool, v)
		values := make([]float32, numel)
		for j := range values {
			values[j] = rng.Float32()*4 - 2
		}
		t, err := ivalue.FromFloats(values, shape...)
		if err != nil {
			panic(err)
		}
		inputs[i] = ivalue.FromTensor(t)
	}

	// Sprinkle in a tensor constant now and then.
	if rng.Intn(2) == 0 {
		values := make([]float32, numel)
		for j := range values {
			values[j] = rng.Float32()
		}
		t, err := ivalue.FromFloats(values, shape...)
		if err != nil {
			panic(err)
		}
		pool = append(pool, g.AddConstant("c0", graph.TensorType, ivalue.FromTensor(t)))
	}

	for i := 0; i < numNodes; i++ {
		name := fmt.Sprintf("v%d", i)
		var out *graph.Value
		if rng.Intn(2) == 0 {
			kind := binaryKinds[rng.Intn(len(binaryKinds))]
			a := pool[rng.Intn(len(pool))]
			b := pool[rng.Intn(len(pool))]
			out = g.AddOp(kind, name, graph.TensorType, a, b)
		} else {
			kind := unaryKinds[rng.Intn(len(unaryKinds))]
			a := pool[rng.Intn(len(pool))]
			out = g.AddOp(kind, name, graph.TensorType, a)
		}
		pool = append(pool, out)
	}

	// The last value is always an output; each earlier value joins with
	// probability 1/8 so most intermediates stay internal.
	g.RegisterOutput(pool[len(pool)-1])
	for _, v := range pool[:len(pool)-1] {
		if rng.Intn(8) == 0 {
			g.RegisterOutput(v)
		}
	}
	return g, inputs
}
