package aliasdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

func intList(vs ...int64) ivalue.IValue {
	elems := make([]ivalue.IValue, len(vs))
	for i, v := range vs {
		elems[i] = ivalue.FromInt(v)
	}
	return ivalue.FromList(elems)
}

func TestMayAlias_ViewChain(t *testing.T) {
	t.Parallel()

	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	sz := g.AddConstant("sz", graph.ListType, intList(4))
	v := g.AddOp("aten::view", "v", graph.TensorType, x, sz)
	w := g.AddOp("aten::reshape", "w", graph.TensorType, v, sz)
	y := g.AddOp("aten::relu", "y", graph.TensorType, w)
	g.RegisterOutput(y)
	require.NoError(t, g.Freeze())

	db := New(g)
	require.True(t, db.MayAlias(v, x))
	require.True(t, db.MayAlias(w, x), "aliasing is transitive through view chains")
	require.True(t, db.MayAlias(w, v))
	require.False(t, db.MayAlias(y, x), "relu output is fresh storage")
	require.False(t, db.MayAlias(y, v))
}

func TestMayAlias_IsSymmetricAndReflexive(t *testing.T) {
	t.Parallel()

	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	y := g.AddOp("aten::relu", "y", graph.TensorType, x)
	g.RegisterOutput(y)
	require.NoError(t, g.Freeze())

	db := New(g)
	require.True(t, db.MayAlias(x, x))
	require.False(t, db.MayAlias(x, y))
	require.False(t, db.MayAlias(y, x))
}

func TestMayContainAlias_Containers(t *testing.T) {
	t.Parallel()

	g := graph.New()
	a := g.AddInput("a", graph.TensorType)
	b := g.AddInput("b", graph.TensorType)
	lst := g.AddOp("prim::ListConstruct", "lst", graph.ListType, a, b)
	c := g.AddOp("aten::relu", "c", graph.TensorType, a)
	g.RegisterOutput(lst)
	require.NoError(t, g.Freeze())

	db := New(g)
	one := func(v *graph.Value) []*graph.Value { return []*graph.Value{v} }

	require.True(t, db.MayContainAlias(one(lst), one(a)), "a list may contain its elements")
	require.True(t, db.MayContainAlias(one(a), one(lst)), "containment is symmetric for the query")
	require.False(t, db.MayContainAlias(one(lst), one(c)))
	require.True(t, db.MayContainAlias([]*graph.Value{lst, c}, one(c)))
}

func TestMayContainAlias_ThroughViews(t *testing.T) {
	t.Parallel()

	g := graph.New()
	x := g.AddInput("x", graph.TensorType)
	sz := g.AddConstant("sz", graph.ListType, intList(2, 2))
	v := g.AddOp("aten::view", "v", graph.TensorType, x, sz)
	lst := g.AddOp("prim::ListConstruct", "lst", graph.ListType, v)
	g.RegisterOutput(lst)
	require.NoError(t, g.Freeze())

	db := New(g)
	require.True(t, db.MayContainAlias([]*graph.Value{lst}, []*graph.Value{x}),
		"the list holds a view of x, so it may contain an alias of x")
}

func TestIsViewKind(t *testing.T) {
	t.Parallel()

	require.True(t, IsViewKind("aten::view"))
	require.True(t, IsViewKind("aten::transpose"))
	require.False(t, IsViewKind("aten::add"))
}
