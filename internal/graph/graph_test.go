package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/ivalue"
)

func TestFreeze_ComputesUses(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.AddInput("x", TensorType)
	y := g.AddOp("aten::add", "y", TensorType, x, x)
	z := g.AddOp("aten::relu", "z", TensorType, y)
	g.RegisterOutput(z)
	require.NoError(t, g.Freeze())

	require.Len(t, x.Uses(), 2, "x is read twice by the add node")
	require.Len(t, y.Uses(), 1)
	require.Empty(t, z.Uses())
	require.Nil(t, x.Producer())
	require.Equal(t, "aten::add", y.Producer().Kind())
}

func TestFreeze_RejectsForwardReference(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.AddInput("x", TensorType)
	// Wire a node to a value that no node produces before it.
	late := g.newValue("late", TensorType, nil)
	g.AddNode("aten::relu", []*Value{late}, []string{"a"}, []Type{TensorType})
	_ = x
	require.Error(t, g.Freeze())
}

func TestFreeze_RejectsUnproducedOutput(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddInput("x", TensorType)
	ghost := g.newValue("ghost", TensorType, nil)
	g.RegisterOutput(ghost)
	require.Error(t, g.Freeze())
}

func TestEraseInput(t *testing.T) {
	t.Parallel()

	g := New()
	self := g.AddSelfInput()
	x := g.AddInput("x", TensorType)
	y := g.AddOp("aten::relu", "y", TensorType, x)
	g.RegisterOutput(y)
	require.NoError(t, g.Freeze())

	require.True(t, self.IsModuleSelf())
	require.NoError(t, g.EraseInput(0))
	require.Len(t, g.Inputs(), 1)
	require.Equal(t, "x", g.Inputs()[0].Name())

	// A used input refuses to go.
	require.Error(t, g.EraseInput(0))
}

func TestConstantNode(t *testing.T) {
	t.Parallel()

	g := New()
	payload := ivalue.FromInt(7)
	c := g.AddConstant("c", ScalarType, payload)
	g.RegisterOutput(c)
	require.NoError(t, g.Freeze())

	n := c.Producer()
	require.True(t, n.IsConstant())
	np := n.Payload()
	require.Equal(t, int64(7), np.Int())
}

type fakeResolver struct {
	boxed  map[string]bool
	native map[string]bool
}

func (r fakeResolver) IsRegistered(kind string) bool     { return r.boxed[kind] }
func (r fakeResolver) NativeRegistered(kind string) bool { return r.native[kind] }

func TestCheckSupported(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.AddInput("x", TensorType)
	y := g.AddOp("custom::mystery", "y", TensorType, x)
	g.RegisterOutput(y)
	require.NoError(t, g.Freeze())

	ctx := context.Background()
	require.False(t, CheckSupported(ctx, g, fakeResolver{}))
	require.True(t, CheckSupported(ctx, g, fakeResolver{boxed: map[string]bool{"custom::mystery": true}}))
	require.True(t, CheckSupported(ctx, g, fakeResolver{native: map[string]bool{"custom::mystery": true}}))
}

func TestNodeString(t *testing.T) {
	t.Parallel()

	g := New()
	x := g.AddInput("x", TensorType)
	y := g.AddOp("aten::add", "y", TensorType, x, x)
	require.Equal(t, "%y = aten::add(%x, %x)", y.Producer().String())
}
