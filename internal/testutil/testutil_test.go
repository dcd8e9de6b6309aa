package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/ivalue"
)

func TestReferenceRun_TwoStepAdd(t *testing.T) {
	t.Parallel()

	g := TwoStepAdd()
	in := ivalue.FromTensor(MustTensor(t, []float32{1, 2}, 2))
	out, err := ReferenceRun(g, []ivalue.IValue{in})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []float32{4, 8}, out[0].Tensor().Floats())
}

func TestReferenceRun_ArityChecked(t *testing.T) {
	t.Parallel()

	_, err := ReferenceRun(TwoStepAdd(), nil)
	require.Error(t, err)
}

func TestRandomDAG_Deterministic(t *testing.T) {
	t.Parallel()

	g1, in1 := RandomDAG(7, 2, 6, []int64{2, 2})
	g2, in2 := RandomDAG(7, 2, 6, []int64{2, 2})

	require.Equal(t, len(g1.Nodes()), len(g2.Nodes()))
	for i := range g1.Nodes() {
		require.Equal(t, g1.Nodes()[i].Kind(), g2.Nodes()[i].Kind())
	}
	require.Equal(t, len(in1), len(in2))
	for i := range in1 {
		require.True(t, in1[i].Tensor().Equal(in2[i].Tensor()))
	}

	out1, err := ReferenceRun(g1, in1)
	require.NoError(t, err)
	out2, err := ReferenceRun(g2, in2)
	require.NoError(t, err)
	for i := range out1 {
		require.True(t, out1[i].Equal(&out2[i]))
	}
}
