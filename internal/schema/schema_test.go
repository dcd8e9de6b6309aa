package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/staticgrid/internal/ivalue"
)

func TestCheckAndNormalizeInputs(t *testing.T) {
	t.Parallel()

	sch := &Schema{
		Name: "forward",
		Args: []Arg{
			{Name: "x"},
			{Name: "y"},
			{Name: "scale", Optional: true, Default: ivalue.FromDouble(1.0)},
		},
	}

	cases := []struct {
		name    string
		args    []ivalue.IValue
		kwargs  map[string]ivalue.IValue
		wantLen int
		wantErr error
	}{
		{
			name:    "all positional",
			args:    []ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2), ivalue.FromDouble(3)},
			wantLen: 3,
		},
		{
			name:    "defaults fill trailing optionals",
			args:    []ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2)},
			wantLen: 3,
		},
		{
			name:    "kwargs fill by name",
			args:    []ivalue.IValue{ivalue.FromInt(1)},
			kwargs:  map[string]ivalue.IValue{"y": ivalue.FromInt(2), "scale": ivalue.FromDouble(0.5)},
			wantLen: 3,
		},
		{
			name:    "missing required",
			args:    []ivalue.IValue{ivalue.FromInt(1)},
			wantErr: ErrArityMismatch,
		},
		{
			name:    "too many positional",
			args:    []ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2), ivalue.FromInt(3), ivalue.FromInt(4)},
			wantErr: ErrArityMismatch,
		},
		{
			name:    "unknown keyword",
			args:    []ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2)},
			kwargs:  map[string]ivalue.IValue{"alpha": ivalue.FromInt(9)},
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "keyword duplicates positional",
			args:    []ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2)},
			kwargs:  map[string]ivalue.IValue{"x": ivalue.FromInt(8)},
			wantErr: ErrTypeMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			stack, err := sch.CheckAndNormalizeInputs(tc.args, tc.kwargs)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, stack, tc.wantLen)
		})
	}
}

func TestCheckAndNormalizeInputs_DefaultValue(t *testing.T) {
	t.Parallel()

	sch := &Schema{
		Name: "forward",
		Args: []Arg{{Name: "x"}, {Name: "scale", Optional: true, Default: ivalue.FromDouble(2.5)}},
	}
	stack, err := sch.CheckAndNormalizeInputs([]ivalue.IValue{ivalue.FromInt(1)}, nil)
	require.NoError(t, err)
	require.Equal(t, 2.5, stack[1].Double())
}

func TestRemoveSelf(t *testing.T) {
	t.Parallel()

	sch := &Schema{Name: "forward", Args: []Arg{{Name: "self"}, {Name: "x"}}}
	stripped, err := sch.RemoveSelf()
	require.NoError(t, err)
	require.Len(t, stripped.Args, 1)
	require.Equal(t, "x", stripped.Args[0].Name)
	// The original is untouched.
	require.Len(t, sch.Args, 2)

	_, err = stripped.RemoveSelf()
	require.Error(t, err)
}

func TestVariadicSchema(t *testing.T) {
	t.Parallel()

	sch := For("aten::cat")
	require.NotNil(t, sch)
	require.True(t, sch.HasVarArgs())

	stack, err := sch.CheckAndNormalizeInputs([]ivalue.IValue{ivalue.FromInt(1), ivalue.FromInt(2)}, nil)
	require.NoError(t, err)
	require.Len(t, stack, 2)

	_, err = sch.CheckAndNormalizeInputs(nil, map[string]ivalue.IValue{"dim": ivalue.FromInt(0)})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestMutability(t *testing.T) {
	t.Parallel()

	require.False(t, For("aten::add").IsMutable())
	require.True(t, For("aten::view").IsMutable(), "view aliases its input")

	var missing *Schema
	require.True(t, missing.IsMutable(), "unknown schemas are conservatively mutable")
	require.False(t, missing.HasVarArgs())
}
