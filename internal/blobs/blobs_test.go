package blobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetch_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.hcl")
	require.NoError(t, os.WriteFile(path, []byte("graph \"g\" {}"), 0o644))

	store := &Store{}
	data, err := store.Fetch(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "graph \"g\" {}", string(data))
}

func TestFetch_MissingLocalFile(t *testing.T) {
	t.Parallel()

	store := &Store{}
	_, err := store.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitGCSRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ref     string
		bucket  string
		object  string
		wantErr bool
	}{
		{ref: "gs://models/prod/mlp.hcl", bucket: "models", object: "prod/mlp.hcl"},
		{ref: "gs://models/a", bucket: "models", object: "a"},
		{ref: "gs://models", wantErr: true},
		{ref: "gs://models/", wantErr: true},
		{ref: "gs:///object", wantErr: true},
	}
	for _, tc := range cases {
		bucket, object, err := splitGCSRef(tc.ref)
		if tc.wantErr {
			require.Error(t, err, tc.ref)
			continue
		}
		require.NoError(t, err, tc.ref)
		require.Equal(t, tc.bucket, bucket)
		require.Equal(t, tc.object, object)
	}
}
