package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testModel = `
graph "double" {
  input "x" {}
  node "y" {
    op     = "aten::add"
    inputs = ["x", "x"]
  }
  outputs = ["y"]
}

bench {
  warmup = 1
  runs   = 2
  input "x" {
    values = [1, 2, 3]
  }
}
`

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.hcl")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o644))
	return path
}

func TestRun_Invoke(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, err := NewConfig(Config{ModelPath: writeModel(t), LogLevel: "error", LogFormat: "text", Warmup: -1, Runs: -1})
	require.NoError(t, err)

	a := NewApp(&out, cfg, nil)
	require.NoError(t, a.Run(context.Background()))
	require.Contains(t, out.String(), "output 0: Tensor{3} [2 4 6]")
}

func TestRun_Benchmark(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, err := NewConfig(Config{ModelPath: writeModel(t), Bench: true, LogLevel: "error", LogFormat: "text", Warmup: -1, Runs: -1})
	require.NoError(t, err)

	a := NewApp(&out, cfg, nil)
	require.NoError(t, a.Run(context.Background()))
	require.Contains(t, out.String(), "Static runtime ms per iter")
	require.Contains(t, out.String(), "aten::add")
	require.Contains(t, out.String(), "Total memory managed")
}

func TestRun_MissingModel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, err := NewConfig(Config{ModelPath: filepath.Join(t.TempDir(), "nope.hcl"), LogLevel: "error", LogFormat: "text"})
	require.NoError(t, err)

	a := NewApp(&out, cfg, nil)
	require.Error(t, a.Run(context.Background()))
}

func TestNewConfig_RequiresModelPath(t *testing.T) {
	t.Parallel()

	_, err := NewConfig(Config{})
	require.Error(t, err)
}
