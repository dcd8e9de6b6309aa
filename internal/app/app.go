// Package app wires the staticgrid pipeline: fetch the model definition,
// translate it, compile the StaticModule, and run or benchmark it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/staticgrid/internal/blobs"
	"github.com/vk/staticgrid/internal/ctxlog"
	"github.com/vk/staticgrid/internal/hclgraph"
	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/runtime"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	fetcher blobs.Fetcher
}

// NewApp constructs the application with its own isolated logger.
func NewApp(outW io.Writer, config *Config, fetcher blobs.Fetcher) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	if fetcher == nil {
		fetcher = &blobs.Store{}
	}
	return &App{outW: outW, logger: logger, config: config, fetcher: fetcher}
}

// Run executes the configured action: a single invocation printing the
// outputs, or a benchmark printing the timing tables.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	src, err := a.fetcher.Fetch(ctx, a.config.ModelPath)
	if err != nil {
		return fmt.Errorf("fetching model definition: %w", err)
	}
	def, err := hclgraph.Parse(ctx, a.config.ModelPath, src)
	if err != nil {
		return err
	}
	a.logger.Info("Model definition loaded.", "graph", def.Name, "nodes", len(def.Graph.Nodes()))

	sm, err := runtime.NewWithSchema(ctx, def.Graph, def.Schema, def.Options)
	if err != nil {
		return err
	}
	rt := sm.Runtime()

	if len(def.Bench.Inputs) != len(def.Graph.Inputs()) {
		return fmt.Errorf("model definition has no bench inputs for graph %q", def.Name)
	}

	if a.config.Bench {
		warmup, runs := def.Bench.Warmup, def.Bench.Runs
		if a.config.Warmup >= 0 {
			warmup = a.config.Warmup
		}
		if a.config.Runs >= 0 {
			runs = a.config.Runs
		}
		if runs < 1 {
			runs = 1
		}
		a.logger.Info("Benchmarking model.", "warmup", warmup, "runs", runs)
		return rt.Benchmark(ctx, def.Bench.Inputs, nil, warmup, runs, a.outW)
	}

	out, err := rt.Invoke(ctx, def.Bench.Inputs, nil)
	if err != nil {
		return err
	}
	a.printOutput(&out)
	return nil
}

func (a *App) printOutput(out *ivalue.IValue) {
	if out.Kind() == ivalue.KindTuple {
		for i := range out.Elems() {
			a.printOne(i, &out.Elems()[i])
		}
		return
	}
	a.printOne(0, out)
}

func (a *App) printOne(i int, v *ivalue.IValue) {
	if t := v.Tensor(); t != nil {
		fmt.Fprintf(a.outW, "output %d: %s %v\n", i, t.String(), t.Floats())
		return
	}
	fmt.Fprintf(a.outW, "output %d: %s\n", i, v.Summary())
}
