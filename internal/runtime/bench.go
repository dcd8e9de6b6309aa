package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vk/staticgrid/internal/ivalue"
)

// IndividualMetrics aggregates per-node and per-kind timings for one
// benchmark session. Times are milliseconds; all but SetupTime, which is
// measured once, are averaged over the main runs.
type IndividualMetrics struct {
	SetupTime         float64
	MemoryAllocTime   float64
	MemoryDeallocTime float64
	OutputDeallocTime float64
	TotalTime         float64

	TimePerNode      []float64
	TimePerKind      map[string]float64
	PercentPerKind   map[string]float64
	InstancesPerKind map[string]int

	OutKinds        map[string]bool
	OutNodesCount   int
	TotalNodesCount int
}

func millisSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

// BenchmarkModel measures whole-run latency and returns milliseconds per
// iteration.
func (rt *StaticRuntime) BenchmarkModel(ctx context.Context, args []ivalue.IValue, kwargs map[string]ivalue.IValue, warmupRuns, mainRuns int) (float64, error) {
	if warmupRuns < 0 || mainRuns < 1 {
		return 0, fmt.Errorf("%w: warmup %d, main %d", ErrInvalidOptions, warmupRuns, mainRuns)
	}
	for i := 0; i < warmupRuns; i++ {
		if _, err := rt.Invoke(ctx, args, kwargs); err != nil {
			return 0, err
		}
	}
	start := time.Now()
	for i := 0; i < mainRuns; i++ {
		if _, err := rt.Invoke(ctx, args, kwargs); err != nil {
			return 0, err
		}
	}
	return millisSince(start) / float64(mainRuns), nil
}

// BenchmarkIndividualOps times each node separately, plus the planner's
// allocate/deallocate phases and output release.
func (rt *StaticRuntime) BenchmarkIndividualOps(ctx context.Context, args []ivalue.IValue, kwargs map[string]ivalue.IValue, warmupRuns, mainRuns int) (*IndividualMetrics, error) {
	if warmupRuns < 0 || mainRuns < 1 {
		return nil, fmt.Errorf("%w: warmup %d, main %d", ErrInvalidOptions, warmupRuns, mainRuns)
	}

	results := &IndividualMetrics{
		TimePerNode:      make([]float64, len(rt.nodes)),
		TimePerKind:      make(map[string]float64),
		PercentPerKind:   make(map[string]float64),
		InstancesPerKind: make(map[string]int),
		OutKinds:         make(map[string]bool),
	}

	setupStart := time.Now()
	if err := rt.setInputs(args, kwargs); err != nil {
		return nil, err
	}
	results.SetupTime = millisSince(setupStart)

	for i := 0; i < warmupRuns; i++ {
		if _, err := rt.Invoke(ctx, args, kwargs); err != nil {
			return nil, err
		}
	}

	for k := 0; k < mainRuns; k++ {
		if err := rt.setInputs(args, kwargs); err != nil {
			return nil, err
		}

		start := time.Now()
		if rt.planner != nil {
			rt.planner.allocate()
		}
		results.MemoryAllocTime += millisSince(start)

		for i := range rt.nodes {
			start = time.Now()
			if err := rt.nodes[i].run(); err != nil {
				return nil, fmt.Errorf("node %d (%s): %w", i, rt.nodes[i].Node().Kind(), err)
			}
			results.TimePerNode[i] += millisSince(start)
		}

		start = time.Now()
		if rt.module.opts.CleanupActivations {
			if rt.planner == nil {
				rt.planner = newMemoryPlanner(rt)
			}
			rt.planner.deallocate()
			rt.cleanUpInputIValues()
		}
		results.MemoryDeallocTime += millisSince(start)

		start = time.Now()
		output := rt.gatherOutputs()
		output.Reset()
		results.OutputDeallocTime += millisSince(start)
	}

	for i := range rt.nodes {
		kind := rt.nodes[i].Node().Kind()
		results.TimePerNode[i] /= float64(mainRuns)
		results.TimePerKind[kind] += results.TimePerNode[i]
		results.InstancesPerKind[kind]++
		if rt.nodes[i].HasOutVariant() {
			results.OutKinds[kind] = true
			results.OutNodesCount++
		}
		results.TotalTime += results.TimePerNode[i]
	}
	results.TotalNodesCount = len(rt.nodes)
	results.MemoryAllocTime /= float64(mainRuns)
	results.MemoryDeallocTime /= float64(mainRuns)
	results.OutputDeallocTime /= float64(mainRuns)
	for kind, ms := range results.TimePerKind {
		results.PercentPerKind[kind] = ms / results.TotalTime * 100
	}
	return results, nil
}

// Benchmark measures and prints whole-model latency, per-node and per-kind
// timing tables, and arena statistics. Not part of the hot path; its final
// state matches an equal number of Invoke calls.
func (rt *StaticRuntime) Benchmark(ctx context.Context, args []ivalue.IValue, kwargs map[string]ivalue.IValue, warmupRuns, mainRuns int, w io.Writer) error {
	timePerIter, err := rt.BenchmarkModel(ctx, args, kwargs, warmupRuns, mainRuns)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Static runtime ms per iter: %g. Iters per second: %g\n", timePerIter, 1000.0/timePerIter)

	results, err := rt.BenchmarkIndividualOps(ctx, args, kwargs, warmupRuns, mainRuns)
	if err != nil {
		return err
	}

	for i := range rt.nodes {
		fmt.Fprintf(w, "Node #%d: %g ms/iter, %s\n", i, results.TimePerNode[i], rt.nodes[i].Node().String())
	}

	kinds := make([]string, 0, len(results.TimePerKind))
	for kind := range results.TimePerKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return results.TimePerKind[kinds[i]] > results.TimePerKind[kinds[j]]
	})

	fmt.Fprintln(w, "Time per node type:")
	for _, kind := range kinds {
		fmt.Fprintf(w, "%15g ms. %10g%%. %s (%d nodes", results.TimePerKind[kind], results.PercentPerKind[kind], kind, results.InstancesPerKind[kind])
		if results.OutKinds[kind] {
			fmt.Fprintln(w, ", out variant)")
		} else {
			fmt.Fprintln(w, ")")
		}
	}
	fmt.Fprintf(w, "%15g ms. in Total\n", results.TotalTime)
	fmt.Fprintf(w, "StaticRuntime setup time: %g ms\n", results.SetupTime)
	fmt.Fprintf(w, "Memory allocation time: %g ms\n", results.MemoryAllocTime)
	fmt.Fprintf(w, "Memory deallocation time: %g ms\n", results.MemoryDeallocTime)
	fmt.Fprintf(w, "Outputs deallocation time: %g ms\n", results.OutputDeallocTime)

	if rt.planner != nil {
		fmt.Fprintf(w, "Total memory managed: %d bytes\n", rt.planner.TotalManaged())
		if rt.module.opts.OptimizeMemory {
			fmt.Fprintf(w, "Total number of reused tensors: %d\n", rt.planner.TotalReusedTensors())
		}
		fmt.Fprintf(w, "Total number of 'out' variant nodes/total number of nodes: %d/%d (%g%%)\n",
			results.OutNodesCount, results.TotalNodesCount,
			100.0*float64(results.OutNodesCount)/float64(results.TotalNodesCount))
	}
	return rt.CheckForMemoryLeak(true)
}
