package runtime

import (
	"context"
	"fmt"

	"github.com/vk/staticgrid/internal/aliasdb"
	"github.com/vk/staticgrid/internal/analysis"
	"github.com/vk/staticgrid/internal/ctxlog"
	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
	"github.com/vk/staticgrid/internal/kernels"
	"github.com/vk/staticgrid/internal/schema"
)

// DefInfo is an SSA reference (origin, index): origin is OriginInput,
// OriginConstant, or a non-negative index into the flat node vector.
type DefInfo struct {
	Node  int
	Index int
}

// Sentinel origins for DefInfo.Node.
const (
	OriginInput    = -1
	OriginConstant = -2
)

// StaticModule is the immutable compiled artifact: flat node templates,
// constants pool, SSA wiring table, schema, and the memory-planning
// analysis results. Any number of StaticRuntime instances may share one
// module from independent goroutines.
type StaticModule struct {
	graph *graph.Graph
	opts  Options
	reg   *kernels.Registry

	schema           *schema.Schema
	firstInputIsSelf bool
	selfValue        ivalue.IValue

	// constants is append-only during construction and never moves
	// afterwards; input pointers into it stay valid for the module's
	// lifetime.
	constants []ivalue.IValue

	nodes      []ProcessedNode // templates; cloned per runtime
	inputDefs  [][]DefInfo     // wiring table, one row per node
	outputDefs []DefInfo

	alwaysAlive map[*graph.Value]bool
	sameStorage map[*graph.Value][]*graph.Value

	cachedRuntime *StaticRuntime
}

// New compiles a frozen graph with the default kernel registry and no
// module schema; kwargs invocations will fail with ErrMissingSchema.
func New(ctx context.Context, g *graph.Graph, opts Options) (*StaticModule, error) {
	return NewWithSchema(ctx, g, nil, opts)
}

// NewWithSchema compiles a frozen graph together with its forward schema,
// enabling keyword-argument invocation.
func NewWithSchema(ctx context.Context, g *graph.Graph, sch *schema.Schema, opts Options) (*StaticModule, error) {
	logger := ctxlog.FromContext(ctx)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := g.Freeze(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGraph, err)
	}

	sm := &StaticModule{graph: g, opts: opts, reg: kernels.Default(), schema: sch}
	logger.Debug("Building static module.",
		"cleanupActivations", opts.CleanupActivations,
		"enableOutVariant", opts.EnableOutVariant,
		"optimizeMemory", opts.OptimizeMemory,
		"optimizeGraphOutputMemory", opts.OptimizeGraphOutputMemory)

	if !graph.CheckSupported(ctx, g, sm.reg) {
		return nil, fmt.Errorf("%w: graph contains unresolvable operators", ErrUnsupportedGraph)
	}

	if err := sm.handleSelfInput(); err != nil {
		return nil, err
	}
	if err := sm.buildWiring(ctx); err != nil {
		return nil, err
	}

	db := aliasdb.New(g)
	sm.alwaysAlive = analysis.AlwaysAlive(g, db)
	if opts.OptimizeMemory {
		lm, err := analysis.Liveness(g, sm.alwaysAlive, db)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedGraph, err)
		}
		candidates, allValues := analysis.PlanningCandidates(g, sm.reg)
		sm.sameStorage = analysis.SameStorage(lm, sm.alwaysAlive, candidates, allValues, db)
	}
	return sm, nil
}

// handleSelfInput erases an unused module-self first input (removing
// "self" from the schema), or records that the first input is self.
func (sm *StaticModule) handleSelfInput() error {
	inputs := sm.graph.Inputs()
	if len(inputs) == 0 || !inputs[0].IsModuleSelf() {
		return nil
	}
	if inputs[0].HasUses() {
		sm.firstInputIsSelf = true
		return nil
	}
	if err := sm.graph.EraseInput(0); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if sm.schema != nil {
		stripped, err := sm.schema.RemoveSelf()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		sm.schema = stripped
	}
	return nil
}

// buildWiring fills the constants pool, builds per-node DefInfo rows and
// ProcessedNode templates, and records the output DefInfos.
func (sm *StaticModule) buildWiring(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	g := sm.graph

	valueDef := make(map[*graph.Value]DefInfo)
	valueCell := make(map[*graph.Value]*ivalue.IValue)
	for i, in := range g.Inputs() {
		valueDef[in] = DefInfo{Node: OriginInput, Index: i}
	}

	// Constants first so the pool is complete — and its addresses final —
	// before any template points into it.
	numConstants := 0
	for _, n := range g.Nodes() {
		if n.IsConstant() {
			numConstants++
		}
	}
	sm.constants = make([]ivalue.IValue, 0, numConstants)
	for _, n := range g.Nodes() {
		if !n.IsConstant() {
			continue
		}
		v := n.Outputs()[0]
		sm.constants = append(sm.constants, n.Payload())
		idx := len(sm.constants) - 1
		valueDef[v] = DefInfo{Node: OriginConstant, Index: idx}
		valueCell[v] = &sm.constants[idx]
	}

	nodeIdx := 0
	for _, n := range g.Nodes() {
		if n.IsConstant() {
			continue
		}
		defs := make([]DefInfo, len(n.Inputs()))
		inputs := make([]*ivalue.IValue, len(n.Inputs()))
		for i, in := range n.Inputs() {
			def, ok := valueDef[in]
			if !ok {
				return fmt.Errorf("%w: node %d reads undefined value %%%s", ErrUnsupportedGraph, nodeIdx, in.Name())
			}
			defs[i] = def
			inputs[i] = valueCell[in] // nil unless constant; runtimes bind the rest
		}
		pn, err := newProcessedNode(n, inputs, sm.reg, sm.opts.EnableOutVariant)
		if err != nil {
			return err
		}
		switch {
		case pn.outFn != nil:
			logger.Debug("Using out variant.", "node", n.String())
		case pn.nativeFn != nil:
			logger.Debug("Using native impl.", "node", n.String())
		default:
			logger.Debug("Falling back to boxed op.", "node", n.String())
		}
		sm.inputDefs = append(sm.inputDefs, defs)
		sm.nodes = append(sm.nodes, pn)
		for i, out := range n.Outputs() {
			valueDef[out] = DefInfo{Node: nodeIdx, Index: i}
		}
		nodeIdx++
	}

	for _, out := range g.Outputs() {
		def, ok := valueDef[out]
		if !ok {
			return fmt.Errorf("%w: graph output %%%s has no definition", ErrUnsupportedGraph, out.Name())
		}
		sm.outputDefs = append(sm.outputDefs, def)
	}
	return nil
}

// Graph returns the compiled graph.
func (sm *StaticModule) Graph() *graph.Graph { return sm.graph }

// Opts returns the module options.
func (sm *StaticModule) Opts() Options { return sm.opts }

// Schema returns the forward schema, nil when the module has none.
func (sm *StaticModule) Schema() *schema.Schema { return sm.schema }

// NumInputs returns the graph input count.
func (sm *StaticModule) NumInputs() int { return len(sm.graph.Inputs()) }

// NumOutputs returns the graph output count.
func (sm *StaticModule) NumOutputs() int { return len(sm.graph.Outputs()) }

// Constants exposes the constants pool.
func (sm *StaticModule) Constants() []ivalue.IValue { return sm.constants }

// FirstInputIsSelf reports whether input 0 is the module-self value.
func (sm *StaticModule) FirstInputIsSelf() bool { return sm.firstInputIsSelf }

// SetSelf installs the module-self value prepended on invocation when
// FirstInputIsSelf.
func (sm *StaticModule) SetSelf(v ivalue.IValue) { sm.selfValue = v }

// AlwaysAlive returns the values whose lifetime exceeds one run.
func (sm *StaticModule) AlwaysAlive() map[*graph.Value]bool { return sm.alwaysAlive }

// SameStorage returns the same-storage partition, nil unless
// OptimizeMemory was set.
func (sm *StaticModule) SameStorage() map[*graph.Value][]*graph.Value { return sm.sameStorage }

// Runtime returns the module's cached StaticRuntime, creating it on first
// use. The cached runtime must not be entered concurrently; callers that
// want parallel serving should pool NewRuntime instances instead.
func (sm *StaticModule) Runtime() *StaticRuntime {
	if sm.cachedRuntime == nil {
		sm.cachedRuntime = NewRuntime(sm)
	}
	return sm.cachedRuntime
}
