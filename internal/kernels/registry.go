// Package kernels is the kernel library behind the static runtime: a
// registry of out-variant, native, and boxed implementations keyed by
// operator kind, plus the two predicates the memory planner asks of it.
// Out-variant kernels write into preallocated destination storages; native
// kernels own their allocation discipline (the view family allocates
// nothing at all); boxed kernels are the universal fallback operating on a
// value stack.
package kernels

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

// ErrKernelFailure wraps every error escaping a kernel body.
var ErrKernelFailure = errors.New("kernel failure")

// Frame is the view of a prepared node a kernel executes against: input
// slots resolved to pointers, output slots owned by the node.
type Frame interface {
	NumInputs() int
	Input(i int) *ivalue.IValue
	Output(i int) *ivalue.IValue
	Node() *graph.Node
}

// OutVariantFn writes results directly into the frame's output storages,
// reallocating only when the existing storage is too small.
type OutVariantFn func(f Frame) error

// NativeFn runs an operator outside the arena; it owns its allocations.
type NativeFn func(f Frame) error

// BoxedFn consumes a stack of inputs and returns a stack of outputs,
// allocating freshly. Variadic operators receive the input arity as a
// trailing Int entry.
type BoxedFn func(stack []ivalue.IValue) ([]ivalue.IValue, error)

// outVariant couples an out-variant implementation with its planner
// eligibility.
type outVariant struct {
	fn OutVariantFn
	// reusable marks the operator's inputs and outputs as storage-reuse
	// candidates. Container constructors have out variants but their
	// values must not enter the arena.
	reusable bool
	// optimizableContainer marks outputs as leak-don't-free containers.
	optimizableContainer bool
}

// Registry holds the registered kernels for one process. The zero value is
// unusable; use New or Default.
type Registry struct {
	outVariants map[string]outVariant
	natives     map[string]NativeFn
	boxed       map[string]BoxedFn
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		outVariants: make(map[string]outVariant),
		natives:     make(map[string]NativeFn),
		boxed:       make(map[string]BoxedFn),
	}
}

var defaultRegistry = func() *Registry {
	r := New()
	registerBuiltins(r)
	return r
}()

// Default returns the process-wide registry with the built-in float32 CPU
// kernels registered.
func Default() *Registry {
	return defaultRegistry
}

// RegisterOutVariant registers an out-variant kernel for an operator kind.
func (r *Registry) RegisterOutVariant(kind string, fn OutVariantFn, reusable, optimizableContainer bool) {
	if _, exists := r.outVariants[kind]; exists {
		panic(fmt.Sprintf("kernels: out variant for %q already registered", kind))
	}
	slog.Debug("Registering out-variant kernel.", "kind", kind)
	r.outVariants[kind] = outVariant{fn: fn, reusable: reusable, optimizableContainer: optimizableContainer}
}

// RegisterNative registers a native kernel for an operator kind.
func (r *Registry) RegisterNative(kind string, fn NativeFn) {
	if _, exists := r.natives[kind]; exists {
		panic(fmt.Sprintf("kernels: native kernel for %q already registered", kind))
	}
	slog.Debug("Registering native kernel.", "kind", kind)
	r.natives[kind] = fn
}

// RegisterBoxed registers the boxed fallback for an operator kind.
func (r *Registry) RegisterBoxed(kind string, fn BoxedFn) {
	if _, exists := r.boxed[kind]; exists {
		panic(fmt.Sprintf("kernels: boxed op for %q already registered", kind))
	}
	slog.Debug("Registering boxed op.", "kind", kind)
	r.boxed[kind] = fn
}

// OutVariantFor returns the out-variant kernel for a node, nil when absent.
func (r *Registry) OutVariantFor(n *graph.Node) OutVariantFn {
	if ov, ok := r.outVariants[n.Kind()]; ok {
		return ov.fn
	}
	return nil
}

// NativeFor returns the native kernel for a node, nil when absent.
func (r *Registry) NativeFor(n *graph.Node) NativeFn {
	return r.natives[n.Kind()]
}

// BoxedFor returns the boxed fallback for a node, nil when absent.
func (r *Registry) BoxedFor(n *graph.Node) BoxedFn {
	return r.boxed[n.Kind()]
}

// CanReuseInputsOutputs reports whether a node participates in storage
// reuse: it must have a reusable out-variant kernel.
func (r *Registry) CanReuseInputsOutputs(n *graph.Node) bool {
	ov, ok := r.outVariants[n.Kind()]
	return ok && ov.reusable
}

// IsOptimizableContainerType reports whether a node's outputs are container
// values that are intentionally leaked between runs because reallocating
// them is expensive.
func (r *Registry) IsOptimizableContainerType(n *graph.Node) bool {
	ov, ok := r.outVariants[n.Kind()]
	return ok && ov.optimizableContainer
}

// IsRegistered reports whether a boxed operator exists for the kind.
func (r *Registry) IsRegistered(kind string) bool {
	_, ok := r.boxed[kind]
	return ok
}

// NativeRegistered reports whether a native kernel exists for the kind.
func (r *Registry) NativeRegistered(kind string) bool {
	_, ok := r.natives[kind]
	return ok
}
