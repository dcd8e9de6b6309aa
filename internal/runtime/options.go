package runtime

import "fmt"

// Options control how a StaticModule is compiled and executed.
type Options struct {
	// CleanupActivations enables the managed-memory planner and the
	// per-run deallocate pass.
	CleanupActivations bool
	// EnableOutVariant permits dispatching to out-variant kernels.
	EnableOutVariant bool
	// OptimizeMemory runs the liveness analyses and computes the
	// same-storage partition. Requires EnableOutVariant.
	OptimizeMemory bool
	// OptimizeGraphOutputMemory additionally admits graph-escape tensors
	// into planning. Requires the two flags above. The current planner
	// accepts the flag but still keeps graph outputs out of the arena.
	OptimizeGraphOutputMemory bool
}

// DefaultOptions is the configuration used by the CLI when the model file
// does not override it.
var DefaultOptions = Options{
	CleanupActivations: true,
	EnableOutVariant:   true,
	OptimizeMemory:     true,
}

func (o Options) validate() error {
	if o.OptimizeGraphOutputMemory && !(o.EnableOutVariant && o.OptimizeMemory) {
		return fmt.Errorf("%w: optimize_graph_output_memory requires enable_out_variant and optimize_memory", ErrInvalidOptions)
	}
	if o.OptimizeMemory && !o.EnableOutVariant {
		return fmt.Errorf("%w: optimize_memory requires enable_out_variant", ErrInvalidOptions)
	}
	return nil
}
