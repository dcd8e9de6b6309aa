package runtime

import (
	"errors"

	"github.com/vk/staticgrid/internal/kernels"
	"github.com/vk/staticgrid/internal/schema"
)

// Construction errors are terminal for the StaticModule. Invocation errors
// propagate unchanged; partial execution leaves the runtime in a state
// where the next Invoke still succeeds.
var (
	// ErrUnsupportedGraph marks graphs the static runtime cannot execute:
	// sub-blocks or operators with neither a boxed nor a native kernel.
	ErrUnsupportedGraph = errors.New("unsupported graph")
	// ErrInvalidOptions marks conflicting option combinations.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrMissingSchema is returned when a kwargs invocation reaches a
	// module constructed without a schema.
	ErrMissingSchema = errors.New("missing schema")
	// ErrMalformedInput marks construction-time input surgery failures,
	// e.g. a module-self input that could not be removed.
	ErrMalformedInput = errors.New("malformed input")

	// ErrArityMismatch and ErrTypeMismatch surface schema normalization
	// failures; ErrKernelFailure wraps errors escaping kernel bodies.
	ErrArityMismatch = schema.ErrArityMismatch
	ErrTypeMismatch  = schema.ErrTypeMismatch
	ErrKernelFailure = kernels.ErrKernelFailure

	// Invariant violations, checked when debug checks are on.
	ErrInputOutputOverlap = errors.New("input/output memory overlap")
	ErrMemoryLeak         = errors.New("memory leak")
)
