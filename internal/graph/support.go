package graph

import (
	"context"

	"github.com/vk/staticgrid/internal/ctxlog"
)

// Resolver answers whether an operator kind can be dispatched, either
// through the boxed registry or as a native implementation. The kernel
// library satisfies this.
type Resolver interface {
	IsRegistered(kind string) bool
	NativeRegistered(kind string) bool
}

// CheckSupported reports whether the static runtime can execute the graph:
// every non-constant node must resolve to a boxed or native operator.
// Unsupported kinds are logged individually so a failing model names every
// offender at once.
func CheckSupported(ctx context.Context, g *Graph, r Resolver) bool {
	logger := ctxlog.FromContext(ctx)
	supported := true
	for _, n := range g.Nodes() {
		if n.IsConstant() {
			continue
		}
		if !r.IsRegistered(n.Kind()) && !r.NativeRegistered(n.Kind()) {
			logger.Warn("Found unsupported op.", "kind", n.Kind(), "node", n.String())
			supported = false
		}
	}
	return supported
}
