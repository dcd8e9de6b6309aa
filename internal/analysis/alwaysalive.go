package analysis

import (
	"github.com/vk/staticgrid/internal/aliasdb"
	"github.com/vk/staticgrid/internal/graph"
)

// AlwaysAlive returns the set of values whose live range exceeds a single
// inference call: graph inputs, graph outputs, constant outputs, and every
// node output that may alias one of those. A single expansion pass
// suffices because MayContainAlias already closes over aliases of the
// seeded set.
func AlwaysAlive(g *graph.Graph, db aliasdb.DB) map[*graph.Value]bool {
	alive := make(map[*graph.Value]bool)
	var aliveList []*graph.Value
	add := func(v *graph.Value) {
		if !alive[v] {
			alive[v] = true
			aliveList = append(aliveList, v)
		}
	}

	for _, in := range g.Inputs() {
		add(in)
	}
	for _, out := range g.Outputs() {
		add(out)
	}
	for _, n := range g.Nodes() {
		if n.IsConstant() {
			for _, out := range n.Outputs() {
				add(out)
			}
		}
	}

	for _, n := range g.Nodes() {
		if n.IsConstant() {
			continue
		}
		for _, v := range n.Outputs() {
			if db.MayContainAlias([]*graph.Value{v}, aliveList) {
				add(v)
			}
		}
	}
	return alive
}
