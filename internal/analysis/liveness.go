package analysis

import (
	"fmt"

	"github.com/vk/staticgrid/internal/aliasdb"
	"github.com/vk/staticgrid/internal/graph"
)

// LivenessMap relates each intermediate value to every value whose runtime
// live range overlaps its own. The relation is symmetric; always-alive
// values do not appear.
type LivenessMap map[*graph.Value]map[*graph.Value]bool

// Overlap reports whether v and w are ever live at the same time.
func (m LivenessMap) Overlap(v, w *graph.Value) bool {
	return m[v][w]
}

// Liveness scans the graph in program order, tracking for every live value
// the nodes that may still consume it (its use chain) and for every node
// the values it may consume (its def chain). A value dies when its use
// chain drains; everything still live at termination must be always-alive,
// otherwise the graph breaks the SSA ordering invariant and we refuse it.
func Liveness(g *graph.Graph, alwaysAlive map[*graph.Value]bool, db aliasdb.DB) (LivenessMap, error) {
	liveness := make(LivenessMap)

	// Creation order of values lets the alias refinement below consider
	// only values created at or after the one being activated.
	var creationOrder []*graph.Value
	creationIdx := make(map[*graph.Value]int)
	for _, n := range g.Nodes() {
		for _, v := range n.Outputs() {
			creationIdx[v] = len(creationOrder)
			creationOrder = append(creationOrder, v)
		}
	}

	// Presence in useChain means the value is live.
	useChain := make(map[*graph.Value]map[*graph.Node]bool)
	defChain := make(map[*graph.Node]map[*graph.Value]bool)

	chainFor := func(v *graph.Value) map[*graph.Node]bool {
		c, ok := useChain[v]
		if !ok {
			c = make(map[*graph.Node]bool)
			useChain[v] = c
		}
		return c
	}
	record := func(v *graph.Value, n *graph.Node) {
		chainFor(v)[n] = true
		if defChain[n] == nil {
			defChain[n] = make(map[*graph.Value]bool)
		}
		defChain[n][v] = true
	}

	var activate func(v *graph.Value)
	activate = func(v *graph.Value) {
		if _, ok := liveness[v]; ok {
			return
		}
		liveness[v] = make(map[*graph.Value]bool)
		for liveV := range useChain {
			liveness[v][liveV] = true
			liveness[liveV][v] = true
		}

		// Values with no consumers die immediately and never enter the
		// use chain.
		if v.HasUses() {
			for _, user := range v.Uses() {
				record(v, user)
			}
		}

		// Refine aliases of v to those created at or after v: a value
		// produced earlier cannot become an alias of a freshly created
		// one. Deliberately under-approximate (see DESIGN.md); a sharper
		// analysis could admit more reuse but would change plans.
		var refined []*graph.Value
		for idx := creationIdx[v]; idx < len(creationOrder); idx++ {
			a := creationOrder[idx]
			if db.MayContainAlias([]*graph.Value{v}, []*graph.Value{a}) {
				refined = append(refined, a)
			}
		}
		for _, a := range refined {
			activate(a)
			// Adopt the alias's users as our own: consuming an alias
			// keeps v live.
			for _, user := range a.Uses() {
				record(v, user)
			}
		}
	}

	for _, n := range g.Nodes() {
		for _, v := range n.Outputs() {
			if !alwaysAlive[v] {
				activate(v)
			}
		}

		var dead []*graph.Value
		for v := range defChain[n] {
			delete(useChain[v], n)
			if len(useChain[v]) == 0 {
				dead = append(dead, v)
			}
		}
		for _, v := range dead {
			delete(useChain, v)
		}
	}

	for v := range useChain {
		if !alwaysAlive[v] {
			return nil, fmt.Errorf("analysis: value %%%s still live after the last node", v.Name())
		}
	}

	// Boundary case: a node's outputs exist while its inputs are still
	// being read, so force them pairwise live.
	for _, n := range g.Nodes() {
		for _, in := range n.Inputs() {
			for _, out := range n.Outputs() {
				if liveness[in] != nil && liveness[out] != nil {
					liveness[in][out] = true
					liveness[out][in] = true
				}
			}
		}
	}

	return liveness, nil
}
