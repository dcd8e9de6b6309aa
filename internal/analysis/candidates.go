package analysis

import "github.com/vk/staticgrid/internal/graph"

// ReusePredicate answers whether a node's inputs and outputs may
// participate in storage reuse. The kernel registry satisfies this.
type ReusePredicate interface {
	CanReuseInputsOutputs(n *graph.Node) bool
}

// PlanningCandidates collects the values eligible for memory planning:
// those touched exclusively by reuse-eligible nodes. A single ineligible
// touch anywhere — as input or output — disqualifies a value. The second
// return is every value in first-appearance order; downstream clustering
// iterates it to stay deterministic.
func PlanningCandidates(g *graph.Graph, pred ReusePredicate) (candidates, allValues []*graph.Value) {
	seen := make(map[*graph.Value]bool)
	canReuse := make(map[*graph.Value]bool)
	cannotReuse := make(map[*graph.Value]bool)

	mark := func(v *graph.Value, ok bool) {
		if ok {
			canReuse[v] = true
		} else {
			cannotReuse[v] = true
		}
	}

	for _, n := range g.Nodes() {
		ok := pred.CanReuseInputsOutputs(n)
		for _, v := range n.Inputs() {
			if !seen[v] {
				seen[v] = true
				allValues = append(allValues, v)
			}
			mark(v, ok)
		}
		for _, v := range n.Outputs() {
			if !seen[v] {
				seen[v] = true
				allValues = append(allValues, v)
			}
			mark(v, ok)
		}
	}

	for _, v := range allValues {
		if canReuse[v] && !cannotReuse[v] {
			candidates = append(candidates, v)
		}
	}
	return candidates, allValues
}
