package analysis

import (
	"github.com/vk/staticgrid/internal/aliasdb"
	"github.com/vk/staticgrid/internal/graph"
)

// SameStorage clusters values that may share one storage allocation.
// Every value maps to the full member list of its cluster; singletons are
// themselves clusters. Greedy first-fit, iterating in first-appearance
// order so the partition is reproducible run over run.
//
// The initial pass unions a value into the cluster of anything the alias
// database cannot prove distinct from it. The original authors flag this
// merge as "not correct" — it can over-share where aliasing is only
// possible, not certain — and we reproduce it for parity; the risk is
// pinned by a test.
func SameStorage(
	liveness LivenessMap,
	alwaysAlive map[*graph.Value]bool,
	candidates, allValues []*graph.Value,
	db aliasdb.DB,
) map[*graph.Value][]*graph.Value {
	sameStorage := make(map[*graph.Value][]*graph.Value)

	share := func(newV, oldV *graph.Value) {
		if newV == oldV {
			return
		}
		seen := make(map[*graph.Value]bool)
		var members []*graph.Value
		for _, v := range sameStorage[oldV] {
			if !seen[v] {
				seen[v] = true
				members = append(members, v)
			}
		}
		for _, v := range sameStorage[newV] {
			if !seen[v] {
				seen[v] = true
				members = append(members, v)
			}
		}
		for _, v := range members {
			sameStorage[v] = members
		}
	}

	// Seed singletons, then conservatively union possible aliases.
	for i, v := range allValues {
		if sameStorage[v] == nil {
			sameStorage[v] = []*graph.Value{v}
		}
		if alwaysAlive[v] {
			continue
		}
		for j := 0; j < i; j++ {
			p := allValues[j]
			if sameStorage[p] == nil {
				continue
			}
			if db.MayAlias(p, v) {
				share(v, p)
			}
		}
	}

	liveSetOf := func(v *graph.Value) map[*graph.Value]bool {
		live := make(map[*graph.Value]bool)
		for _, sv := range sameStorage[v] {
			for w := range liveness[sv] {
				live[w] = true
			}
		}
		for w := range alwaysAlive {
			live[w] = true
		}
		return live
	}
	intersects := func(live map[*graph.Value]bool, s *graph.Value) bool {
		for _, v := range sameStorage[s] {
			if live[v] {
				return true
			}
		}
		return false
	}

	var seen []*graph.Value
	for _, v := range candidates {
		if alwaysAlive[v] {
			continue
		}
		live := liveSetOf(v)
		for _, s := range seen {
			if !intersects(live, s) {
				share(v, s)
				// Merging changes v's cluster, so the live set would
				// need recomputing; first fit stops here instead.
				break
			}
		}
		seen = append(seen, v)
	}

	return sameStorage
}
