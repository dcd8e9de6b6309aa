// Package aliasdb is a narrow façade over alias analysis: two predicates,
// MayAlias and MayContainAlias, are all the planner ever asks. The default
// implementation derives alias groups from the graph itself — view-family
// operators alias their first input, containers may contain their elements
// — and over-approximates everywhere else. Bigger groups only ever cost
// reuse opportunities, never soundness.
package aliasdb

import (
	"github.com/vk/staticgrid/internal/graph"
)

// DB answers alias queries over graph values.
type DB interface {
	// MayAlias reports whether v and w may share memory.
	MayAlias(v, w *graph.Value) bool
	// MayContainAlias reports whether any value in a (or a container
	// element reachable from it) may alias any value in b, or vice versa.
	MayContainAlias(a, b []*graph.Value) bool
}

// viewKinds are treated as producing an output that may alias input 0.
var viewKinds = map[string]bool{
	"aten::view":      true,
	"aten::reshape":   true,
	"aten::transpose": true,
	"aten::flatten":   true,
	"aten::slice":     true,
}

// containerKinds produce an output that may contain every input.
var containerKinds = map[string]bool{
	"prim::ListConstruct":  true,
	"prim::TupleConstruct": true,
}

// IsViewKind reports whether the operator kind produces aliases of its
// first input.
func IsViewKind(kind string) bool {
	return viewKinds[kind]
}

// graphDB is the union-find implementation of DB.
type graphDB struct {
	parent map[*graph.Value]*graph.Value
	// contains maps a container value to the members it may hold,
	// transitively flattened at construction.
	contains map[*graph.Value][]*graph.Value
}

// New analyzes a frozen graph and returns its alias database.
func New(g *graph.Graph) DB {
	db := &graphDB{
		parent:   make(map[*graph.Value]*graph.Value),
		contains: make(map[*graph.Value][]*graph.Value),
	}
	for _, n := range g.Nodes() {
		switch {
		case IsViewKind(n.Kind()):
			if len(n.Inputs()) > 0 {
				for _, out := range n.Outputs() {
					db.union(out, n.Inputs()[0])
				}
			}
		case containerKinds[n.Kind()]:
			for _, out := range n.Outputs() {
				members := db.contains[out]
				for _, in := range n.Inputs() {
					members = append(members, in)
					// A container holding a container reaches its members.
					members = append(members, db.contains[in]...)
				}
				db.contains[out] = members
			}
		}
	}
	return db
}

func (db *graphDB) find(v *graph.Value) *graph.Value {
	p, ok := db.parent[v]
	if !ok || p == v {
		return v
	}
	root := db.find(p)
	db.parent[v] = root
	return root
}

func (db *graphDB) union(a, b *graph.Value) {
	ra, rb := db.find(a), db.find(b)
	if ra != rb {
		db.parent[ra] = rb
	}
}

func (db *graphDB) MayAlias(v, w *graph.Value) bool {
	return db.find(v) == db.find(w)
}

// reach collects v's alias group representative plus the representatives of
// everything a container v may hold.
func (db *graphDB) reach(v *graph.Value, into map[*graph.Value]bool) {
	into[db.find(v)] = true
	for _, m := range db.contains[v] {
		into[db.find(m)] = true
	}
}

func (db *graphDB) MayContainAlias(a, b []*graph.Value) bool {
	ra := make(map[*graph.Value]bool, len(a))
	for _, v := range a {
		db.reach(v, ra)
	}
	rb := make(map[*graph.Value]bool, len(b))
	for _, v := range b {
		db.reach(v, rb)
	}
	for r := range ra {
		if rb[r] {
			return true
		}
	}
	return false
}
