package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
)

// EdgeFilter selects edges by primary-key composition.
type EdgeFilter int

const (
	// AllEdges keeps every edge.
	AllEdges EdgeFilter = iota
	// PrimaryOnly keeps edges composed solely of primary-key attributes.
	PrimaryOnly
	// NonPrimaryOnly keeps edges with at least one non-key attribute.
	NonPrimaryOnly
)

func (f EdgeFilter) keep(e Edge) bool {
	switch f {
	case PrimaryOnly:
		return e.Primary
	case NonPrimaryOnly:
		return !e.Primary
	default:
		return true
	}
}

// Graph is the loaded foreign-key dependency graph.
//
// The core consumes the graph read-only: it triggers Load but never mutates
// edges. Node order is topological (every parent precedes its children),
// fixed at load time.
type Graph struct {
	loader Loader

	loaded     bool
	order      []string // topological node order
	orderIndex map[string]int
	parentsOf  map[string][]Edge // key: child node
	childrenOf map[string][]Edge // key: parent node
}

// New creates an unloaded graph over the given loader.
func New(loader Loader) *Graph {
	return &Graph{loader: loader}
}

// Loaded reports whether Load has completed.
func (g *Graph) Loaded() bool {
	return g.loaded
}

// Load reads the schema catalog, splits renamed foreign keys through alias
// nodes, and fixes the topological node order. It is idempotent: the graph
// is loaded once per operation and reused for the operation's duration.
//
// A true foreign-key cycle fails with a SCHEMA_INVALID error naming the
// cycle members.
func (g *Graph) Load(ctx context.Context) error {
	if g.loaded {
		return nil
	}

	tables, rawEdges, err := g.loader.LoadSchema(ctx)
	if err != nil {
		return fmt.Errorf("load dependency graph: %w", err)
	}

	nodes := make([]string, 0, len(tables))
	nodes = append(nodes, tables...)
	g.parentsOf = make(map[string][]Edge)
	g.childrenOf = make(map[string][]Edge)

	aliasSeq := 0
	addEdge := func(e Edge) {
		g.parentsOf[e.Child] = append(g.parentsOf[e.Child], e)
		g.childrenOf[e.Parent] = append(g.childrenOf[e.Parent], e)
	}
	for _, e := range rawEdges {
		if !e.Renamed() {
			addEdge(e)
			continue
		}
		// split the renamed foreign key through a projection placeholder
		aliasSeq++
		alias := strconv.Itoa(aliasSeq)
		nodes = append(nodes, alias)
		addEdge(Edge{Child: alias, Parent: e.Parent, AttrMap: e.AttrMap, Primary: e.Primary, Aliased: true})
		addEdge(Edge{Child: e.Child, Parent: alias, AttrMap: e.AttrMap, Primary: e.Primary, Aliased: true})
	}

	order, err := g.topoSort(nodes)
	if err != nil {
		return err
	}
	g.order = order
	g.orderIndex = make(map[string]int, len(order))
	for i, n := range order {
		g.orderIndex[n] = i
	}
	g.loaded = true
	return nil
}

// Nodes returns every node (tables and alias placeholders) in topological
// order: every parent precedes its children.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether the node is part of the loaded graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.orderIndex[name]
	return ok
}

// Parents returns the edges from the named node to its direct parents,
// keyed by parent node name (an alias id for renamed foreign keys).
func (g *Graph) Parents(name string, filter EdgeFilter) map[string]Edge {
	out := make(map[string]Edge)
	for _, e := range g.parentsOf[name] {
		if filter.keep(e) {
			out[e.Parent] = e
		}
	}
	return out
}

// Children returns the edges from the named node to its direct children,
// keyed by child node name (an alias id for renamed foreign keys).
func (g *Graph) Children(name string, filter EdgeFilter) map[string]Edge {
	out := make(map[string]Edge)
	for _, e := range g.childrenOf[name] {
		if filter.keep(e) {
			out[e.Child] = e
		}
	}
	return out
}

// InEdges returns the edges entering an alias node. A well-formed alias node
// has exactly one inbound edge, from its true parent.
func (g *Graph) InEdges(alias string) []Edge {
	edges := make([]Edge, len(g.parentsOf[alias]))
	copy(edges, g.parentsOf[alias])
	return edges
}

// Descendants returns the named node plus every node transitively reachable
// through child edges, in topological order (the node itself first, every
// ancestor before its descendants). Alias placeholders are included.
func (g *Graph) Descendants(name string) []string {
	return g.reach(name, g.childrenOf, func(e Edge) string { return e.Child })
}

// Ancestors returns the named node plus every node transitively reachable
// through parent edges, in topological order.
func (g *Graph) Ancestors(name string) []string {
	return g.reach(name, g.parentsOf, func(e Edge) string { return e.Parent })
}

func (g *Graph) reach(start string, adj map[string][]Edge, next func(Edge) string) []string {
	visited := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range adj[n] {
			m := next(e)
			if !visited[m] {
				visited[m] = true
				stack = append(stack, m)
			}
		}
	}
	out := make([]string, 0, len(visited))
	for _, n := range g.order {
		if visited[n] {
			out = append(out, n)
		}
	}
	return out
}

// topoSort orders nodes so every parent precedes its children (Kahn's
// algorithm with lexicographic tie-breaking for determinism). On a cycle it
// reports the offending strongly connected component.
func (g *Graph) topoSort(nodes []string) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n] = len(g.parentsOf[n])
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var unblocked []string
		for _, e := range g.childrenOf[n] {
			indegree[e.Child]--
			if indegree[e.Child] == 0 {
				unblocked = append(unblocked, e.Child)
			}
		}
		sort.Strings(unblocked)
		ready = append(ready, unblocked...)
	}

	if len(order) != len(nodes) {
		cycle := g.findCycle(nodes)
		return nil, rel.NewSchemaError(
			"foreign-key dependency cycle detected: %s", strings.Join(cycle, " -> "))
	}
	return order, nil
}

// findCycle locates one strongly connected component of size > 1 using
// Tarjan's algorithm, for the error message only.
func (g *Graph) findCycle(nodes []string) []string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		cycle   []string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.childrenOf[v] {
			w := e.Child
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 && cycle == nil {
				sort.Strings(scc)
				cycle = scc
			}
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return cycle
}
