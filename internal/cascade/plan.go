package cascade

import (
	"context"
	"sort"

	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
)

// DeletePlan is the computed cascade for one delete call: every affected
// real table with its effective restriction, in dependency order (ancestors
// first). Execution deletes in reverse plan order.
type DeletePlan struct {
	Steps []DeleteStep
}

// DeleteStep is one table of a delete plan.
type DeleteStep struct {
	// Table is the restricted handle to delete from. An empty restriction
	// means every row is deleted.
	Table rel.Table
}

// term is one entry of a table's OR-list during planning: either an original
// caller condition, or a reference to the whole restricted contents of an
// ancestor node (resolved to a semijoin once that ancestor's own restriction
// is final).
type term struct {
	node string
	cond rel.Cond
}

// PlanDelete computes the cascade for deleting the handle's rows.
//
// The walk proceeds in four stages:
//  1. descendants of the target (target included), dependency-ordered, with
//     alias placeholders kept as nodes
//  2. restrictByMe: the target itself when restricted, every alias node, and
//     every table reached through a non-primary foreign key
//  3. each node passes to its children either "the whole restricted me"
//     (when it restricts by itself) or its own accumulated OR-terms
//  4. alias terms resolve through the alias's single inbound edge to a
//     renamed semijoin on the true parent
func (e *Engine) PlanDelete(ctx context.Context, table rel.Table) (*DeletePlan, error) {
	if err := e.graph.Load(ctx); err != nil {
		return nil, err
	}
	if !e.graph.Has(table.Name) {
		return nil, rel.NewUsageError("table %s is not part of the dependency graph", table.Name)
	}

	nodes := e.graph.Descendants(table.Name)

	restrictByMe := make(map[string]bool)
	terms := make(map[string][]term)

	if table.Restricted() {
		restrictByMe[table.Name] = true
		terms[table.Name] = append(terms[table.Name], term{cond: table.Restriction})
	}
	for _, n := range nodes {
		if rel.IsAliasNode(n) {
			restrictByMe[n] = true
		}
	}
	for _, n := range nodes {
		for child := range e.graph.Children(n, graph.NonPrimaryOnly) {
			restrictByMe[child] = true
		}
	}

	// propagate OR-terms down the graph in dependency order; a node that
	// restricts by itself passes itself, never its accumulated terms
	for _, n := range nodes {
		for _, child := range sortedChildren(e.graph, n) {
			if restrictByMe[n] {
				terms[child] = append(terms[child], term{node: n})
			} else {
				terms[child] = append(terms[child], terms[n]...)
			}
		}
	}

	// resolve terms to conditions, ancestors first so every semijoin sees
	// its parent's final restriction
	resolved := make(map[string]rel.Table)
	var steps []DeleteStep
	for _, n := range nodes {
		if rel.IsAliasNode(n) {
			continue
		}
		base, err := e.conn.OpenTable(ctx, n)
		if err != nil {
			return nil, err
		}
		handle := base
		if ts := terms[n]; len(ts) > 0 { // an empty OR-list means "every row"
			ors := make(rel.Or, 0, len(ts))
			for _, t := range ts {
				c, err := e.resolveTerm(t, base, resolved)
				if err != nil {
					return nil, err
				}
				ors = append(ors, c)
			}
			handle = base.Restrict(ors)
		}
		resolved[n] = handle
		steps = append(steps, DeleteStep{Table: handle})
	}
	return &DeletePlan{Steps: steps}, nil
}

// resolveTerm converts a planning term into a condition on the child table.
func (e *Engine) resolveTerm(t term, child rel.Table, resolved map[string]rel.Table) (rel.Cond, error) {
	if t.node == "" {
		return t.cond, nil
	}

	if rel.IsAliasNode(t.node) {
		edges := e.graph.InEdges(t.node)
		if len(edges) != 1 {
			return nil, rel.NewSchemaError(
				"projection node %s must have exactly one inbound edge, found %d", t.node, len(edges))
		}
		edge := edges[0]
		parent, ok := resolved[edge.Parent]
		if !ok {
			return nil, rel.NewSchemaError(
				"projection node %s resolved before its parent %s", t.node, edge.Parent)
		}
		var attrs, parentAttrs []string
		for _, childAttr := range sortedKeys(edge.AttrMap) {
			if child.Heading.Has(childAttr) {
				attrs = append(attrs, childAttr)
				parentAttrs = append(parentAttrs, edge.AttrMap[childAttr])
			}
		}
		return rel.SemiJoin{Attrs: attrs, ParentAttrs: parentAttrs, Parent: parent}, nil
	}

	parent, ok := resolved[t.node]
	if !ok {
		return nil, rel.NewSchemaError("node %s resolved before its ancestor %s", child.Name, t.node)
	}
	// natural semijoin on the shared primary-key attributes
	var attrs []string
	for _, pk := range parent.PrimaryKey() {
		if child.Heading.Has(pk) {
			attrs = append(attrs, pk)
		}
	}
	return rel.SemiJoin{Attrs: attrs, ParentAttrs: attrs, Parent: parent}, nil
}

func sortedChildren(g *graph.Graph, node string) []string {
	children := g.Children(node, graph.AllEdges)
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
