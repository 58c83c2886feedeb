package graph

import "context"

// Edge is one foreign-key dependency from a child table to a parent.
//
// AttrMap maps child attribute -> parent attribute and is injective. Primary
// is true iff every mapped child attribute is part of the child's primary
// key. Aliased marks edges that pass through a synthetic projection node.
type Edge struct {
	Child   string
	Parent  string
	AttrMap map[string]string
	Primary bool
	Aliased bool
}

// Renamed reports whether the foreign key renames any attribute.
func (e Edge) Renamed() bool {
	for from, to := range e.AttrMap {
		if from != to {
			return true
		}
	}
	return false
}

// Loader supplies the raw schema catalog: every table name and every
// foreign-key edge between real tables. The graph owns alias-node synthesis;
// loaders return plain edges only.
type Loader interface {
	LoadSchema(ctx context.Context) (tables []string, edges []Edge, err error)
}
