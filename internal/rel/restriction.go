package rel

// Cond is a boolean predicate narrowing a table to a row subset.
//
// Conditions are pure data. internal/sqlgen compiles them to parameterized
// SQL; engines combine them structurally without touching SQL text.
type Cond interface {
	cond()
}

// Raw is a verbatim SQL condition with positional parameters.
// Use sparingly; prefer Eq and SemiJoin which survive renames.
type Raw struct {
	SQL  string
	Args []any
}

// Eq restricts to rows whose attributes equal the given values (AND-combined).
// A nil value matches SQL NULL.
type Eq map[string]any

// And combines conditions conjunctively. An empty And matches every row.
type And []Cond

// Or combines conditions disjunctively.
//
// An EMPTY Or is a sentinel meaning "every row matches". This is
// uncharacteristic of OR-lists but is what the cascading delete relies on:
// a table that inherited no terms is deleted unconditionally.
type Or []Cond

// Not negates a condition.
type Not struct {
	C Cond
}

// SemiJoin restricts a table to rows whose projected attributes appear in a
// restricted parent relation. Attrs and ParentAttrs are aligned pairwise;
// they differ only when the foreign key renames attributes.
type SemiJoin struct {
	// Attrs are the restricted table's join attributes.
	Attrs []string

	// ParentAttrs are the corresponding attributes in the parent, aligned
	// with Attrs.
	ParentAttrs []string

	// Parent is the (possibly restricted) parent handle.
	Parent Table
}

func (Raw) cond()      {}
func (Eq) cond()       {}
func (And) cond()      {}
func (Or) cond()       {}
func (Not) cond()      {}
func (SemiJoin) cond() {}
