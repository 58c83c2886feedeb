package automake

import (
	"github.com/roach88/datapipe/internal/rel"
)

// ComputeFunc is a user-supplied computation. It receives the positional
// arguments spliced from the settings record and the assembled keyword
// arguments, and returns the computed record: a map for a table without part
// tables, a map or row set for a table with part tables.
type ComputeFunc func(args []any, kwargs map[string]any) (any, error)

// Registry maps function names to computation functions and canonical table
// names to display symbols. Both are populated explicitly at registration
// time.
type Registry struct {
	funcs    map[string]ComputeFunc
	displays map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    make(map[string]ComputeFunc),
		displays: make(map[string]string),
	}
}

// Register binds a function name to a computation. Re-registering a name
// replaces the previous binding.
func (r *Registry) Register(name string, fn ComputeFunc) {
	r.funcs[name] = fn
}

// Lookup resolves a registered function by name.
func (r *Registry) Lookup(name string) (ComputeFunc, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, rel.NewUsageError("computation function %q is not registered", name)
	}
	return fn, nil
}

// RegisterDisplay binds a canonical table name to the symbol used when
// describing the schema.
func (r *Registry) RegisterDisplay(table, symbol string) {
	r.displays[table] = symbol
}

// DisplaySymbol returns the display symbol for a table, falling back to the
// table name itself.
func (r *Registry) DisplaySymbol(table string) string {
	if symbol, ok := r.displays[table]; ok {
		return symbol
	}
	return table
}
