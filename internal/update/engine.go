package update

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/datapipe/internal/codec"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Policy selects how a downstream-dependency violation is handled.
type Policy string

const (
	// PolicyRaise refuses the update with a referential-guard error.
	PolicyRaise Policy = "raise"

	// PolicyWarn applies the update but logs a warning.
	PolicyWarn Policy = "warn"

	// PolicyIgnore silently skips the update.
	PolicyIgnore Policy = "ignore"
)

// Engine applies guarded single-row updates.
type Engine struct {
	conn   *conn.Connection
	graph  *graph.Graph
	codec  codec.Codec
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCodec overrides the value codec. Defaults to codec.Standard.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an update engine over the given connection and graph.
func New(c *conn.Connection, g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{conn: c, graph: g, codec: codec.Standard{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SaveUpdate updates one attribute of the single row matched by the handle's
// restriction, subject to the downstream guard. Returns whether the update
// was applied.
func (e *Engine) SaveUpdate(ctx context.Context, table rel.Table, attr string, value any, policy Policy) (bool, error) {
	return e.SaveUpdates(ctx, table, map[string]any{attr: value}, policy)
}

// SaveUpdates updates several attributes of the single row matched by the
// handle's restriction, subject to the downstream guard. Returns whether the
// update was applied.
func (e *Engine) SaveUpdates(ctx context.Context, table rel.Table, values map[string]any, policy Policy) (bool, error) {
	table, err := e.withHeading(ctx, table)
	if err != nil {
		return false, err
	}
	if err := e.validateTarget(ctx, table, values); err != nil {
		return false, err
	}

	ok, err := e.checkDownstream(ctx, table, policy)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	return true, e.apply(ctx, table, values)
}

// validateTarget enforces the update safety constraints: exactly one target
// row, known attributes, and no primary-key attribute.
func (e *Engine) validateTarget(ctx context.Context, table rel.Table, values map[string]any) error {
	count, err := e.conn.Count(ctx, table)
	if err != nil {
		return err
	}
	if count != 1 {
		return rel.NewUsageError(
			"update is only allowed on exactly one row at a time; restriction on %s matches %d",
			table.Name, count)
	}
	for name := range values {
		attr, known := table.Heading.Get(name)
		if !known {
			return rel.NewUsageError("invalid attribute name %q on %s", name, table.Name)
		}
		if attr.InKey {
			return rel.NewUsageError("cannot update the primary-key attribute %q", name)
		}
	}
	return nil
}

// checkDownstream walks descendant tables through foreign-key attribute
// maps. A populated auto-populated descendant that depends on the entry
// triggers the policy: raise returns a guard error, ignore skips silently,
// warn logs and lets the update proceed.
func (e *Engine) checkDownstream(ctx context.Context, table rel.Table, policy Policy) (bool, error) {
	if err := e.graph.Load(ctx); err != nil {
		return false, err
	}
	return e.checkDownstreamFrom(ctx, table, policy)
}

func (e *Engine) checkDownstreamFrom(ctx context.Context, table rel.Table, policy Policy) (bool, error) {
	pk := make(map[string]bool)
	for _, name := range table.PrimaryKey() {
		pk[name] = true
	}

	for _, edge := range e.childEdges(table.Name) {
		// restrict the child to rows that depend on this entry through the key
		var attrs, parentAttrs []string
		for _, childAttr := range sortedKeys(edge.AttrMap) {
			parentAttr := edge.AttrMap[childAttr]
			if pk[parentAttr] {
				attrs = append(attrs, childAttr)
				parentAttrs = append(parentAttrs, parentAttr)
			}
		}
		if len(attrs) == 0 {
			continue
		}
		child, err := e.conn.OpenTable(ctx, edge.Child)
		if err != nil {
			return false, err
		}
		child = child.Restrict(rel.SemiJoin{Attrs: attrs, ParentAttrs: parentAttrs, Parent: table})

		ok, err := e.checkDownstreamFrom(ctx, child, policy)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}

		if !rel.IsAutoPopulated(edge.Child) {
			continue
		}
		count, err := e.conn.Count(ctx, child)
		if err != nil {
			return false, err
		}
		if count == 0 {
			continue
		}
		switch policy {
		case PolicyIgnore:
			return false, nil
		case PolicyWarn:
			e.logger.Warn("updating an entry that a computed descendant depends on",
				"table", table.Name, "descendant", edge.Child, "rows", count)
			return true, nil
		default:
			return false, rel.NewGuardError(edge.Child)
		}
	}
	return true, nil
}

// childEdges returns the table's child edges with one level of aliasing
// resolved: an edge into an alias node is replaced by the alias's single
// outgoing edge, keeping the original attribute map.
func (e *Engine) childEdges(table string) []graph.Edge {
	var out []graph.Edge
	children := e.graph.Children(table, graph.AllEdges)
	for _, name := range sortedEdgeKeys(children) {
		edge := children[name]
		if rel.IsAliasNode(name) {
			resolved := e.graph.Children(name, graph.AllEdges)
			for _, realName := range sortedEdgeKeys(resolved) {
				out = append(out, resolved[realName])
			}
			continue
		}
		out = append(out, edge)
	}
	return out
}

// apply issues the UPDATE limited to the handle's restriction.
func (e *Engine) apply(ctx context.Context, table rel.Table, values map[string]any) error {
	var fields, placeholders []string
	var args []any
	for _, name := range sortedValueKeys(values) {
		attr, _ := table.Heading.Get(name)
		enc, err := e.codec.Encode(attr, values[name])
		if err != nil {
			return err
		}
		fields = append(fields, name)
		placeholders = append(placeholders, enc.Placeholder)
		if enc.Bind {
			args = append(args, enc.Value)
		}
	}

	query, whereParams, err := sqlgen.UpdateSQL(table, fields, placeholders)
	if err != nil {
		return err
	}
	args = append(args, whereParams...)
	if _, err := e.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", table.Name, err)
	}
	e.logger.Debug("updated row", "table", table.Name, "attributes", fields)
	return nil
}

func (e *Engine) withHeading(ctx context.Context, table rel.Table) (rel.Table, error) {
	if table.Heading != nil {
		return table, nil
	}
	heading, err := e.conn.Heading(ctx, table.Name)
	if err != nil {
		return rel.Table{}, err
	}
	table.Heading = heading
	return table, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedEdgeKeys(m map[string]graph.Edge) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedValueKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
