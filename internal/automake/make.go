package automake

import (
	"context"
	"log/slog"
	"sort"

	"github.com/roach88/datapipe/internal/codec"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/insert"
	"github.com/roach88/datapipe/internal/rel"
)

// SettingsNameAttr is the attribute linking a computed row to the settings
// record that produced it. The engine writes it into every output row.
const SettingsNameAttr = "settings_name"

// Normalizer post-processes a computation's raw output before the shape
// check. It can reshape domain-specific return values into row maps.
type Normalizer func(output any) (any, error)

// Engine dispatches settings-driven computations into a target table.
type Engine struct {
	conn      *conn.Connection
	graph     *graph.Graph
	insert    *insert.Engine
	fetcher   *Fetcher
	registry  *Registry
	store     *Store
	normalize Normalizer
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithCodec overrides the value codec used for fetch decoding.
func WithCodec(c codec.Codec) EngineOption {
	return func(e *Engine) { e.fetcher.codec = c }
}

// WithNormalizer installs an output normalizer.
func WithNormalizer(n Normalizer) EngineOption {
	return func(e *Engine) { e.normalize = n }
}

// NewEngine creates an automake engine. The store holds the settings records
// for the tables this engine populates; the registry resolves their
// computation functions.
func NewEngine(c *conn.Connection, g *graph.Graph, ins *insert.Engine, store *Store, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		conn:     c,
		graph:    g,
		insert:   ins,
		fetcher:  NewFetcher(c, g, nil),
		registry: registry,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's settings store.
func (e *Engine) Store() *Store {
	return e.store
}

// Make computes and writes the rows for one key: fetch the upstream entry,
// assemble the function arguments, invoke the registered function, and insert
// the normalized output into the target.
//
// The insert joins an enclosing transaction when one is open. Populate wraps
// each Make call in its own transaction.
func (e *Engine) Make(ctx context.Context, target rel.Table, rec *SettingsRecord, key map[string]any, extra rel.Cond) error {
	target, err := e.withHeading(ctx, target)
	if err != nil {
		return err
	}
	if len(rec.FetchTables) == 0 {
		tables, err := e.fetcher.DefaultFetchTables(ctx, target.Name, e.store.TableName())
		if err != nil {
			return err
		}
		rec.FetchTables = tables
	}

	entry, err := e.fetcher.FetchEntry(ctx, rec, key, extra)
	if err != nil {
		return err
	}

	args, kwargs, err := assembleArgs(rec, entry)
	if err != nil {
		return err
	}

	fn, err := e.registry.Lookup(rec.Func)
	if err != nil {
		return err
	}
	output, err := fn(args, kwargs)
	if err != nil {
		// the computation's own failure passes through untouched
		return err
	}
	if e.normalize != nil {
		output, err = e.normalize(output)
		if err != nil {
			return err
		}
	}
	if output == nil {
		e.logger.Warn("computation returned no output, writing key-only row",
			"table", target.Name, "settings", rec.Name, "key", key)
		output = map[string]any{}
	}

	rows, err := outputRows(output)
	if err != nil {
		return err
	}

	hasParts, err := e.insert.HasPartTables(ctx, target.Name)
	if err != nil {
		return err
	}
	if !hasParts && len(rows) > 1 {
		return rel.NewUsageError(
			"settings record %q: computation %q returned %d rows but %s has no part tables",
			rec.Name, rec.Func, len(rows), target.Name)
	}

	for _, row := range rows {
		// the key and the producing settings record define the row's identity
		for attr, value := range key {
			row[attr] = value
		}
		if target.Heading.Has(SettingsNameAttr) {
			row[SettingsNameAttr] = rec.Name
		}
		backfill(row, entry, target.Heading)
	}

	opts := insert.Options{AllowDirectInsert: true}
	if hasParts {
		return e.insert.Insert1P(ctx, target, rows, opts)
	}
	return e.insert.Insert1(ctx, target, rows[0], opts)
}

func (e *Engine) withHeading(ctx context.Context, table rel.Table) (rel.Table, error) {
	if table.Heading != nil {
		return table, nil
	}
	return e.conn.OpenTable(ctx, table.Name)
}

// assembleArgs builds the positional and keyword arguments for one entry:
// global settings first, entry bindings layered on top (an entry binding wins
// any name collision), then the reserved splice settings popped out.
func assembleArgs(rec *SettingsRecord, entry map[string]any) ([]any, map[string]any, error) {
	kwargs := make(map[string]any, len(rec.GlobalSettings)+len(rec.EntrySettings))
	for name, value := range rec.GlobalSettings {
		kwargs[name] = value
	}
	names := make([]string, 0, len(rec.EntrySettings))
	for name := range rec.EntrySettings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, err := assembleBinding(rec.Name, name, rec.EntrySettings[name], entry)
		if err != nil {
			return nil, nil, err
		}
		kwargs[name] = value
	}

	var args []any
	if rec.SpliceArgs != "" {
		value, ok := kwargs[rec.SpliceArgs]
		if !ok {
			return nil, nil, rel.NewUsageError(
				"settings record %q: splice-args setting %q is not bound", rec.Name, rec.SpliceArgs)
		}
		delete(kwargs, rec.SpliceArgs)
		if list, isList := value.([]any); isList {
			args = list
		} else {
			args = []any{value}
		}
	}
	if rec.SpliceKwargs != "" {
		value, ok := kwargs[rec.SpliceKwargs]
		if !ok {
			return nil, nil, rel.NewUsageError(
				"settings record %q: splice-kwargs setting %q is not bound", rec.Name, rec.SpliceKwargs)
		}
		delete(kwargs, rec.SpliceKwargs)
		spliced, isMap := value.(map[string]any)
		if !isMap {
			return nil, nil, rel.NewUsageError(
				"settings record %q: splice-kwargs setting %q must hold a map, got %T",
				rec.Name, rec.SpliceKwargs, value)
		}
		for k, v := range spliced {
			kwargs[k] = v
		}
	}
	return args, kwargs, nil
}

// assembleBinding materializes one entry binding from the fetched entry.
func assembleBinding(record, name string, b EntryBinding, entry map[string]any) (any, error) {
	get := func(col string) (any, error) {
		value, ok := entry[col]
		if !ok {
			return nil, rel.NewUsageError(
				"settings record %q: entry binding %q reads column %q, absent from the fetched entry",
				record, name, col)
		}
		return value, nil
	}

	switch {
	case b.Column != "":
		return get(b.Column)

	case len(b.Columns) > 0:
		values := make([]any, 0, len(b.Columns))
		for _, col := range b.Columns {
			v, err := get(col)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		if b.Container == ContainerSet {
			return dedupValues(values), nil
		}
		// list and tuple both keep the declared order
		return values, nil

	default:
		out := make(map[string]any, len(b.Mapping))
		for key, col := range b.Mapping {
			v, err := get(col)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}
}

// dedupValues keeps the first occurrence of each value.
func dedupValues(values []any) []any {
	seen := make(map[any]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		if !hashable(v) {
			out = append(out, v)
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func hashable(v any) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// outputRows coerces a computation's output into a row-map slice.
func outputRows(output any) ([]map[string]any, error) {
	switch v := output.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		if len(v) == 0 {
			return []map[string]any{{}}, nil
		}
		return v, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, rel.NewUsageError(
					"computation output rows must be attribute maps, got %T", item)
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			return []map[string]any{{}}, nil
		}
		return rows, nil
	default:
		return nil, rel.NewUsageError(
			"computation output must be an attribute map or a slice of them, got %T", output)
	}
}

// backfill copies fetched entry values into the row for heading attributes
// the computation left unset. Null entry values never overwrite a column
// default.
func backfill(row map[string]any, entry map[string]any, heading *rel.Heading) {
	for _, attr := range heading.Attributes {
		if _, set := row[attr.Name]; set {
			continue
		}
		value, ok := entry[attr.Name]
		if !ok || value == nil {
			continue
		}
		if _, isList := value.([]any); isList {
			// column-wise fetch values stay out of scalar columns
			continue
		}
		row[attr.Name] = value
	}
}
