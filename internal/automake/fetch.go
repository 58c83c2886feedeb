package automake

import (
	"context"
	"sort"

	"github.com/roach88/datapipe/internal/codec"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Fetcher loads the joined upstream entry for one key.
type Fetcher struct {
	conn  *conn.Connection
	graph *graph.Graph
	codec codec.Codec
}

// NewFetcher creates a fetcher over the connection and dependency graph.
func NewFetcher(c *conn.Connection, g *graph.Graph, cdc codec.Codec) *Fetcher {
	if cdc == nil {
		cdc = codec.Standard{}
	}
	return &Fetcher{conn: c, graph: g, codec: cdc}
}

// DefaultFetchTables derives the fetch specification from the dependency
// graph when a settings record names no fetch tables: the target's primary
// parents, minus its settings store. Parents reached through an alias node
// resolve to the real table with the foreign key's renames applied.
func (f *Fetcher) DefaultFetchTables(ctx context.Context, target, settingsTable string) ([]FetchTable, error) {
	if err := f.graph.Load(ctx); err != nil {
		return nil, err
	}

	var out []FetchTable
	for parent, edge := range f.graph.Parents(target, graph.PrimaryOnly) {
		renames := map[string]string{}
		if rel.IsAliasNode(parent) {
			in := f.graph.InEdges(parent)
			if len(in) != 1 {
				return nil, rel.NewSchemaError(
					"projection node %q has %d inbound edges, expected 1", parent, len(in))
			}
			parent = in[0].Parent
			for child, parentAttr := range edge.AttrMap {
				if child != parentAttr {
					renames[child] = parentAttr
				}
			}
		}
		if parent == settingsTable || rel.IsSettingsTable(parent) {
			continue
		}
		ft := FetchTable{Table: parent}
		if len(renames) > 0 {
			ft.Renames = renames
		}
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	if len(out) == 0 {
		return nil, rel.NewUsageError(
			"table %s has no upstream tables to fetch from; name fetch tables in the settings record",
			target)
	}
	return out, nil
}

// FetchEntry loads the upstream entry for one key: the natural join of the
// record's fetch tables, restricted by the key, the record's stored
// restriction, and any extra caller restriction.
//
// With FetchOne, exactly one joined row must match and the entry maps each
// attribute to its scalar value. With FetchMany, every matching row is
// collected column-wise; columns named in ParseUnique collapse to the first
// row's value.
func (f *Fetcher) FetchEntry(ctx context.Context, rec *SettingsRecord, key map[string]any, extra rel.Cond) (map[string]any, error) {
	spec, attrs, err := f.joinSpec(ctx, rec.FetchTables, key, rec, extra)
	if err != nil {
		return nil, err
	}
	rows, err := f.conn.FetchJoin(ctx, spec)
	if err != nil {
		return nil, err
	}

	if rec.FetchMethod == FetchOne {
		if len(rows) != 1 {
			return nil, rel.NewUsageError(
				"settings record %q: fetch1 expected exactly one upstream row for key %v, found %d",
				rec.Name, key, len(rows))
		}
		return f.decodeEntry(rows[0], attrs)
	}

	if len(rows) == 0 {
		return nil, rel.NewUsageError(
			"settings record %q: no upstream rows for key %v", rec.Name, key)
	}
	unique := make(map[string]bool, len(rec.ParseUnique))
	for _, col := range rec.ParseUnique {
		unique[col] = true
	}
	entry := make(map[string]any)
	for _, row := range rows {
		decoded, err := f.decodeEntry(row, attrs)
		if err != nil {
			return nil, err
		}
		for name, value := range decoded {
			if unique[name] {
				if _, seen := entry[name]; !seen {
					entry[name] = value
				}
				continue
			}
			list, _ := entry[name].([]any)
			entry[name] = append(list, value)
		}
	}
	return entry, nil
}

// joinSpec builds the join over the record's fetch tables and an attribute
// lookup for decoding, keyed by output name.
func (f *Fetcher) joinSpec(ctx context.Context, fetchTables []FetchTable, key map[string]any, rec *SettingsRecord, extra rel.Cond) (sqlgen.JoinSpec, map[string]rel.Attribute, error) {
	if len(fetchTables) == 0 {
		return sqlgen.JoinSpec{}, nil, rel.NewUsageError("settings record %q: no fetch tables", rec.Name)
	}

	attrs := make(map[string]rel.Attribute)
	spec := sqlgen.JoinSpec{}
	for _, ft := range fetchTables {
		table, err := f.conn.OpenTable(ctx, ft.Table)
		if err != nil {
			return sqlgen.JoinSpec{}, nil, err
		}

		// source attribute per output name, renames applied
		srcOf := func(output string) string {
			if src, ok := ft.Renames[output]; ok {
				return src
			}
			return output
		}

		fields := ft.Attrs
		if len(fields) == 0 {
			for _, name := range table.Heading.Names() {
				fields = append(fields, outputName(name, ft.Renames))
			}
		} else {
			// the primary key is always carried so the join stays keyed
			have := make(map[string]bool, len(fields))
			for _, name := range fields {
				have[name] = true
			}
			for _, pk := range table.PrimaryKey() {
				out := outputName(pk, ft.Renames)
				if !have[out] {
					fields = append(fields, out)
				}
			}
		}

		for _, output := range fields {
			src := srcOf(output)
			attr, ok := table.Heading.Get(src)
			if !ok {
				return sqlgen.JoinSpec{}, nil, rel.NewUsageError(
					"settings record %q: attribute %q not found in %s", rec.Name, src, ft.Table)
			}
			attrs[output] = attr
		}

		spec.Sources = append(spec.Sources, sqlgen.SelectSpec{
			Table:   table,
			Fields:  fields,
			Renames: ft.Renames,
		})
	}

	if len(key) > 0 {
		spec.Where = append(spec.Where, rel.Eq(key))
	}
	if cond := rec.Restriction.Cond(); cond != nil {
		spec.Where = append(spec.Where, cond)
	}
	if extra != nil {
		spec.Where = append(spec.Where, extra)
	}
	return spec, attrs, nil
}

func (f *Fetcher) decodeEntry(row map[string]any, attrs map[string]rel.Attribute) (map[string]any, error) {
	entry := make(map[string]any, len(row))
	for name, stored := range row {
		attr, known := attrs[name]
		if !known {
			entry[name] = stored
			continue
		}
		value, err := f.codec.Decode(attr, stored)
		if err != nil {
			return nil, err
		}
		entry[name] = value
	}
	return entry, nil
}

// outputName maps a source attribute to its joined output name.
func outputName(src string, renames map[string]string) string {
	for output, source := range renames {
		if source == src {
			return output
		}
	}
	return src
}
