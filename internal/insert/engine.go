package insert

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/roach88/datapipe/internal/codec"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Options controls one insert call.
type Options struct {
	// Replace overwrites an existing row with the same primary key.
	Replace bool

	// SkipDuplicates silently skips rows that collide on a unique key.
	SkipDuplicates bool

	// IgnoreExtraFields drops row attributes that are not in the heading
	// instead of failing.
	IgnoreExtraFields bool

	// AllowDirectInsert permits inserting into an auto-populated table
	// outside its computation callback. The AutoMake engine sets this when
	// writing computed results.
	AllowDirectInsert bool
}

// Engine performs validated, codec-encoded inserts.
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

// New creates an insert engine over the given connection and dependency
// graph. The graph is consulted only for part-table discovery.
func New(c *conn.Connection, g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{conn: c, graph: g, codec: codec.Standard{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Insert writes a collection of rows into the table in one statement.
//
// Supported row shapes: map[string]any, a positional []any matching the
// heading length exactly, or a struct with db-tagged fields. The first row
// fixes the canonical column order; later rows are realigned to it and must
// carry the same attribute set.
func (e *Engine) Insert(ctx context.Context, table rel.Table, rows []any, opts Options) error {
	if err := e.guardDirectInsert(table, opts); err != nil {
		return err
	}
	table, err := e.withHeading(ctx, table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var fieldList []string
	encoded := make([][]codec.Encoded, 0, len(rows))
	for _, row := range rows {
		encs, err := e.encodeRow(table.Heading, row, opts.IgnoreExtraFields, fieldList)
		if err != nil {
			return err
		}
		if fieldList == nil {
			// first row sets the composition of the field list
			fieldList = make([]string, len(encs))
			for i, enc := range encs {
				fieldList[i] = enc.Name
			}
		} else {
			encs, err = realign(encs, fieldList)
			if err != nil {
				return err
			}
		}
		encoded = append(encoded, encs)
	}

	placeholders := make([][]string, len(encoded))
	var args []any
	for i, encs := range encoded {
		placeholders[i] = make([]string, len(encs))
		for j, enc := range encs {
			placeholders[i][j] = enc.Placeholder
			if enc.Bind {
				args = append(args, enc.Value)
			}
		}
	}

	query := sqlgen.InsertSQL(table.Name, fieldList, placeholders, opts.Replace, opts.SkipDuplicates)
	if _, err := e.conn.Exec(ctx, query, args...); err != nil {
		return e.mapExecErr(table.Name, err)
	}
	e.logger.Debug("inserted rows", "table", table.Name, "rows", len(rows))
	return nil
}

// Insert1 writes one row.
func (e *Engine) Insert1(ctx context.Context, table rel.Table, row any, opts Options) error {
	return e.Insert(ctx, table, []any{row}, opts)
}

// InsertFromSelect inserts the result of a query, restricted to the columns
// shared with the destination heading. Extra source columns must be
// acknowledged via IgnoreExtraFields.
func (e *Engine) InsertFromSelect(ctx context.Context, table rel.Table, source sqlgen.SelectSpec, opts Options) error {
	if err := e.guardDirectInsert(table, opts); err != nil {
		return err
	}
	table, err := e.withHeading(ctx, table)
	if err != nil {
		return err
	}

	var fields []string
	for _, name := range source.FieldNames() {
		if table.Heading.Has(name) {
			fields = append(fields, name)
		} else if !opts.IgnoreExtraFields {
			return rel.NewUsageError(
				"attribute %q not found in %s; set IgnoreExtraFields to ignore extra attributes in insert",
				name, table.Name)
		}
	}
	if len(fields) == 0 {
		return rel.NewUsageError("insert from select into %s: no shared columns", table.Name)
	}

	query, params, err := sqlgen.InsertFromSelectSQL(table.Name, fields, source, opts.Replace, opts.SkipDuplicates)
	if err != nil {
		return err
	}
	if _, err := e.conn.Exec(ctx, query, params...); err != nil {
		return e.mapExecErr(table.Name, err)
	}
	return nil
}

// guardDirectInsert refuses direct inserts into auto-populated tables.
func (e *Engine) guardDirectInsert(table rel.Table, opts Options) error {
	if opts.AllowDirectInsert || !rel.IsAutoPopulated(table.Name) {
		return nil
	}
	return rel.NewUsageError(
		"inserts into the auto-populated table %s are only allowed from inside its make callback during a populate call; set AllowDirectInsert to override",
		table.Name)
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

// encodeRow validates one row against the heading and encodes each attribute
// through the codec, in heading order.
func (e *Engine) encodeRow(heading *rel.Heading, row any, ignoreExtra bool, fieldList []string) ([]codec.Encoded, error) {
	asMap, positional, err := rowValues(heading, row)
	if err != nil {
		return nil, err
	}

	if positional != nil {
		encs := make([]codec.Encoded, len(positional))
		for i, attr := range heading.Attributes {
			enc, err := e.codec.Encode(attr, positional[i])
			if err != nil {
				return nil, err
			}
			encs[i] = enc
		}
		return encs, nil
	}

	if err := checkFields(heading, asMap, fieldList, ignoreExtra); err != nil {
		return nil, err
	}
	var encs []codec.Encoded
	for _, attr := range heading.Attributes {
		value, ok := asMap[attr.Name]
		if !ok {
			continue
		}
		enc, err := e.codec.Encode(attr, value)
		if err != nil {
			return nil, err
		}
		encs = append(encs, enc)
	}
	if len(encs) == 0 {
		return nil, rel.NewUsageError("empty row")
	}
	return encs, nil
}

// rowValues splits a row into either a name-keyed map or a positional slice.
func rowValues(heading *rel.Heading, row any) (map[string]any, []any, error) {
	switch r := row.(type) {
	case map[string]any:
		return r, nil, nil
	case []any:
		if len(r) != heading.Len() {
			return nil, nil, rel.NewUsageError(
				"invalid insert argument: incorrect number of attributes: %d given, %d expected",
				len(r), heading.Len())
		}
		return nil, r, nil
	default:
		asMap, err := structToMap(row)
		if err != nil {
			return nil, nil, err
		}
		return asMap, nil, nil
	}
}

// structToMap converts a db-tagged struct to an attribute map. The tag names
// the column; untagged exported fields use the lower-cased field name.
func structToMap(row any) (map[string]any, error) {
	v := reflect.ValueOf(row)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, rel.NewUsageError("row type %T cannot be inserted", row)
	}
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("db")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		out[name] = v.Field(i).Interface()
	}
	return out, nil
}

// checkFields validates that the row's attributes are in the heading and,
// after the first row, that the attribute set matches the fixed field list.
func checkFields(heading *rel.Heading, fields map[string]any, fieldList []string, ignoreExtra bool) error {
	if fieldList == nil {
		if !ignoreExtra {
			for name := range fields {
				if !heading.Has(name) {
					return rel.NewUsageError(
						"%q is not in the table heading; set IgnoreExtraFields to ignore extra attributes in insert",
						name)
				}
			}
		}
		return nil
	}

	expected := make(map[string]bool, len(fieldList))
	for _, name := range fieldList {
		expected[name] = true
	}
	inHeading := 0
	for name := range fields {
		if !heading.Has(name) {
			if !ignoreExtra {
				return rel.NewUsageError(
					"%q is not in the table heading; set IgnoreExtraFields to ignore extra attributes in insert",
					name)
			}
			continue
		}
		if !expected[name] {
			return rel.NewUsageError("attempt to insert rows with different fields")
		}
		inHeading++
	}
	if inHeading != len(fieldList) {
		return rel.NewUsageError("attempt to insert rows with different fields")
	}
	return nil
}

// realign reorders encoded attributes to match the fixed field list.
func realign(encs []codec.Encoded, fieldList []string) ([]codec.Encoded, error) {
	byName := make(map[string]codec.Encoded, len(encs))
	for _, enc := range encs {
		byName[enc.Name] = enc
	}
	out := make([]codec.Encoded, len(fieldList))
	for i, name := range fieldList {
		enc, ok := byName[name]
		if !ok {
			return nil, rel.NewUsageError("attempt to insert rows with different fields")
		}
		out[i] = enc
	}
	return out, nil
}

func (e *Engine) mapExecErr(table string, err error) error {
	if conn.IsDuplicateErr(err) {
		return rel.NewIntegrityError(table,
			"set SkipDuplicates to ignore duplicate entries in insert", err)
	}
	if conn.IsAccessErr(err) {
		return rel.NewIntegrityError(table, "check access privileges", err)
	}
	return fmt.Errorf("insert into %s: %w", table, err)
}
