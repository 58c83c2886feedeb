package automake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/insert"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Fetch methods supported by a settings record.
const (
	// FetchOne expects exactly one upstream row per key.
	FetchOne = "fetch1"

	// FetchMany fetches all matching rows column-wise; columns listed in
	// ParseUnique collapse to their first value.
	FetchMany = "fetch"
)

// ContainerKind declares how a column-group binding is assembled.
type ContainerKind string

const (
	// ContainerList assembles an ordered sequence.
	ContainerList ContainerKind = "list"

	// ContainerTuple assembles an ordered fixed-size sequence.
	ContainerTuple ContainerKind = "tuple"

	// ContainerSet assembles a unique set (first occurrence order).
	ContainerSet ContainerKind = "set"
)

// EntryBinding maps one function argument to fetched entry data. Exactly one
// of Column, Columns, or Mapping is set.
type EntryBinding struct {
	// Column binds the argument to one entry column.
	Column string `json:"column,omitempty"`

	// Columns binds the argument to a fixed-size group of entry columns,
	// assembled per Container.
	Columns []string `json:"columns,omitempty"`

	// Container is the declared container kind for Columns. Defaults to
	// ContainerList.
	Container ContainerKind `json:"container,omitempty"`

	// Mapping binds the argument to a nested name -> column map.
	Mapping map[string]string `json:"mapping,omitempty"`
}

func (b EntryBinding) validate(name string) error {
	set := 0
	if b.Column != "" {
		set++
	}
	if len(b.Columns) > 0 {
		set++
	}
	if len(b.Mapping) > 0 {
		set++
	}
	if set != 1 {
		return rel.NewUsageError(
			"entry binding %q must set exactly one of column, columns, or mapping", name)
	}
	switch b.Container {
	case "", ContainerList, ContainerTuple, ContainerSet:
	default:
		return rel.NewUsageError("entry binding %q: unknown container kind %q", name, b.Container)
	}
	return nil
}

// columns returns the entry columns the binding reads.
func (b EntryBinding) columns() []string {
	if b.Column != "" {
		return []string{b.Column}
	}
	if len(b.Columns) > 0 {
		return b.Columns
	}
	var cols []string
	for _, c := range b.Mapping {
		cols = append(cols, c)
	}
	return cols
}

// FetchTable names one upstream table with its projection.
type FetchTable struct {
	Table string `json:"table"`

	// Attrs projects the table to the named attributes (primary key is
	// always implied); empty keeps every attribute.
	Attrs []string `json:"attrs,omitempty"`

	// Renames maps output name -> source attribute.
	Renames map[string]string `json:"renames,omitempty"`
}

// StoredRestriction is the persistable form of an extra restriction:
// attribute equality, a raw SQL condition, or both.
type StoredRestriction struct {
	Eq  map[string]any `json:"eq,omitempty"`
	SQL string         `json:"sql,omitempty"`
}

// Cond converts the stored restriction to a condition, or nil when empty.
func (s *StoredRestriction) Cond() rel.Cond {
	if s == nil {
		return nil
	}
	var conds rel.And
	if len(s.Eq) > 0 {
		conds = append(conds, rel.Eq(s.Eq))
	}
	if s.SQL != "" {
		conds = append(conds, rel.Raw{SQL: s.SQL})
	}
	if len(conds) == 0 {
		return nil
	}
	return conds
}

// SettingsRecord is one named configuration for an auto-made table.
type SettingsRecord struct {
	Name           string
	Description    string
	Func           string
	GlobalSettings map[string]any
	EntrySettings  map[string]EntryBinding
	FetchMethod    string
	FetchTables    []FetchTable
	Restriction    *StoredRestriction
	ParseUnique    []string

	// SpliceArgs and SpliceKwargs are the reserved setting names whose
	// assembled values are spliced into the positional arguments and the
	// keyword set respectively.
	SpliceArgs   string
	SpliceKwargs string

	Created string
}

// SettingsTableName derives the default settings-store name for a target
// table: the target's base name with the settings prefix.
func SettingsTableName(target string) string {
	return "##" + strings.TrimLeft(target, "_#") + "_settings"
}

// SchemaCompiler creates the per-table settings store. Declaration logic
// beyond this fixed table is outside the core.
type SchemaCompiler interface {
	CreateSettingsTable(ctx context.Context, name string) error
}

// SQLCompiler is the default schema compiler.
type SQLCompiler struct {
	Conn *conn.Connection
}

// CreateSettingsTable implements SchemaCompiler.
func (c SQLCompiler) CreateSettingsTable(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	settings_name   TEXT PRIMARY KEY,
	description     TEXT,
	func            TEXT NOT NULL,
	global_settings BLOB,
	entry_settings  BLOB,
	fetch_method    TEXT NOT NULL DEFAULT 'fetch1',
	fetch_tables    BLOB,
	restriction     BLOB,
	parse_unique    BLOB,
	splice_args     TEXT,
	splice_kwargs   TEXT,
	created         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, sqlgen.QuoteIdent(name))
	if _, err := c.Conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create settings table %s: %w", name, err)
	}
	return nil
}

// Store reads and writes settings records in one named settings table.
// The store owns its table name at construction time.
type Store struct {
	conn     *conn.Connection
	insert   *insert.Engine
	table    string
	registry *Registry
}

// NewStore creates a settings store over the named table.
func NewStore(c *conn.Connection, ins *insert.Engine, table string, registry *Registry) *Store {
	return &Store{conn: c, insert: ins, table: table, registry: registry}
}

// TableName returns the settings table name.
func (s *Store) TableName() string {
	return s.table
}

// Create declares the settings table through the schema compiler.
func (s *Store) Create(ctx context.Context, compiler SchemaCompiler) error {
	return compiler.CreateSettingsTable(ctx, s.table)
}

// Insert validates and writes one settings record.
func (s *Store) Insert(ctx context.Context, rec SettingsRecord) error {
	if err := s.validate(rec); err != nil {
		return err
	}

	row := map[string]any{
		"settings_name": rec.Name,
		"func":          rec.Func,
		"fetch_method":  rec.FetchMethod,
	}
	if rec.Description != "" {
		row["description"] = rec.Description
	}
	if rec.SpliceArgs != "" {
		row["splice_args"] = rec.SpliceArgs
	}
	if rec.SpliceKwargs != "" {
		row["splice_kwargs"] = rec.SpliceKwargs
	}
	for column, value := range map[string]any{
		"global_settings": rec.GlobalSettings,
		"entry_settings":  rec.EntrySettings,
		"fetch_tables":    rec.FetchTables,
		"restriction":     rec.Restriction,
		"parse_unique":    rec.ParseUnique,
	} {
		payload, err := marshalField(column, value)
		if err != nil {
			return err
		}
		if payload != nil {
			row[column] = payload
		}
	}

	table := rel.Table{Name: s.table}
	return s.insert.Insert1(ctx, table, row, insert.Options{})
}

// Fetch1 loads exactly one settings record by name. Zero or multiple
// matches is a usage error.
func (s *Store) Fetch1(ctx context.Context, name string) (*SettingsRecord, error) {
	table, err := s.conn.OpenTable(ctx, s.table)
	if err != nil {
		return nil, err
	}
	row, err := s.conn.Fetch1(ctx, sqlgen.SelectSpec{
		Table: table.Restrict(rel.Eq{"settings_name": name}),
	})
	if err != nil {
		if rel.IsUsageError(err) {
			return nil, rel.NewUsageError("settings record %q: %v", name, err)
		}
		return nil, err
	}
	return s.decodeRow(row)
}

// List loads every settings record in name order.
func (s *Store) List(ctx context.Context) ([]SettingsRecord, error) {
	table, err := s.conn.OpenTable(ctx, s.table)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.FetchAll(ctx, sqlgen.SelectSpec{Table: table})
	if err != nil {
		return nil, err
	}
	out := make([]SettingsRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *Store) decodeRow(row map[string]any) (*SettingsRecord, error) {
	rec := &SettingsRecord{
		Name:         asString(row["settings_name"]),
		Description:  asString(row["description"]),
		Func:         asString(row["func"]),
		FetchMethod:  asString(row["fetch_method"]),
		SpliceArgs:   asString(row["splice_args"]),
		SpliceKwargs: asString(row["splice_kwargs"]),
		Created:      asString(row["created"]),
	}
	if err := unmarshalField(row["global_settings"], &rec.GlobalSettings); err != nil {
		return nil, err
	}
	if err := unmarshalField(row["entry_settings"], &rec.EntrySettings); err != nil {
		return nil, err
	}
	if err := unmarshalField(row["fetch_tables"], &rec.FetchTables); err != nil {
		return nil, err
	}
	if err := unmarshalField(row["restriction"], &rec.Restriction); err != nil {
		return nil, err
	}
	if err := unmarshalField(row["parse_unique"], &rec.ParseUnique); err != nil {
		return nil, err
	}
	// the referenced function must still be registered
	if _, err := s.registry.Lookup(rec.Func); err != nil {
		return nil, err
	}
	return rec, nil
}

// validate enforces the record's internal consistency before insertion.
func (s *Store) validate(rec SettingsRecord) error {
	if rec.Name == "" {
		return rel.NewUsageError("settings record needs a name")
	}
	if _, err := s.registry.Lookup(rec.Func); err != nil {
		return err
	}
	switch rec.FetchMethod {
	case FetchOne, FetchMany:
	default:
		return rel.NewUsageError(
			"settings record %q: fetch method must be %q or %q, got %q",
			rec.Name, FetchOne, FetchMany, rec.FetchMethod)
	}

	required := make(map[string]bool)
	for name, binding := range rec.EntrySettings {
		if err := binding.validate(name); err != nil {
			return err
		}
		for _, col := range binding.columns() {
			required[col] = true
		}
	}
	for _, col := range rec.ParseUnique {
		if !required[col] {
			return rel.NewUsageError(
				"settings record %q: parse-unique column %q is not bound by any entry setting",
				rec.Name, col)
		}
	}
	for name := range rec.GlobalSettings {
		if _, bound := rec.EntrySettings[name]; bound {
			// entry bindings win the collision at make time; flag it early
			return rel.NewUsageError(
				"settings record %q: %q is bound both globally and per entry", rec.Name, name)
		}
	}
	return nil
}

func marshalField(column string, value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal settings field %s: %w", column, err)
	}
	if string(payload) == "null" {
		return nil, nil
	}
	return payload, nil
}

func unmarshalField(stored any, target any) error {
	if stored == nil {
		return nil
	}
	payload, ok := stored.([]byte)
	if !ok {
		if s, isString := stored.(string); isString {
			payload = []byte(s)
		} else {
			return fmt.Errorf("settings field has unexpected stored type %T", stored)
		}
	}
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, target)
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
