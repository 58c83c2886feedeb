package sqlgen

import (
	"fmt"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
)

// SelectSpec describes a SELECT over one (possibly restricted) table.
// It doubles as the source description for insert-from-select.
type SelectSpec struct {
	Table rel.Table

	// Fields are the projected attributes; empty means every attribute.
	Fields []string

	// Renames maps output name -> source attribute for projected renames.
	Renames map[string]string

	Distinct bool
}

// FieldNames returns the output attribute names of the projection.
func (s SelectSpec) FieldNames() []string {
	if len(s.Fields) > 0 {
		return s.Fields
	}
	if s.Table.Heading != nil {
		return s.Table.Heading.Names()
	}
	return nil
}

// SelectSQL compiles a SelectSpec to parameterized SQL.
func SelectSQL(spec SelectSpec) (string, []any, error) {
	fields := "*"
	if len(spec.Fields) > 0 {
		cols := make([]string, len(spec.Fields))
		for i, f := range spec.Fields {
			if src, ok := spec.Renames[f]; ok && src != f {
				cols[i] = fmt.Sprintf("%s AS %s", QuoteIdent(src), QuoteIdent(f))
			} else {
				cols[i] = QuoteIdent(f)
			}
		}
		fields = strings.Join(cols, ", ")
	}

	where, params, err := whereClause(spec.Table.Restriction)
	if err != nil {
		return "", nil, err
	}

	distinct := ""
	if spec.Distinct {
		distinct = "DISTINCT "
	}
	sql := fmt.Sprintf("SELECT %s%s FROM %s%s", distinct, fields, QuoteIdent(spec.Table.Name), where)
	return sql, params, nil
}

// CountSQL compiles a row count over the restricted table.
func CountSQL(t rel.Table) (string, []any, error) {
	where, params, err := whereClause(t.Restriction)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", QuoteIdent(t.Name), where), params, nil
}

// DeleteSQL compiles a DELETE limited to the table's restriction.
func DeleteSQL(t rel.Table) (string, []any, error) {
	where, params, err := whereClause(t.Restriction)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", QuoteIdent(t.Name), where), params, nil
}

// DropSQL compiles a DROP TABLE statement.
func DropSQL(table string) string {
	return "DROP TABLE " + QuoteIdent(table)
}

// InsertSQL assembles a multi-row INSERT from per-row placeholder lists.
//
// replace selects INSERT OR REPLACE; skipDuplicates appends
// ON CONFLICT DO NOTHING. The two are mutually exclusive at the call site.
func InsertSQL(table string, fields []string, rowPlaceholders [][]string, replace, skipDuplicates bool) string {
	command := "INSERT"
	if replace {
		command = "INSERT OR REPLACE"
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = QuoteIdent(f)
	}
	rows := make([]string, len(rowPlaceholders))
	for i, ph := range rowPlaceholders {
		rows[i] = "(" + strings.Join(ph, ",") + ")"
	}
	suffix := ""
	if skipDuplicates {
		suffix = " ON CONFLICT DO NOTHING"
	}
	return fmt.Sprintf("%s INTO %s (%s) VALUES %s%s",
		command, QuoteIdent(table), strings.Join(cols, ", "), strings.Join(rows, ","), suffix)
}

// InsertFromSelectSQL assembles an INSERT ... SELECT restricted to the given
// fields of the source.
func InsertFromSelectSQL(table string, fields []string, source SelectSpec, replace, skipDuplicates bool) (string, []any, error) {
	src := source
	src.Fields = fields
	selectSQL, params, err := SelectSQL(src)
	if err != nil {
		return "", nil, err
	}
	command := "INSERT"
	if replace {
		command = "INSERT OR REPLACE"
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = QuoteIdent(f)
	}
	suffix := ""
	if skipDuplicates {
		suffix = " ON CONFLICT DO NOTHING"
	}
	sql := fmt.Sprintf("%s INTO %s (%s) %s%s",
		command, QuoteIdent(table), strings.Join(cols, ", "), selectSQL, suffix)
	return sql, params, nil
}

// UpdateSQL assembles an UPDATE of the given attributes limited to the
// table's restriction. setPlaceholders aligns with setFields.
func UpdateSQL(t rel.Table, setFields, setPlaceholders []string) (string, []any, error) {
	if len(setFields) == 0 {
		return "", nil, fmt.Errorf("update of %s: no attributes to set", t.Name)
	}
	parts := make([]string, len(setFields))
	for i, f := range setFields {
		parts[i] = QuoteIdent(f) + "=" + setPlaceholders[i]
	}
	where, params, err := whereClause(t.Restriction)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s%s", QuoteIdent(t.Name), strings.Join(parts, ", "), where)
	return sql, params, nil
}
