package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
)

// QuoteIdent quotes an identifier for SQLite, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CompileCond converts a condition to parameterized SQL.
// Returns (sql, params, error).
//
// Empty And and empty Or both compile to a tautology: an empty restriction
// list means "every row matches".
func CompileCond(c rel.Cond) (string, []any, error) {
	switch cond := c.(type) {
	case rel.Raw:
		return "(" + cond.SQL + ")", cond.Args, nil
	case rel.Eq:
		return compileEq(cond)
	case rel.And:
		return compileList(cond, " AND ")
	case rel.Or:
		return compileList(cond, " OR ")
	case rel.Not:
		inner, params, err := CompileCond(cond.C)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + inner, params, nil
	case rel.SemiJoin:
		return compileSemiJoin(cond)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil condition")
	default:
		return "", nil, fmt.Errorf("unsupported condition type: %T", c)
	}
}

// compileEq compiles attribute equality with sorted keys for determinism.
func compileEq(eq rel.Eq) (string, []any, error) {
	if len(eq) == 0 {
		return "(1=1)", nil, nil
	}
	keys := make([]string, 0, len(eq))
	for k := range eq {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var params []any
	for _, k := range keys {
		v := eq[k]
		if v == nil {
			parts = append(parts, QuoteIdent(k)+" IS NULL")
			continue
		}
		parts = append(parts, QuoteIdent(k)+" = ?")
		params = append(params, v)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func compileList(conds []rel.Cond, sep string) (string, []any, error) {
	if len(conds) == 0 {
		return "(1=1)", nil, nil
	}
	var parts []string
	var params []any
	for _, c := range conds {
		sql, p, err := CompileCond(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

// compileSemiJoin compiles a semijoin term to a row-value IN subquery:
//
//	("a","b") IN (SELECT "pa","pb" FROM "parent" WHERE ...)
func compileSemiJoin(sj rel.SemiJoin) (string, []any, error) {
	if len(sj.Attrs) == 0 || len(sj.Attrs) != len(sj.ParentAttrs) {
		return "", nil, fmt.Errorf("semijoin on %s: attribute lists must be non-empty and aligned", sj.Parent.Name)
	}

	childCols := make([]string, len(sj.Attrs))
	parentCols := make([]string, len(sj.ParentAttrs))
	for i := range sj.Attrs {
		childCols[i] = QuoteIdent(sj.Attrs[i])
		parentCols[i] = QuoteIdent(sj.ParentAttrs[i])
	}

	where, params, err := whereClause(sj.Parent.Restriction)
	if err != nil {
		return "", nil, err
	}

	lhs := childCols[0]
	if len(childCols) > 1 {
		lhs = "(" + strings.Join(childCols, ", ") + ")"
	}
	sub := fmt.Sprintf("SELECT %s FROM %s%s",
		strings.Join(parentCols, ", "),
		QuoteIdent(sj.Parent.Name),
		where)
	return fmt.Sprintf("%s IN (%s)", lhs, sub), params, nil
}

// whereClause compiles an AND-list restriction to a leading " WHERE ..."
// fragment, or "" when the restriction is empty.
func whereClause(restriction rel.And) (string, []any, error) {
	if len(restriction) == 0 {
		return "", nil, nil
	}
	sql, params, err := CompileCond(restriction)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + sql, params, nil
}

// WhereClause is the exported form of whereClause.
func WhereClause(restriction rel.And) (string, []any, error) {
	return whereClause(restriction)
}
