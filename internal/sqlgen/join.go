package sqlgen

import (
	"fmt"
	"strings"

	"github.com/roach88/datapipe/internal/rel"
)

// JoinSpec is a natural join of projected tables plus an outer restriction.
// Tables join pairwise on their shared output attribute names.
type JoinSpec struct {
	Sources []SelectSpec
	Where   rel.And

	// Fields projects the join output; empty keeps every attribute.
	Fields []string

	Distinct bool
}

// JoinSQL compiles a JoinSpec to parameterized SQL. Each source becomes a
// named subquery so projections and per-source restrictions stay local:
//
//	SELECT * FROM (SELECT ...) AS j0 NATURAL JOIN (SELECT ...) AS j1 WHERE ...
func JoinSQL(spec JoinSpec) (string, []any, error) {
	if len(spec.Sources) == 0 {
		return "", nil, fmt.Errorf("join: no source tables")
	}

	var from []string
	var params []any
	for i, src := range spec.Sources {
		sub, subParams, err := SelectSQL(src)
		if err != nil {
			return "", nil, err
		}
		alias := fmt.Sprintf("j%d", i)
		if i == 0 {
			from = append(from, fmt.Sprintf("(%s) AS %s", sub, alias))
		} else {
			from = append(from, fmt.Sprintf("NATURAL JOIN (%s) AS %s", sub, alias))
		}
		params = append(params, subParams...)
	}

	fields := "*"
	if len(spec.Fields) > 0 {
		cols := make([]string, len(spec.Fields))
		for i, f := range spec.Fields {
			cols[i] = QuoteIdent(f)
		}
		fields = strings.Join(cols, ", ")
	}

	where, whereParams, err := whereClause(spec.Where)
	if err != nil {
		return "", nil, err
	}
	params = append(params, whereParams...)

	distinct := ""
	if spec.Distinct {
		distinct = "DISTINCT "
	}
	sql := fmt.Sprintf("SELECT %s%s FROM %s%s", distinct, fields, strings.Join(from, " "), where)
	return sql, params, nil
}
