package conn

import (
	"context"
	"fmt"

	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Count returns the number of rows matching the handle's restriction.
func (c *Connection) Count(ctx context.Context, t rel.Table) (int, error) {
	query, params, err := sqlgen.CountSQL(t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.QueryRow(ctx, query, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}

// FetchAll returns every row matching the spec as attribute-name keyed maps,
// in result order.
func (c *Connection) FetchAll(ctx context.Context, spec sqlgen.SelectSpec) ([]map[string]any, error) {
	query, params, err := sqlgen.SelectSQL(spec)
	if err != nil {
		return nil, err
	}
	rows, err := c.fetchRows(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", spec.Table.Name, err)
	}
	return rows, nil
}

// FetchJoin returns every row of a natural join as attribute-name keyed maps.
func (c *Connection) FetchJoin(ctx context.Context, spec sqlgen.JoinSpec) ([]map[string]any, error) {
	query, params, err := sqlgen.JoinSQL(spec)
	if err != nil {
		return nil, err
	}
	rows, err := c.fetchRows(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("fetch join: %w", err)
	}
	return rows, nil
}

func (c *Connection) fetchRows(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	rows, err := c.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Fetch1 returns the single row matching the spec. Zero or multiple matching
// rows is a usage error.
func (c *Connection) Fetch1(ctx context.Context, spec sqlgen.SelectSpec) (map[string]any, error) {
	rows, err := c.FetchAll(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, rel.NewUsageError(
			"expected exactly one row in %s, found %d", spec.Table.Name, len(rows))
	}
	return rows[0], nil
}
