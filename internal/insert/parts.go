package insert

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
)

// PartTables returns the part tables of the master, in graph order. A child
// reached through an alias node resolves one level down to the real table.
func (e *Engine) PartTables(ctx context.Context, master string) ([]rel.Table, error) {
	if err := e.graph.Load(ctx); err != nil {
		return nil, err
	}

	var parts []rel.Table
	for child := range e.graph.Children(master, graph.AllEdges) {
		if rel.IsAliasNode(child) {
			// exactly one real child sits behind an alias node
			for resolved := range e.graph.Children(child, graph.AllEdges) {
				child = resolved
				break
			}
		}
		if !rel.IsPartTableOf(child, master) {
			continue
		}
		part, err := e.conn.OpenTable(ctx, child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// HasPartTables reports whether the master owns any part tables.
func (e *Engine) HasPartTables(ctx context.Context, master string) (bool, error) {
	parts, err := e.PartTables(ctx, master)
	if err != nil {
		return false, err
	}
	return len(parts) > 0, nil
}

// Insert1P writes one logical record spanning a master table and its part
// tables: one master row plus any number of part rows, atomically.
//
// Every row in the set must agree on the master's primary key. Columns are
// split by destination table; part rows are deduplicated on the part's own
// primary key. The whole write joins an already-open transaction or opens
// its own.
func (e *Engine) Insert1P(ctx context.Context, master rel.Table, rows []map[string]any, opts Options) error {
	master, err := e.withHeading(ctx, master)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return rel.NewUsageError("insert1p into %s: empty row set", master.Name)
	}

	if err := checkMasterKey(master, rows); err != nil {
		return err
	}

	// master row: the first row's master columns, nulls dropped
	masterRow := make(map[string]any)
	for _, attr := range master.Heading.Attributes {
		if v, ok := rows[0][attr.Name]; ok && v != nil {
			masterRow[attr.Name] = v
		}
	}

	parts, err := e.PartTables(ctx, master.Name)
	if err != nil {
		return err
	}

	write := func() error {
		if err := e.Insert1(ctx, master, masterRow, opts); err != nil {
			return err
		}
		for _, part := range parts {
			partRows := splitPartRows(part, master, rows)
			if len(partRows) == 0 {
				continue
			}
			if err := e.Insert(ctx, part, partRows, opts); err != nil {
				return err
			}
		}
		return nil
	}

	// join an enclosing transaction; otherwise own one
	if e.conn.InTransaction() {
		return write()
	}
	if err := e.conn.StartTransaction(ctx); err != nil {
		return err
	}
	if err := write(); err != nil {
		if cancelErr := e.conn.CancelTransaction(); cancelErr != nil {
			e.logger.Warn("cancel after failed insert1p", "table", master.Name, "error", cancelErr)
		}
		return err
	}
	return e.conn.CommitTransaction()
}

// checkMasterKey verifies that the master primary-key projection is unique
// and complete across the supplied row set.
func checkMasterKey(master rel.Table, rows []map[string]any) error {
	pk := master.PrimaryKey()
	seen := ""
	for _, row := range rows {
		var parts []string
		for _, attr := range pk {
			v, ok := row[attr]
			if !ok || v == nil {
				return rel.NewUsageError(
					"insert1p into %s: master primary-key attribute %q missing from row set",
					master.Name, attr)
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		key := strings.Join(parts, "\x00")
		if seen == "" {
			seen = key
		} else if key != seen {
			return rel.NewUsageError(
				"insert1p into %s: master primary keys are not unique across the row set", master.Name)
		}
	}
	return nil
}

// splitPartRows selects the part table's columns from the row set and
// deduplicates on the part's primary key, preserving first occurrence.
// A row contributes to a part only when it carries at least one column
// beyond the master's own heading: the "remaining" columns of the record
// select its destination parts.
func splitPartRows(part, master rel.Table, rows []map[string]any) []any {
	pk := part.PrimaryKey()

	var out []any
	seen := make(map[string]bool)
	for _, row := range rows {
		own := false
		for _, attr := range part.Heading.Attributes {
			if master.Heading.Has(attr.Name) {
				continue
			}
			if _, ok := row[attr.Name]; ok {
				own = true
				break
			}
		}
		if !own {
			continue
		}

		partRow := make(map[string]any)
		for _, attr := range part.Heading.Attributes {
			if v, ok := row[attr.Name]; ok {
				partRow[attr.Name] = v
			}
		}
		var keyParts []string
		for _, attr := range pk {
			keyParts = append(keyParts, fmt.Sprintf("%v", partRow[attr]))
		}
		key := strings.Join(keyParts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, partRow)
	}
	return out
}
