package cascade

import (
	"context"
	"fmt"

	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// DropOptions configures one drop call.
type DropOptions struct {
	// Confirm, when non-nil, receives the per-table row counts and decides
	// whether to proceed.
	Confirm ConfirmFunc
}

// DropResult reports the outcome of one drop call.
type DropResult struct {
	// Dropped lists the dropped tables in drop order (leaves first).
	Dropped []string

	// Counts holds the row counts reported for confirmation, in dependency
	// order.
	Counts []TableCount

	// Declined is true when the confirmation callback refused the drop.
	Declined bool
}

// Drop removes the table and every table that references it, recursively.
//
// The handle must be unrestricted. Tables are dropped in strict reverse
// dependency order, leaves first. Drop is non-transactional: a mid-sequence
// failure is fatal and already-dropped tables stay dropped.
func (e *Engine) Drop(ctx context.Context, table rel.Table, opts DropOptions) (*DropResult, error) {
	if table.Restricted() {
		return nil, rel.NewUsageError(
			"a restricted handle cannot be dropped; call Drop on the unrestricted table")
	}
	if err := e.graph.Load(ctx); err != nil {
		return nil, err
	}
	if !e.graph.Has(table.Name) {
		return nil, rel.NewUsageError("table %s is not part of the dependency graph", table.Name)
	}

	var tables []string
	for _, n := range e.graph.Descendants(table.Name) {
		if !rel.IsAliasNode(n) {
			tables = append(tables, n)
		}
	}

	result := &DropResult{}
	for _, name := range tables {
		count, err := e.conn.Count(ctx, rel.Table{Name: name})
		if err != nil {
			return nil, err
		}
		result.Counts = append(result.Counts, TableCount{Table: name, Rows: int64(count)})
	}

	if opts.Confirm != nil {
		summary := "About to drop:"
		for _, c := range result.Counts {
			summary += fmt.Sprintf("\n%s (%d tuples)", c.Table, c.Rows)
		}
		if !opts.Confirm(summary) {
			result.Declined = true
			return result, nil
		}
	}

	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i]
		if _, err := e.conn.Exec(ctx, sqlgen.DropSQL(name)); err != nil {
			// no rollback: already-dropped tables stay dropped
			return result, fmt.Errorf("drop table %s: %w", name, err)
		}
		result.Dropped = append(result.Dropped, name)
		e.logger.Info("dropped table", "table", name)
	}
	return result, nil
}
