package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
)

// Engine computes and executes cascading delete and drop.
type Engine struct {
	conn   *conn.Connection
	graph  *graph.Graph
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates a cascade engine over the given connection and graph.
func New(c *conn.Connection, g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{conn: c, graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConfirmFunc decides an interactive confirmation. It receives a summary of
// the pending operation and returns true to proceed.
type ConfirmFunc func(summary string) bool

// DeleteOptions configures one delete call. Confirmation mode is explicit
// per call; there is no process-wide flag.
type DeleteOptions struct {
	// Confirm, when non-nil, requires interactive confirmation before the
	// delete is committed. Requesting confirmation while already inside a
	// transaction is a fatal usage error.
	Confirm ConfirmFunc
}

// DeleteStatus describes how a delete call ended.
type DeleteStatus string

const (
	// StatusCommitted: rows were deleted and the owned transaction committed.
	StatusCommitted DeleteStatus = "committed"

	// StatusNothing: no row matched; any owned transaction was cancelled.
	StatusNothing DeleteStatus = "nothing to delete"

	// StatusPending: the delete joined an enclosing transaction and left
	// commit/cancel to its owner.
	StatusPending DeleteStatus = "pending"

	// StatusCancelled: interactive confirmation was declined; the owned
	// transaction was cancelled.
	StatusCancelled DeleteStatus = "cancelled"
)

// TableCount is a per-table deleted-row count.
type TableCount struct {
	Table string
	Rows  int64
}

// DeleteResult reports the outcome of one delete call.
type DeleteResult struct {
	Status DeleteStatus
	Total  int64
	Counts []TableCount
}

// Delete removes the handle's rows and, transitively, every dependent row,
// inside one transaction. If a transaction is already open the call joins it
// and never finalizes it; otherwise the call owns the transaction end to end.
func (e *Engine) Delete(ctx context.Context, table rel.Table, opts DeleteOptions) (*DeleteResult, error) {
	inherited := e.conn.InTransaction()
	if inherited && opts.Confirm != nil {
		return nil, rel.NewTransactionError(
			"cannot run a confirmed delete inside an open transaction; complete the ongoing transaction first or drop the confirmation")
	}

	plan, err := e.PlanDelete(ctx, table)
	if err != nil {
		return nil, err
	}

	if !inherited {
		if err := e.conn.StartTransaction(ctx); err != nil {
			return nil, err
		}
	}

	result, err := e.executeDelete(ctx, plan)
	if err != nil {
		if !inherited {
			if cancelErr := e.conn.CancelTransaction(); cancelErr != nil {
				e.logger.Warn("cancel after failed delete", "table", table.Name, "error", cancelErr)
			}
		}
		return nil, err
	}

	switch {
	case result.Total == 0:
		result.Status = StatusNothing
		if !inherited {
			if err := e.conn.CancelTransaction(); err != nil {
				return nil, err
			}
		}
	case inherited:
		// the enclosing transaction's owner decides the fate of these rows
		result.Status = StatusPending
	case opts.Confirm != nil && !opts.Confirm(summarize(result)):
		result.Status = StatusCancelled
		if err := e.conn.CancelTransaction(); err != nil {
			return nil, err
		}
	default:
		result.Status = StatusCommitted
		if err := e.conn.CommitTransaction(); err != nil {
			return nil, err
		}
	}

	e.logger.Info("cascading delete finished",
		"table", table.Name, "status", string(result.Status), "rows", result.Total)
	return result, nil
}

// executeDelete deletes plan tables in strict reverse dependency order.
func (e *Engine) executeDelete(ctx context.Context, plan *DeletePlan) (*DeleteResult, error) {
	result := &DeleteResult{}
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := plan.Steps[i]
		query, params, err := sqlgen.DeleteSQL(step.Table)
		if err != nil {
			return nil, err
		}
		res, err := e.conn.Exec(ctx, query, params...)
		if err != nil {
			return nil, fmt.Errorf("delete from %s: %w", step.Table.Name, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("delete from %s: %w", step.Table.Name, err)
		}
		if count > 0 {
			result.Counts = append(result.Counts, TableCount{Table: step.Table.Name, Rows: count})
			result.Total += count
			e.logger.Debug("deleted rows", "table", step.Table.Name, "rows", count)
		}
	}
	return result, nil
}

func summarize(result *DeleteResult) string {
	summary := "About to delete:"
	for _, c := range result.Counts {
		summary += fmt.Sprintf("\n%s: %d items", c.Table, c.Rows)
	}
	return summary
}
