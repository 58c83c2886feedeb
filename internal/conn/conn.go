package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/datapipe/internal/rel"
)

// Connection wraps the single backing database connection and tracks the
// current transaction, if any.
type Connection struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Connection, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	c := &Connection{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the database connection. An open transaction is cancelled.
func (c *Connection) Close() error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Connection methods, which respect the open
// transaction.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// InTransaction reports whether a transaction is currently open.
func (c *Connection) InTransaction() bool {
	return c.tx != nil
}

// StartTransaction opens a new transaction. Starting a transaction while one
// is already open is a usage error; callers that want to participate in an
// enclosing transaction check InTransaction and join instead.
func (c *Connection) StartTransaction(ctx context.Context) error {
	if c.tx != nil {
		return rel.NewUsageError("a transaction is already open; join it instead of starting a new one")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	c.tx = tx
	c.logger.Debug("transaction started")
	return nil
}

// CommitTransaction commits the open transaction.
func (c *Connection) CommitTransaction() error {
	if c.tx == nil {
		return rel.NewUsageError("no open transaction to commit")
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	c.logger.Debug("transaction committed")
	return nil
}

// CancelTransaction rolls back the open transaction.
func (c *Connection) CancelTransaction() error {
	if c.tx == nil {
		return rel.NewUsageError("no open transaction to cancel")
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("cancel transaction: %w", err)
	}
	c.logger.Debug("transaction cancelled")
	return nil
}

// Exec executes a statement, routing through the open transaction if any.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.ExecContext(ctx, query, args...)
	}
	return c.db.ExecContext(ctx, query, args...)
}

// Query executes a query, routing through the open transaction if any.
// Callers are responsible for closing the returned rows.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.tx != nil {
		return c.tx.QueryContext(ctx, query, args...)
	}
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query expected to return at most one row.
func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRowContext(ctx, query, args...)
	}
	return c.db.QueryRowContext(ctx, query, args...)
}

// IsDuplicateErr reports whether the error is a duplicate-key constraint
// violation from the driver.
func IsDuplicateErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				se.ExtendedCode == sqlite3.ErrConstraintUnique)
	}
	return false
}

// IsAccessErr reports whether the error is an authorization or read-only
// failure from the driver.
func IsAccessErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrAuth || se.Code == sqlite3.ErrReadonly
	}
	return false
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	return nil
}
