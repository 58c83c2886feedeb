// Package conn provides the single database connection the core operates
// through, including its transaction discipline.
//
// The core assumes one connection per process. Workers populating the same
// pipeline run as independent processes, each with its own connection;
// nothing in this package is safe for concurrent use from multiple
// goroutines.
//
// # Transaction discipline
//
// At most one transaction is open at a time. Operations that need atomicity
// (cascading delete, master+part insert) check InTransaction first: if a
// transaction is already open they join it and NEVER finalize it; only the
// caller that opened a transaction may commit or cancel it. Exec and Query
// route through the open transaction automatically.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package conn
