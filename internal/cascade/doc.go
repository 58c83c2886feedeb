// Package cascade implements cascading delete and drop over the foreign-key
// dependency graph.
//
// A delete runs in two strictly separated phases. The plan phase is pure: it
// loads the graph, walks the descendants of the target in dependency order,
// and accumulates an OR-list of restriction terms per table. The execute
// phase opens (or joins) a transaction and deletes from each real table in
// strict reverse dependency order. At most one transaction is opened per
// top-level delete, and a joined transaction is never finalized here.
//
// Drop is structurally the same graph walk without restriction propagation,
// and is non-transactional: a mid-sequence failure is fatal with no rollback
// of already-dropped tables.
package cascade
