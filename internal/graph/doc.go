// Package graph models the foreign-key dependency graph of the pipeline.
//
// Nodes are table names plus synthetic alias nodes: a foreign key that
// renames attributes is split into two edges through a numeric-id
// placeholder node, so restriction propagation can resolve the rename
// through the placeholder's single inbound edge.
//
// The graph is loaded lazily, once per operation, from a Loader. Load runs a
// topological sort over the whole graph; a true foreign-key cycle is a
// schema-validity error, never a silently truncated traversal.
package graph
