// Package update implements guarded single-row updates.
//
// An update is permitted only when the handle's restriction narrows the
// table to exactly one row, and never touches primary-key attributes. Before
// applying, the engine walks every descendant reachable through foreign-key
// attribute maps (resolving one level of aliasing): if an auto-populated
// descendant holds a row that depends on the entry, the update is refused,
// skipped, or applied with a warning according to the selected policy. This
// prevents silently desynchronizing an already-computed downstream result
// from its now-stale upstream input.
package update
