// Package sqlgen compiles rel conditions and table handles to parameterized
// SQL for SQLite.
//
// All values are parameterized, never interpolated. Map-shaped inputs are
// compiled with sorted keys so generated SQL is deterministic and can be
// compared against golden files.
package sqlgen
