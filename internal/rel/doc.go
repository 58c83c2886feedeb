// Package rel provides the foundational relational types for datapipe.
//
// This package contains type definitions only. All other internal packages
// import rel; rel imports nothing internal. This ensures rel remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Restrictions are data, never SQL text; internal/sqlgen compiles them
//   - Table handles are immutable values; Restrict returns a copy
//   - Errors carry a structured Code so engines can branch on category
//     without string matching
package rel
