// Package domain defines the core business types for the distress scanner.
//
// Types in this package are pure value objects with no behavior beyond
// serialization helpers, no database dependencies, and no HTTP concerns.
// They are the shared language between collectors, evaluators, the store,
// and the pass schedulers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure helper methods on types are allowed
//   - Constants and enums belong here
package domain
