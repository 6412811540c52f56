// Package queryir provides the abstract query intermediate representation
// (IR) produced by the historical query builder.
//
// QueryIR is the boundary between the builder, which knows entities,
// associations and audit strategies, and the SQL backend, which only knows
// tables, aliases and predicates:
//
//	[query builder] → [Query IR] → [SQL backend]
//
// SEALED INTERFACES:
//
// Query, Expr and Predicate are sealed interfaces using the marker method
// pattern. Only types in this package implement them, which enables
// exhaustive type switches in backends:
//
//	switch p := pred.(type) {
//	case Compare:
//	case IsNull:
//	case And:
//	case Or:
//	...
//	}
//
// FRAGMENT:
//
// The IR covers what historical queries need and nothing more:
//   - Select with inner and left joins, DISTINCT, LIMIT and OFFSET
//   - Comparisons, IS NULL, IN, AND, OR, NOT
//   - COUNT and MAX aggregates
//   - Correlated scalar subqueries (MAX(REV) lookups of the default strategy)
//
// All literal values are ir.IRValue types (no floats). Backends bind them
// as parameters, never interpolate them.
//
// Validate checks a query for structural mistakes (unknown or duplicate
// aliases, joins without conditions) before it reaches a backend.
package queryir
