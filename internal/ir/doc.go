// Package ir provides the foundational value and record types for timeline.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the value model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Property snapshots are IRObject values keyed by property name
//   - Identities are compared through their canonical JSON encoding
//   - Revision ids are logical and non-decreasing; timestamps are informational
package ir
