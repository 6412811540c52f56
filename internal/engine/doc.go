// Package engine binds the persistence callbacks of a host transaction to
// the audit pipeline.
//
// FLOW:
//
//  1. The host reports each insert, update, delete and collection change
//     on a Tx through the On* callbacks.
//  2. Each callback becomes a change unit and is merged by the
//     transaction's accumulator.
//  3. Commit reduces the accumulator, takes one revision from the
//     sequencer and writes every fact through the audit strategy, all in
//     one store transaction.
//
// A Tx that reduces to nothing consumes no revision. Rollback discards the
// pending units without touching the store.
//
// CRITICAL PATTERNS:
//
// One revision per transaction: every row written by a commit carries the
// same revision id and timestamp.
//
// All or nothing: a configuration or consistency error aborts the commit
// and rolls back the store transaction, so no partial revision is visible.
//
// A Tx is bound to one goroutine. The Engine itself is shared.
package engine
