// Package unit models pending changes to audited records.
//
// A Unit is created for every insert, update, delete, collection mutation or
// inverse-side association change reported inside a transaction. Merge
// combines a unit already recorded for a record with a later one:
//
//	existing \ incoming  Add        Modify     Delete     Collection  Fake
//	Add                  Add        Add        Cancel     Separate    Add
//	Modify               Modify     Modify     Delete     Separate    Modify
//	Delete               Separate   Delete     Delete     Separate    Delete
//	Collection           Separate   Separate   Separate   Union*      Separate
//	Fake                 incoming   incoming   incoming   Separate    Fake
//
// (*) same property only; a different property is Separate.
//
// Delete followed by Add is kept as two facts on purpose: the record is
// removed and a new one with the same identity inserted, and history shows
// both rows. An add and a remove of the same collection element are never
// netted out.
package unit
