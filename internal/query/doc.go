// Package query reads history back.
//
// A Reader creates three kinds of queries over one root entity:
//
//   - ForEntitiesAtRevision: the snapshot of every entity live at a revision
//   - ForEntitiesAtLatest: the current snapshot of every live entity
//   - ForRevisionsOfEntity: every historical row, in revision order
//
// Queries are refined with criteria, orders and projections, and may
// traverse associations with TraverseRelation. Each traversed node gets
// its own alias and the revision restriction of the active audit strategy,
// so an association is seen as it was at the queried revision:
//
//	q := reader.ForEntitiesAtRevision("Person", 12).
//		Add(query.Property("name").Like("A%"))
//	q.TraverseRelation("projects", query.LeftJoin, "p").
//		Add(query.Property("title").Eq("Alpha"))
//	people, err := q.ResultList(ctx)
//
// A query compiles to QueryIR and then to SQL through querysql. Results are
// ir values: entity snapshots are ir.IRObject keyed by property name.
package query
