// Package schema describes which record types are audited and how their
// history is laid out.
//
// An Entity lists the tracked scalar properties, the associations
// (RelationDescription) and the embedded components (ComponentDescription)
// of one record type. Entities are collected in a Registry, either built in
// code or compiled from CUE files with LoadDir:
//
//	entity: Person: {
//		table: "person"
//		id: {name: "id", type: int}
//		properties: {
//			name: string
//			age:  int
//		}
//		relations: {
//			address:  {kind: "to_one", target: "Address", column: "address_id"}
//			projects: {kind: "to_many_middle", target: "Project", table: "person_project", owner_column: "person_id", element_column: "project_id"}
//		}
//		components: {
//			home: {kind: "one", prefix: "home_", properties: {street: string, city: string}}
//		}
//	}
//
// Naming turns entity and middle table names into audit table names; the
// audit strategy turns those into a Table layout.
package schema
