package schema

import (
	"fmt"

	"github.com/roach88/timeline/internal/ir"
)

// PropertyType is the storage type of a tracked property.
// Floats are not supported; use scaled integers or strings.
type PropertyType string

const (
	TypeString PropertyType = "string"
	TypeInt    PropertyType = "int"
	TypeBool   PropertyType = "bool"
)

// SQLType returns the SQLite column affinity for the type.
func (t PropertyType) SQLType() string {
	switch t {
	case TypeString:
		return "TEXT"
	case TypeInt, TypeBool:
		return "INTEGER"
	default:
		return ""
	}
}

// Property is one tracked scalar property.
type Property struct {
	Name   string       `json:"name"`
	Column string       `json:"column"`
	Type   PropertyType `json:"type"`
}

// Column is one physical column of an audit or middle table.
type Column struct {
	Name string       `json:"name"`
	Type PropertyType `json:"type,omitempty"`
}

// RelationKind classifies an association property.
type RelationKind int

const (
	// ToOne is an owning single-valued reference stored in a column of the owner.
	ToOne RelationKind = iota
	// ToOneNotOwning is the inverse side of a one-to-one. Recognized but not queryable.
	ToOneNotOwning
	// ToManyNotOwning is a collection whose reference column lives on the target.
	ToManyNotOwning
	// ToManyMiddle is an owning collection stored in a middle table.
	ToManyMiddle
	// ToManyMiddleNotOwning is the inverse side of a middle-table collection.
	ToManyMiddleNotOwning
)

var relationKindNames = map[RelationKind]string{
	ToOne:                 "to_one",
	ToOneNotOwning:        "to_one_not_owning",
	ToManyNotOwning:       "to_many_not_owning",
	ToManyMiddle:          "to_many_middle",
	ToManyMiddleNotOwning: "to_many_middle_not_owning",
}

func (k RelationKind) String() string {
	if s, ok := relationKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// ParseRelationKind parses the names accepted in schema files.
func ParseRelationKind(s string) (RelationKind, error) {
	for k, name := range relationKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown relation kind %q", s)
}

// IsCollection reports whether the relation is many-valued.
func (k RelationKind) IsCollection() bool {
	return k == ToManyNotOwning || k == ToManyMiddle || k == ToManyMiddleNotOwning
}

// TargetAuditMode says whether a relation target is itself audited.
// A NotAudited target is joined against its live table with no revision predicate.
type TargetAuditMode int

const (
	Audited TargetAuditMode = iota
	NotAudited
)

func (m TargetAuditMode) String() string {
	if m == NotAudited {
		return "NOT_AUDITED"
	}
	return "AUDITED"
}

// RelationDescription describes one association property of an entity.
type RelationDescription struct {
	Property        string          `json:"property"`
	Kind            RelationKind    `json:"kind"`
	FromEntity      string          `json:"from_entity"`
	ToEntity        string          `json:"to_entity"`
	TargetAuditMode TargetAuditMode `json:"target_audit_mode"`

	// ReferenceColumn holds the join key outside the identity columns.
	// ToOne: owner column holding the target identity.
	// ToManyNotOwning: target column holding the owner identity.
	ReferenceColumn string `json:"reference_column,omitempty"`

	// ReferenceType is the type stored in ReferenceColumn. Resolved from the
	// referenced identity by Registry.Seal when empty.
	ReferenceType PropertyType `json:"reference_type,omitempty"`

	// Middle is set for ToManyMiddle and ToManyMiddleNotOwning. For the
	// not-owning side Owner refers to this entity and Elements to the target.
	Middle *MiddleDescription `json:"middle,omitempty"`
}

// MiddleDescription describes a junction table recording collection membership.
type MiddleDescription struct {
	Table    string   `json:"table"`
	Owner    Column   `json:"owner"`
	Elements []Column `json:"elements"`
}

// ElementKey returns the element value columns in declaration order.
func (m MiddleDescription) ElementKey() []string {
	names := make([]string, len(m.Elements))
	for i, c := range m.Elements {
		names[i] = c.Name
	}
	return names
}

// ComponentKind distinguishes inlined components from element collections.
type ComponentKind int

const (
	// ComponentOne is an embedded value whose columns are inlined on the owner under a prefix.
	ComponentOne ComponentKind = iota
	// ComponentMany is an element collection stored in an audited middle table.
	ComponentMany
)

func (k ComponentKind) String() string {
	if k == ComponentMany {
		return "many"
	}
	return "one"
}

// ComponentDescription describes an embedded component property.
type ComponentDescription struct {
	Property   string        `json:"property"`
	Kind       ComponentKind `json:"kind"`
	Prefix     string        `json:"prefix,omitempty"`
	Properties []Property    `json:"properties"`

	// Middle is set for ComponentMany. Elements mirror Properties.
	Middle *MiddleDescription `json:"middle,omitempty"`
}

// Column returns the inlined column name of a component property.
func (c *ComponentDescription) Column(p Property) string {
	return c.Prefix + p.Column
}

// Entity is the audit metadata of one record type.
type Entity struct {
	Name string `json:"name"`

	// Table is the live table name. The audit table is derived from it
	// through Naming unless AuditTable is set.
	Table      string `json:"table"`
	AuditTable string `json:"audit_table,omitempty"`

	ID         Property                `json:"id"`
	Properties []Property              `json:"properties"`
	Relations  []*RelationDescription  `json:"relations,omitempty"`
	Components []*ComponentDescription `json:"components,omitempty"`
	NotAudited bool                    `json:"not_audited,omitempty"`
}

// Property returns the scalar property with the given name.
func (e *Entity) Property(name string) (Property, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Relation returns the relation declared on the given property.
func (e *Entity) Relation(name string) (*RelationDescription, bool) {
	for _, r := range e.Relations {
		if r.Property == name {
			return r, true
		}
	}
	return nil, false
}

// Component returns the component declared on the given property.
func (e *Entity) Component(name string) (*ComponentDescription, bool) {
	for _, c := range e.Components {
		if c.Property == name {
			return c, true
		}
	}
	return nil, false
}

// TrackedNames returns the snapshot keys recorded on the entity's audit row:
// scalar properties, owning to-one references and inlined components.
func (e *Entity) TrackedNames() []string {
	var names []string
	for _, p := range e.Properties {
		names = append(names, p.Name)
	}
	for _, r := range e.Relations {
		if r.Kind == ToOne {
			names = append(names, r.Property)
		}
	}
	for _, c := range e.Components {
		if c.Kind == ComponentOne {
			names = append(names, c.Property)
		}
	}
	return names
}

// Track strips untracked keys from a snapshot. Missing tracked keys are left absent.
func (e *Entity) Track(snapshot ir.IRObject) ir.IRObject {
	if snapshot == nil {
		return nil
	}
	out := make(ir.IRObject)
	for _, name := range e.TrackedNames() {
		if v, ok := snapshot[name]; ok {
			out[name] = v
		}
	}
	return out
}

// DataColumns returns the audit row columns holding the tracked snapshot,
// in declaration order.
func (e *Entity) DataColumns() []Column {
	var cols []Column
	for _, p := range e.Properties {
		cols = append(cols, Column{Name: p.Column, Type: p.Type})
	}
	for _, r := range e.Relations {
		if r.Kind == ToOne {
			cols = append(cols, Column{Name: r.ReferenceColumn, Type: r.ReferenceType})
		}
	}
	for _, c := range e.Components {
		if c.Kind != ComponentOne {
			continue
		}
		for _, p := range c.Properties {
			cols = append(cols, Column{Name: c.Column(p), Type: p.Type})
		}
	}
	return cols
}

// Flatten maps a property-keyed snapshot to column-keyed values.
// Every data column is present in the result; absent properties are NULL.
func (e *Entity) Flatten(snapshot ir.IRObject) (ir.IRObject, error) {
	out := make(ir.IRObject, len(e.Properties))
	for _, p := range e.Properties {
		out[p.Column] = snapshot.Get(p.Name)
	}
	for _, r := range e.Relations {
		if r.Kind == ToOne {
			out[r.ReferenceColumn] = snapshot.Get(r.Property)
		}
	}
	for _, c := range e.Components {
		if c.Kind != ComponentOne {
			continue
		}
		var value ir.IRObject
		switch v := snapshot.Get(c.Property).(type) {
		case ir.IRNull:
		case ir.IRObject:
			value = v
		default:
			return nil, fmt.Errorf("component %s.%s: expected object, got %T", e.Name, c.Property, v)
		}
		for _, p := range c.Properties {
			out[c.Column(p)] = value.Get(p.Name)
		}
	}
	return out, nil
}

// Unflatten is the inverse of Flatten. A component whose columns are all
// NULL is reported as NULL.
func (e *Entity) Unflatten(columns ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(e.Properties))
	for _, p := range e.Properties {
		out[p.Name] = columns.Get(p.Column)
	}
	for _, r := range e.Relations {
		if r.Kind == ToOne {
			out[r.Property] = columns.Get(r.ReferenceColumn)
		}
	}
	for _, c := range e.Components {
		if c.Kind != ComponentOne {
			continue
		}
		value := make(ir.IRObject, len(c.Properties))
		empty := true
		for _, p := range c.Properties {
			v := columns.Get(c.Column(p))
			if !ir.IsNull(v) {
				empty = false
			}
			value[p.Name] = v
		}
		if empty {
			out[c.Property] = ir.IRNull{}
		} else {
			out[c.Property] = value
		}
	}
	return out
}

// FlattenElement maps an element of a component collection, keyed by
// component property names, to middle table columns.
func (c *ComponentDescription) FlattenElement(element ir.IRValue) (ir.IRObject, error) {
	obj, ok := element.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("component %s: expected object element, got %T", c.Property, element)
	}
	out := make(ir.IRObject, len(c.Properties))
	for _, p := range c.Properties {
		v := obj.Get(p.Name)
		if ir.IsNull(v) {
			return nil, fmt.Errorf("component %s: element property %s is null; element properties form the middle table key", c.Property, p.Name)
		}
		out[p.Column] = v
	}
	return out, nil
}
