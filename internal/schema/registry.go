package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/timeline/internal/ir"
)

// Registry is the set of entity descriptions known to the audit engine.
//
// Entities are registered, then the registry is sealed once. Sealing fills in
// column types that can be resolved from referenced identities and checks
// every association. A sealed registry is immutable and safe for concurrent
// readers.
type Registry struct {
	entities map[string]*Entity
	sealed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds an entity description.
func (r *Registry) Register(e *Entity) error {
	if r.sealed {
		return fmt.Errorf("register %s: registry is sealed", e.Name)
	}
	if e.Name == "" {
		return ir.NewConfigurationError("", "", "entity name is required")
	}
	if _, exists := r.entities[e.Name]; exists {
		return ir.NewConfigurationError(e.Name, "", "entity registered twice")
	}
	if e.Table == "" {
		return ir.NewConfigurationError(e.Name, "", "table is required")
	}
	if e.ID.Name == "" || e.ID.Column == "" {
		return ir.NewConfigurationError(e.Name, "", "identifier property is required")
	}
	r.entities[e.Name] = e
	return nil
}

// MustRegister registers entities and seals the registry, panicking on error.
// Intended for tests and static fixtures.
func MustRegister(entities ...*Entity) *Registry {
	r := NewRegistry()
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
	if err := r.Seal(); err != nil {
		panic(err)
	}
	return r
}

// Seal resolves cross-entity column types and validates associations.
// Configuration problems are reported as configuration errors.
func (r *Registry) Seal() error {
	if r.sealed {
		return nil
	}
	for _, e := range r.Entities() {
		for _, rel := range e.Relations {
			if err := r.resolveRelation(e, rel); err != nil {
				return err
			}
		}
		for _, c := range e.Components {
			if err := resolveComponent(e, c); err != nil {
				return err
			}
		}
	}
	r.sealed = true
	return nil
}

func (r *Registry) resolveRelation(e *Entity, rel *RelationDescription) error {
	rel.FromEntity = e.Name
	target, ok := r.entities[rel.ToEntity]
	if !ok {
		return ir.NewConfigurationError(e.Name, rel.Property, "unknown target entity %q", rel.ToEntity)
	}
	if !e.NotAudited && target.NotAudited && rel.TargetAuditMode == Audited {
		return ir.NewConfigurationError(e.Name, rel.Property,
			"association to not audited entity %s must declare target audit mode NOT_AUDITED", target.Name)
	}

	switch rel.Kind {
	case ToOne:
		if rel.ReferenceColumn == "" {
			return ir.NewConfigurationError(e.Name, rel.Property, "to_one relation requires a reference column")
		}
		if rel.ReferenceType == "" {
			rel.ReferenceType = target.ID.Type
		}
	case ToOneNotOwning:
	case ToManyNotOwning:
		if rel.ReferenceColumn == "" {
			return ir.NewConfigurationError(e.Name, rel.Property, "to_many_not_owning relation requires the target reference column")
		}
		if rel.ReferenceType == "" {
			rel.ReferenceType = e.ID.Type
		}
	case ToManyMiddle, ToManyMiddleNotOwning:
		m := rel.Middle
		if m == nil || m.Table == "" || m.Owner.Name == "" || len(m.Elements) != 1 {
			return ir.NewConfigurationError(e.Name, rel.Property,
				"%s relation requires a middle table with one owner and one element column", rel.Kind)
		}
		if m.Owner.Type == "" {
			m.Owner.Type = e.ID.Type
		}
		if m.Elements[0].Type == "" {
			m.Elements[0].Type = target.ID.Type
		}
	default:
		return ir.NewConfigurationError(e.Name, rel.Property, "unsupported relation kind %s", rel.Kind)
	}
	return nil
}

func resolveComponent(e *Entity, c *ComponentDescription) error {
	if len(c.Properties) == 0 {
		return ir.NewConfigurationError(e.Name, c.Property, "component has no properties")
	}
	if c.Kind != ComponentMany {
		return nil
	}
	m := c.Middle
	if m == nil || m.Table == "" || m.Owner.Name == "" {
		return ir.NewConfigurationError(e.Name, c.Property, "component collection requires a table and owner column")
	}
	if m.Owner.Type == "" {
		m.Owner.Type = e.ID.Type
	}
	if len(m.Elements) == 0 {
		for _, p := range c.Properties {
			m.Elements = append(m.Elements, Column{Name: p.Column, Type: p.Type})
		}
	}
	return nil
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Entity returns the description of an entity.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// IsAudited reports whether the entity is registered and audited.
func (r *Registry) IsAudited(name string) bool {
	e, ok := r.entities[name]
	return ok && !e.NotAudited
}

// Entities returns all entities sorted by name.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Association resolves a traversable property of an entity. Exactly one of
// the returned descriptions is non-nil on success. A property that is
// neither a relation nor a component is a configuration error.
func (r *Registry) Association(entity, property string) (*RelationDescription, *ComponentDescription, error) {
	e, ok := r.entities[entity]
	if !ok {
		return nil, nil, ir.NewConfigurationError(entity, property, "unknown entity")
	}
	if rel, ok := e.Relation(property); ok {
		return rel, nil, nil
	}
	if c, ok := e.Component(property); ok {
		return nil, c, nil
	}
	return nil, nil, ir.NewConfigurationError(entity, property, "property is neither a relation nor a component")
}

// MiddleTables returns the audited middle tables written by owning
// collections of audited entities, sorted by table name.
func (r *Registry) MiddleTables() []MiddleDescription {
	seen := make(map[string]bool)
	var out []MiddleDescription
	add := func(m *MiddleDescription) {
		if m == nil || seen[m.Table] {
			return
		}
		seen[m.Table] = true
		out = append(out, *m)
	}
	for _, e := range r.Entities() {
		if e.NotAudited {
			continue
		}
		for _, rel := range e.Relations {
			if rel.Kind == ToManyMiddle {
				add(rel.Middle)
			}
		}
		for _, c := range e.Components {
			if c.Kind == ComponentMany {
				add(c.Middle)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
