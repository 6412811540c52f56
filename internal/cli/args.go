package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/timeline/internal/query"
	"github.com/roach88/timeline/internal/schema"
)

// parseValue converts a command-line string to the Go value of typ.
func parseValue(typ schema.PropertyType, s string) (any, error) {
	switch typ {
	case schema.TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return n, nil
	case schema.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", s)
		}
		return b, nil
	default:
		return s, nil
	}
}

// parseID converts an identity argument to the entity's id type.
func parseID(e *schema.Entity, s string) (any, error) {
	return parseValue(e.ID.Type, s)
}

// propertyType returns the type of a property path: "name", an inlined
// component property "home.city", or a to-one relation whose target
// identity is compared.
func propertyType(e *schema.Entity, path string) (schema.PropertyType, bool) {
	if p, ok := e.Property(path); ok {
		return p.Type, true
	}
	if path == e.ID.Name {
		return e.ID.Type, true
	}
	if rel, ok := e.Relation(path); ok && rel.Kind == schema.ToOne {
		return rel.ReferenceType, true
	}
	comp, prop, ok := strings.Cut(path, ".")
	if !ok {
		return "", false
	}
	c, ok := e.Component(comp)
	if !ok || c.Kind != schema.ComponentOne {
		return "", false
	}
	for _, p := range c.Properties {
		if p.Name == prop {
			return p.Type, true
		}
	}
	return "", false
}

// parseFilter turns a prop=value or prop!=value expression into a criterion.
// The literal null compares with IS NULL.
func parseFilter(e *schema.Entity, expr string) (query.Criterion, error) {
	neg := false
	name, raw, ok := strings.Cut(expr, "!=")
	if ok {
		neg = true
	} else if name, raw, ok = strings.Cut(expr, "="); !ok {
		return nil, fmt.Errorf("filter %q: expected prop=value", expr)
	}
	name = strings.TrimSpace(name)

	typ, ok := propertyType(e, name)
	if !ok {
		return nil, fmt.Errorf("filter %q: %s has no property %q", expr, e.Name, name)
	}

	ref := query.Property(name)
	switch {
	case name == e.ID.Name:
		ref = query.ID()
	case isToOne(e, name):
		ref = query.RelatedID(name)
	}

	if raw == "null" {
		if neg {
			return ref.IsNotNull(), nil
		}
		return ref.IsNull(), nil
	}
	v, err := parseValue(typ, raw)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	if neg {
		return ref.Ne(v), nil
	}
	return ref.Eq(v), nil
}

func isToOne(e *schema.Entity, name string) bool {
	rel, ok := e.Relation(name)
	return ok && rel.Kind == schema.ToOne
}
