package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileEntity parses a CUE value into an Entity.
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Person: { table: "person", ... }`)
//	e, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Person")))
//
// Property types are written as CUE kinds (string, int, bool). Floats are
// rejected.
func CompileEntity(v cue.Value) (*Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	e := &Entity{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		e.Name = labels[len(labels)-1].String()
	}

	var err error
	if e.Table, err = stringField(v, "table", true); err != nil {
		return nil, err
	}
	if e.AuditTable, err = stringField(v, "audit_table", false); err != nil {
		return nil, err
	}

	auditedVal := v.LookupPath(cue.ParsePath("audited"))
	if auditedVal.Exists() {
		audited, err := auditedVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		e.NotAudited = !audited
	}

	if e.ID, err = parseID(v); err != nil {
		return nil, err
	}

	columns, err := parseColumnOverrides(v)
	if err != nil {
		return nil, err
	}
	if e.Properties, err = parseProperties(v.LookupPath(cue.ParsePath("properties")), columns); err != nil {
		return nil, err
	}
	if e.Relations, err = parseRelations(v); err != nil {
		return nil, err
	}
	if e.Components, err = parseComponents(v); err != nil {
		return nil, err
	}

	return e, nil
}

// parseID reads `id: {name: "id", column?: "id", type: int}`.
func parseID(v cue.Value) (Property, error) {
	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return Property{}, &CompileError{
			Field:   "id",
			Message: "id is required",
			Pos:     v.Pos(),
		}
	}
	name, err := stringField(idVal, "name", true)
	if err != nil {
		return Property{}, err
	}
	column, err := stringField(idVal, "column", false)
	if err != nil {
		return Property{}, err
	}
	if column == "" {
		column = name
	}
	typeVal := idVal.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return Property{}, &CompileError{
			Field:   "id.type",
			Message: "id type is required",
			Pos:     idVal.Pos(),
		}
	}
	typ, err := extractType(typeVal)
	if err != nil {
		return Property{}, err
	}
	return Property{Name: name, Column: column, Type: typ}, nil
}

// parseColumnOverrides reads the optional `columns: {prop: "column"}` map.
func parseColumnOverrides(v cue.Value) (map[string]string, error) {
	out := make(map[string]string)
	colVal := v.LookupPath(cue.ParsePath("columns"))
	if !colVal.Exists() {
		return out, nil
	}
	iter, err := colVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out[iter.Label()] = s
	}
	return out, nil
}

// parseProperties reads a struct of `name: kind` fields in declaration order.
func parseProperties(propsVal cue.Value, columns map[string]string) ([]Property, error) {
	var props []Property
	if !propsVal.Exists() {
		return props, nil
	}
	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		typ, err := extractType(iter.Value())
		if err != nil {
			return nil, err
		}
		column := name
		if c, ok := columns[name]; ok {
			column = c
		}
		props = append(props, Property{Name: name, Column: column, Type: typ})
	}
	return props, nil
}

func parseRelations(v cue.Value) ([]*RelationDescription, error) {
	var rels []*RelationDescription
	relsVal := v.LookupPath(cue.ParsePath("relations"))
	if !relsVal.Exists() {
		return rels, nil
	}
	iter, err := relsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rv := iter.Value()
		rel := &RelationDescription{Property: iter.Label()}

		kindStr, err := stringField(rv, "kind", true)
		if err != nil {
			return nil, err
		}
		if rel.Kind, err = ParseRelationKind(kindStr); err != nil {
			return nil, &CompileError{Field: "relations.kind", Message: err.Error(), Pos: rv.Pos()}
		}
		if rel.ToEntity, err = stringField(rv, "target", true); err != nil {
			return nil, err
		}

		auditedVal := rv.LookupPath(cue.ParsePath("target_audited"))
		if auditedVal.Exists() {
			audited, err := auditedVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if !audited {
				rel.TargetAuditMode = NotAudited
			}
		}

		switch rel.Kind {
		case ToOne, ToManyNotOwning:
			if rel.ReferenceColumn, err = stringField(rv, "column", true); err != nil {
				return nil, err
			}
		case ToManyMiddle, ToManyMiddleNotOwning:
			m := &MiddleDescription{}
			if m.Table, err = stringField(rv, "table", true); err != nil {
				return nil, err
			}
			if m.Owner.Name, err = stringField(rv, "owner_column", true); err != nil {
				return nil, err
			}
			element, err := stringField(rv, "element_column", true)
			if err != nil {
				return nil, err
			}
			m.Elements = []Column{{Name: element}}
			rel.Middle = m
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func parseComponents(v cue.Value) ([]*ComponentDescription, error) {
	var comps []*ComponentDescription
	compsVal := v.LookupPath(cue.ParsePath("components"))
	if !compsVal.Exists() {
		return comps, nil
	}
	iter, err := compsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		cv := iter.Value()
		c := &ComponentDescription{Property: iter.Label()}

		kind, err := stringField(cv, "kind", true)
		if err != nil {
			return nil, err
		}
		columns, err := parseColumnOverrides(cv)
		if err != nil {
			return nil, err
		}
		if c.Properties, err = parseProperties(cv.LookupPath(cue.ParsePath("properties")), columns); err != nil {
			return nil, err
		}

		switch kind {
		case "one":
			c.Kind = ComponentOne
			if c.Prefix, err = stringField(cv, "prefix", false); err != nil {
				return nil, err
			}
		case "many":
			c.Kind = ComponentMany
			m := &MiddleDescription{}
			if m.Table, err = stringField(cv, "table", true); err != nil {
				return nil, err
			}
			if m.Owner.Name, err = stringField(cv, "owner_column", true); err != nil {
				return nil, err
			}
			c.Middle = m
		default:
			return nil, &CompileError{
				Field:   "components.kind",
				Message: fmt.Sprintf("component kind must be \"one\" or \"many\", got %q", kind),
				Pos:     cv.Pos(),
			}
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// stringField reads a string field. Absent optional fields yield "".
func stringField(v cue.Value, path string, required bool) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		if required {
			return "", &CompileError{
				Field:   path,
				Message: path + " is required",
				Pos:     v.Pos(),
			}
		}
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// extractType converts a CUE kind to a property type.
func extractType(v cue.Value) (PropertyType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return TypeString, nil
	case cue.IntKind:
		return TypeInt, nil
	case cue.BoolKind:
		return TypeBool, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
