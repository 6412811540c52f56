package schema

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
)

const peopleSchema = `
package test

entity: Person: {
	table: "person"
	id: {name: "id", type: int}
	properties: {
		name: string
		age:  int
	}
	columns: {age: "age_years"}
	relations: {
		address:  {kind: "to_one", target: "Address", column: "address_id"}
		projects: {kind: "to_many_middle", target: "Project", table: "person_project", owner_column: "person_id", element_column: "project_id"}
	}
	components: {
		home:      {kind: "one", prefix: "home_", properties: {street: string, city: string}}
		nicknames: {kind: "many", table: "person_nickname", owner_column: "person_id", properties: {value: string}}
	}
}

entity: Address: {
	table: "address"
	id: {name: "id", type: int}
	properties: {street: string}
	relations: {
		residents: {kind: "to_many_not_owning", target: "Person", column: "address_id"}
	}
}

entity: Project: {
	table: "project"
	audit_table: "project_history"
	id: {name: "code", type: string}
	properties: {title: string}
	relations: {
		members: {kind: "to_many_middle_not_owning", target: "Person", table: "person_project", owner_column: "project_id", element_column: "person_id"}
	}
}
`

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(content), 0644))
	return dir
}

func TestCompileEntityBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(peopleSchema)
	require.NoError(t, v.Err())

	e, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Person")))
	require.NoError(t, err)

	assert.Equal(t, "Person", e.Name)
	assert.Equal(t, "person", e.Table)
	assert.Equal(t, Property{Name: "id", Column: "id", Type: TypeInt}, e.ID)
	assert.Equal(t, []Property{
		{Name: "name", Column: "name", Type: TypeString},
		{Name: "age", Column: "age_years", Type: TypeInt},
	}, e.Properties)

	require.Len(t, e.Relations, 2)
	assert.Equal(t, ToOne, e.Relations[0].Kind)
	assert.Equal(t, "address_id", e.Relations[0].ReferenceColumn)
	assert.Equal(t, ToManyMiddle, e.Relations[1].Kind)
	assert.Equal(t, "person_project", e.Relations[1].Middle.Table)

	require.Len(t, e.Components, 2)
	assert.Equal(t, ComponentOne, e.Components[0].Kind)
	assert.Equal(t, "home_", e.Components[0].Prefix)
	assert.Equal(t, ComponentMany, e.Components[1].Kind)
}

func TestCompileEntityErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing table",
			src:   `entity: X: {id: {name: "id", type: int}}`,
			field: "table",
		},
		{
			name:  "missing id",
			src:   `entity: X: {table: "x"}`,
			field: "id",
		},
		{
			name:  "float property",
			src:   `entity: X: {table: "x", id: {name: "id", type: int}, properties: {price: float}}`,
			field: "type",
		},
		{
			name:  "bad component kind",
			src:   `entity: X: {table: "x", id: {name: "id", type: int}, components: {c: {kind: "few", properties: {a: int}}}}`,
			field: "components.kind",
		},
		{
			name:  "bad relation kind",
			src:   `entity: X: {table: "x", id: {name: "id", type: int}, relations: {r: {kind: "sideways", target: "Y"}}}`,
			field: "relations.kind",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := cuecontext.New()
			v := ctx.CompileString(tc.src)
			require.NoError(t, v.Err())

			_, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.X")))
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestLoadDirResolvesTypes(t *testing.T) {
	reg, err := LoadDir(writeSchema(t, peopleSchema))
	require.NoError(t, err)
	require.True(t, reg.Sealed())

	person, ok := reg.Entity("Person")
	require.True(t, ok)
	address, _ := person.Relation("address")
	assert.Equal(t, TypeInt, address.ReferenceType)
	assert.Equal(t, "Person", address.FromEntity)

	projects, _ := person.Relation("projects")
	assert.Equal(t, Column{Name: "person_id", Type: TypeInt}, projects.Middle.Owner)
	assert.Equal(t, []Column{{Name: "project_id", Type: TypeString}}, projects.Middle.Elements)

	nicknames, _ := person.Component("nicknames")
	assert.Equal(t, []Column{{Name: "value", Type: TypeString}}, nicknames.Middle.Elements)

	names := make([]string, 0)
	for _, e := range reg.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Address", "Person", "Project"}, names)

	middles := reg.MiddleTables()
	require.Len(t, middles, 2)
	assert.Equal(t, "person_nickname", middles[0].Table)
	assert.Equal(t, "person_project", middles[1].Table)
}

func TestLoadCollectAll(t *testing.T) {
	dir := writeSchema(t, `
package test

entity: A: {table: "a"}
entity: B: {id: {name: "id", type: int}}
`)
	_, errs := Load(dir, LoadModeCollectAll)
	assert.Len(t, errs, 2)

	_, errs = Load(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)

	_, err = LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestSealRejectsImplicitNotAuditedTarget(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entity{
		Name: "Person", Table: "person",
		ID: Property{Name: "id", Column: "id", Type: TypeInt},
		Relations: []*RelationDescription{
			{Property: "country", Kind: ToOne, ToEntity: "Country", ReferenceColumn: "country_id"},
		},
	}))
	require.NoError(t, r.Register(&Entity{
		Name: "Country", Table: "country", NotAudited: true,
		ID: Property{Name: "id", Column: "id", Type: TypeInt},
	}))

	err := r.Seal()
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))

	rel, _ := mustEntity(t, r, "Person").Relation("country")
	rel.TargetAuditMode = NotAudited
	require.NoError(t, r.Seal())
}

func TestSealRejectsUnknownTarget(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entity{
		Name: "Person", Table: "person",
		ID: Property{Name: "id", Column: "id", Type: TypeInt},
		Relations: []*RelationDescription{
			{Property: "pet", Kind: ToOne, ToEntity: "Pet", ReferenceColumn: "pet_id"},
		},
	}))
	err := r.Seal()
	assert.True(t, ir.IsConfigurationError(err))
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Entity{Table: "x"}))
	assert.Error(t, r.Register(&Entity{Name: "X"}))
	assert.Error(t, r.Register(&Entity{Name: "X", Table: "x"}))

	e := &Entity{Name: "X", Table: "x", ID: Property{Name: "id", Column: "id", Type: TypeInt}}
	require.NoError(t, r.Register(e))
	assert.True(t, ir.IsConfigurationError(r.Register(e)))

	require.NoError(t, r.Seal())
	assert.Error(t, r.Register(&Entity{Name: "Y", Table: "y", ID: e.ID}))
}

func TestAssociation(t *testing.T) {
	reg, err := LoadDir(writeSchema(t, peopleSchema))
	require.NoError(t, err)

	rel, comp, err := reg.Association("Person", "projects")
	require.NoError(t, err)
	assert.NotNil(t, rel)
	assert.Nil(t, comp)

	rel, comp, err = reg.Association("Person", "home")
	require.NoError(t, err)
	assert.Nil(t, rel)
	assert.NotNil(t, comp)

	_, _, err = reg.Association("Person", "name")
	assert.True(t, ir.IsConfigurationError(err))

	_, _, err = reg.Association("Ghost", "x")
	assert.True(t, ir.IsConfigurationError(err))
}

func TestFlattenRoundTrip(t *testing.T) {
	reg, err := LoadDir(writeSchema(t, peopleSchema))
	require.NoError(t, err)
	person := mustEntity(t, reg, "Person")

	assert.Equal(t, []string{"name", "age", "address", "home"}, person.TrackedNames())

	snapshot := ir.IRObject{
		"name":    ir.IRString("Ada"),
		"age":     ir.IRInt(36),
		"address": ir.IRInt(7),
		"home": ir.IRObject{
			"street": ir.IRString("Main"),
			"city":   ir.IRString("London"),
		},
		"untracked": ir.IRString("dropped"),
	}

	tracked := person.Track(snapshot)
	assert.NotContains(t, tracked, "untracked")

	cols, err := person.Flatten(tracked)
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{
		"name":        ir.IRString("Ada"),
		"age_years":   ir.IRInt(36),
		"address_id":  ir.IRInt(7),
		"home_street": ir.IRString("Main"),
		"home_city":   ir.IRString("London"),
	}, cols)

	back := person.Unflatten(cols)
	assert.True(t, ir.Equal(tracked, back))

	cols["home_street"] = ir.IRNull{}
	cols["home_city"] = ir.IRNull{}
	assert.Equal(t, ir.IRNull{}, person.Unflatten(cols)["home"])

	_, err = person.Flatten(ir.IRObject{"home": ir.IRString("nope")})
	assert.Error(t, err)
}

func TestDataColumns(t *testing.T) {
	reg, err := LoadDir(writeSchema(t, peopleSchema))
	require.NoError(t, err)

	assert.Equal(t, []Column{
		{Name: "name", Type: TypeString},
		{Name: "age_years", Type: TypeInt},
		{Name: "address_id", Type: TypeInt},
		{Name: "home_street", Type: TypeString},
		{Name: "home_city", Type: TypeString},
	}, mustEntity(t, reg, "Person").DataColumns())
}

func TestNaming(t *testing.T) {
	reg, err := LoadDir(writeSchema(t, peopleSchema))
	require.NoError(t, err)

	n := DefaultNaming()
	assert.Equal(t, "person_AUD", n.AuditTableName(mustEntity(t, reg, "Person")))
	assert.Equal(t, "project_history", n.AuditTableName(mustEntity(t, reg, "Project")))
	assert.Equal(t, "person_project_AUD", n.MiddleTableName(reg.MiddleTables()[1]))

	n.TablePrefix = "h_"
	n.TableSuffix = ""
	assert.Equal(t, "h_person", n.AuditTableName(mustEntity(t, reg, "Person")))
}

func TestRelationKindParse(t *testing.T) {
	for _, k := range []RelationKind{ToOne, ToOneNotOwning, ToManyNotOwning, ToManyMiddle, ToManyMiddleNotOwning} {
		parsed, err := ParseRelationKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseRelationKind("nope")
	assert.Error(t, err)
	assert.True(t, ToManyMiddle.IsCollection())
	assert.False(t, ToOne.IsCollection())
}

func mustEntity(t *testing.T, r *Registry, name string) *Entity {
	t.Helper()
	e, ok := r.Entity(name)
	require.True(t, ok, "entity %s", name)
	return e
}
