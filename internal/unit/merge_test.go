package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
)

func snap(name string) ir.IRObject {
	return ir.IRObject{"name": ir.IRString(name)}
}

func person(kind Kind) Unit {
	return Unit{Entity: "Person", ID: ir.IRInt(1), Kind: kind}
}

func add(name string) Unit {
	u := person(Add)
	u.New = snap(name)
	return u
}

func mod(oldName, newName string) Unit {
	u := person(Modify)
	u.Old = snap(oldName)
	u.New = snap(newName)
	return u
}

func del(last ir.IRObject) Unit {
	u := person(Delete)
	u.Old = last
	return u
}

func coll(property string, changes ...ElementChange) Unit {
	u := person(CollectionChange)
	u.Property = property
	u.Changes = changes
	u.OwnerState = snap("owner")
	return u
}

func fake(owner string) Unit {
	u := person(FakeBidirectional)
	u.OwnerState = snap(owner)
	return u
}

func added(id int64) ElementChange   { return ElementChange{Value: ir.IRInt(id)} }
func removed(id int64) ElementChange { return ElementChange{Value: ir.IRInt(id), Removed: true} }

func TestMergeMatrix(t *testing.T) {
	tests := []struct {
		name     string
		existing Unit
		incoming Unit
		outcome  string
		check    func(t *testing.T, u Unit)
	}{
		{
			name: "add+add keeps add with incoming data", existing: add("a"), incoming: add("b"),
			outcome: "Replace(Add)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("b"), u.New)
			},
		},
		{
			name: "add+modify is add with final values", existing: add("a"), incoming: mod("a", "b"),
			outcome: "Replace(Add)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("b"), u.New)
				assert.Nil(t, u.Old)
			},
		},
		{name: "add+delete cancels", existing: add("a"), incoming: del(snap("a")), outcome: "Cancel"},
		{name: "add+collection separate", existing: add("a"), incoming: coll("tags", added(1)), outcome: "Separate"},
		{
			name: "add+fake keeps add", existing: add("a"), incoming: fake("x"),
			outcome: "Replace(Add)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("a"), u.New)
			},
		},
		{
			name: "modify+modify collapses intermediate states", existing: mod("a", "b"), incoming: mod("b", "c"),
			outcome: "Replace(Modify)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("a"), u.Old)
				assert.Equal(t, snap("c"), u.New)
			},
		},
		{
			name: "modify+add stays modify", existing: mod("a", "b"), incoming: add("c"),
			outcome: "Replace(Modify)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("a"), u.Old)
				assert.Equal(t, snap("c"), u.New)
			},
		},
		{
			name: "modify+delete keeps incoming last state", existing: mod("a", "b"), incoming: del(snap("z")),
			outcome: "Replace(Delete)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("z"), u.Old)
			},
		},
		{
			name: "modify+delete without state uses modified values", existing: mod("a", "b"), incoming: del(nil),
			outcome: "Replace(Delete)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("b"), u.Old)
			},
		},
		{name: "modify+collection separate", existing: mod("a", "b"), incoming: coll("tags"), outcome: "Separate"},
		{name: "modify+fake keeps modify", existing: mod("a", "b"), incoming: fake("x"), outcome: "Replace(Modify)"},
		{name: "delete+add never collapses", existing: del(snap("a")), incoming: add("b"), outcome: "Separate"},
		{
			name: "delete+modify keeps delete", existing: del(snap("a")), incoming: mod("a", "b"),
			outcome: "Replace(Delete)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("a"), u.Old)
			},
		},
		{name: "delete+delete keeps delete", existing: del(snap("a")), incoming: del(snap("b")), outcome: "Replace(Delete)"},
		{name: "delete+collection separate", existing: del(snap("a")), incoming: coll("tags"), outcome: "Separate"},
		{name: "delete+fake keeps delete", existing: del(snap("a")), incoming: fake("x"), outcome: "Replace(Delete)"},
		{name: "collection+add separate", existing: coll("tags"), incoming: add("a"), outcome: "Separate"},
		{name: "collection+modify separate", existing: coll("tags"), incoming: mod("a", "b"), outcome: "Separate"},
		{name: "collection+delete separate", existing: coll("tags"), incoming: del(nil), outcome: "Separate"},
		{name: "collection+fake separate", existing: coll("tags"), incoming: fake("x"), outcome: "Separate"},
		{
			name: "collection+collection same property unions", existing: coll("tags", added(1), added(2)),
			incoming: coll("tags", added(2), removed(1), added(3)),
			outcome: "Replace(CollectionChange)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, []ElementChange{added(1), added(2), removed(1), added(3)}, u.Changes)
			},
		},
		{name: "collection+collection other property separate", existing: coll("tags", added(1)), incoming: coll("projects", added(1)), outcome: "Separate"},
		{
			name: "fake+add takes incoming", existing: fake("x"), incoming: add("a"),
			outcome: "Replace(Add)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("a"), u.New)
			},
		},
		{name: "fake+modify takes incoming", existing: fake("x"), incoming: mod("a", "b"), outcome: "Replace(Modify)"},
		{name: "fake+delete takes incoming", existing: fake("x"), incoming: del(snap("a")), outcome: "Replace(Delete)"},
		{name: "fake+collection separate", existing: fake("x"), incoming: coll("tags"), outcome: "Separate"},
		{
			name: "fake+fake refreshes owner snapshot", existing: fake("x"), incoming: fake("y"),
			outcome: "Replace(FakeBidirectional)",
			check: func(t *testing.T, u Unit) {
				assert.Equal(t, snap("y"), u.OwnerState)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Merge(tc.existing, tc.incoming)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, out.String())
			if tc.check != nil {
				u, ok := out.Unit()
				require.True(t, ok)
				tc.check(t, u)
			}
		})
	}
}

func TestMergeDifferentIdentity(t *testing.T) {
	other := add("b")
	other.ID = ir.IRInt(2)

	_, err := Merge(add("a"), other)
	require.Error(t, err)
	assert.True(t, ir.IsConsistencyError(err))

	other = add("b")
	other.Entity = "Address"
	_, err = Merge(add("a"), other)
	assert.True(t, ir.IsConsistencyError(err))
}

func TestMergeIsNotCommutative(t *testing.T) {
	ad, err := Merge(add("a"), del(nil))
	require.NoError(t, err)
	da, err := Merge(del(nil), add("a"))
	require.NoError(t, err)

	assert.True(t, ad.IsCancel())
	assert.True(t, da.IsSeparate())
}

func TestContainsWork(t *testing.T) {
	assert.False(t, mod("a", "a").ContainsWork())
	assert.True(t, mod("a", "b").ContainsWork())

	noOld := person(Modify)
	noOld.New = snap("a")
	assert.True(t, noOld.ContainsWork())

	dropped := person(Modify)
	dropped.Old = ir.IRObject{"name": ir.IRString("a"), "age": ir.IRInt(3)}
	dropped.New = ir.IRObject{"name": ir.IRString("a")}
	assert.True(t, dropped.ContainsWork())

	assert.False(t, coll("tags").ContainsWork())
	assert.True(t, coll("tags", added(1)).ContainsWork())
	assert.True(t, add("a").ContainsWork())
	assert.True(t, del(nil).ContainsWork())
}

func TestStateAndRevisionType(t *testing.T) {
	assert.Equal(t, snap("b"), mod("a", "b").State())
	assert.Equal(t, snap("a"), del(snap("a")).State())
	assert.Equal(t, snap("x"), fake("x").State())

	assert.Equal(t, ir.RevisionAdd, add("a").RevisionType())
	assert.Equal(t, ir.RevisionMod, mod("a", "b").RevisionType())
	assert.Equal(t, ir.RevisionDel, del(nil).RevisionType())
	assert.Equal(t, ir.RevisionMod, coll("tags").RevisionType())
	assert.Equal(t, ir.RevisionMod, fake("x").RevisionType())
}

func TestKeyUsesCanonicalIdentity(t *testing.T) {
	a := Unit{Entity: "Project", ID: ir.IRObject{"b": ir.IRInt(2), "a": ir.IRInt(1)}}
	b := Unit{Entity: "Project", ID: ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, `{"a":1,"b":2}`, a.Key().ID)
}
