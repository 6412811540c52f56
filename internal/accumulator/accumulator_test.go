package accumulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/unit"
)

func u(entity string, id int64, kind unit.Kind, name string) unit.Unit {
	x := unit.Unit{Entity: entity, ID: ir.IRInt(id), Kind: kind}
	state := ir.IRObject{"name": ir.IRString(name)}
	switch kind {
	case unit.Add:
		x.New = state
	case unit.Modify:
		x.Old = ir.IRObject{"name": ir.IRString("before")}
		x.New = state
	case unit.Delete:
		x.Old = state
	default:
		x.OwnerState = state
	}
	return x
}

func coll(id int64, property string, changes ...unit.ElementChange) unit.Unit {
	return unit.Unit{
		Entity:   "Person",
		ID:       ir.IRInt(id),
		Kind:     unit.CollectionChange,
		Property: property,
		Changes:  changes,
	}
}

func kinds(facts []Fact) []unit.Kind {
	out := make([]unit.Kind, len(facts))
	for i, f := range facts {
		out[i] = f.Unit.Kind
	}
	return out
}

func TestRecordMergesSameRecord(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "a")))
	require.NoError(t, a.Record(u("Person", 1, unit.Modify, "b")))
	require.NoError(t, a.Record(u("Person", 1, unit.Modify, "c")))

	facts := a.ReduceAndFlush()
	require.Len(t, facts, 1)
	assert.Equal(t, unit.Add, facts[0].Unit.Kind)
	assert.Equal(t, ir.IRString("c"), facts[0].Unit.New["name"])
}

func TestAddThenDeleteYieldsNothing(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "a")))
	require.NoError(t, a.Record(coll(1, "projects", unit.ElementChange{Value: ir.IRInt(9)})))
	require.NoError(t, a.Record(u("Person", 1, unit.Delete, "a")))

	assert.Empty(t, a.ReduceAndFlush())
}

func TestDeleteThenAddYieldsTwoFacts(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(u("Person", 1, unit.Delete, "a")))
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "b")))
	require.NoError(t, a.Record(u("Person", 1, unit.Modify, "c")))

	facts := a.ReduceAndFlush()
	assert.Equal(t, []unit.Kind{unit.Delete, unit.Add}, kinds(facts))
	assert.Equal(t, ir.IRString("c"), facts[1].Unit.New["name"])
}

func TestDeleteAddDeleteKeepsFirstDelete(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(u("Person", 1, unit.Delete, "a")))
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "b")))
	require.NoError(t, a.Record(u("Person", 1, unit.Delete, "b")))

	facts := a.ReduceAndFlush()
	assert.Equal(t, []unit.Kind{unit.Delete}, kinds(facts))
	assert.Equal(t, ir.IRString("a"), facts[0].Unit.Old["name"])
}

func TestCollectionChangesPerProperty(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(coll(1, "projects", unit.ElementChange{Value: ir.IRInt(1)})))
	require.NoError(t, a.Record(u("Person", 1, unit.Modify, "b")))
	require.NoError(t, a.Record(coll(1, "tags", unit.ElementChange{Value: ir.IRString("x")})))
	require.NoError(t, a.Record(coll(1, "projects", unit.ElementChange{Value: ir.IRInt(1), Removed: true})))

	facts := a.ReduceAndFlush()
	require.Equal(t, []unit.Kind{unit.CollectionChange, unit.Modify, unit.CollectionChange}, kinds(facts))
	assert.Equal(t, "projects", facts[0].Unit.Property)
	assert.Len(t, facts[0].Unit.Changes, 2, "add and remove of the same element are kept")
	assert.Equal(t, "tags", facts[2].Unit.Property)
}

func TestFlushOrderAndIdempotence(t *testing.T) {
	var observed [][]string
	a := New(WithObserver(func(names []string) {
		observed = append(observed, names)
	}))

	require.NoError(t, a.Record(u("Person", 2, unit.Add, "p2")))
	require.NoError(t, a.Record(u("Address", 1, unit.Add, "a1")))
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "p1")))
	require.NoError(t, a.Record(u("Person", 2, unit.Modify, "p2b")))
	assert.Equal(t, 3, a.Len())

	facts := a.ReduceAndFlush()
	require.Len(t, facts, 3)
	assert.Equal(t, ir.IRInt(2), facts[0].Unit.ID)
	assert.Equal(t, "Address", facts[1].Unit.Entity)
	assert.Equal(t, ir.IRInt(1), facts[2].Unit.ID)

	assert.Empty(t, a.ReduceAndFlush())
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, [][]string{{"Address", "Person"}}, observed, "observer is not called for empty flushes")
}

func TestDiscard(t *testing.T) {
	a := New()
	require.NoError(t, a.Record(u("Person", 1, unit.Add, "a")))
	a.Discard()
	assert.Empty(t, a.ReduceAndFlush())
}

func TestRecordCompositeIdentity(t *testing.T) {
	a := New()
	first := unit.Unit{Entity: "Link", ID: ir.IRObject{"b": ir.IRInt(2), "a": ir.IRInt(1)}, Kind: unit.Add}
	second := unit.Unit{Entity: "Link", ID: ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}, Kind: unit.Delete}
	require.NoError(t, a.Record(first))
	require.NoError(t, a.Record(second))
	assert.Empty(t, a.ReduceAndFlush())
}
