package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/revision"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
	"github.com/roach88/timeline/internal/strategy"
	"github.com/roach88/timeline/internal/testutil"
)

const (
	person  = testutil.PersonEntity
	address = testutil.AddressEntity
	project = testutil.ProjectEntity
	country = testutil.CountryEntity
)

var strategies = []string{strategy.NameDefault, strategy.NameValidity}

// compileReader builds a reader without a backing store, for plan tests.
func compileReader(t *testing.T, name string) *Reader {
	t.Helper()
	strat, err := strategy.New(name, strategy.Options{AllowIdentifierReuse: true})
	require.NoError(t, err)
	r, err := NewReader(testutil.PeopleRegistry(), schema.DefaultNaming(), strat, nil)
	require.NoError(t, err)
	return r
}

// history is a store seeded revision by revision through a strategy.
type history struct {
	t        *testing.T
	store    *store.Store
	registry *schema.Registry
	naming   schema.Naming
	strat    strategy.Strategy
	seq      *revision.Sequencer
}

func newHistory(t *testing.T, name string) *history {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	strat, err := strategy.New(name, strategy.Options{AllowIdentifierReuse: true})
	require.NoError(t, err)
	h := &history{
		t:        t,
		store:    s,
		registry: testutil.PeopleRegistry(),
		naming:   schema.DefaultNaming(),
		strat:    strat,
		seq:      revision.NewSequencer(testutil.NewStepClock()),
	}

	var tables []schema.Table
	for _, e := range h.registry.Entities() {
		if !e.NotAudited {
			tables = append(tables, strat.Layout(h.naming, e))
		}
	}
	for _, m := range h.registry.MiddleTables() {
		tables = append(tables, strat.MiddleLayout(h.naming, m))
	}
	require.NoError(t, s.EnsureTables(ctx, tables))
	_, err = s.DB().ExecContext(ctx, "CREATE TABLE country (code TEXT PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	return h
}

func (h *history) reader() *Reader {
	r, err := NewReader(h.registry, h.naming, h.strat, h.store)
	require.NoError(h.t, err)
	return r
}

// change is one row written in a seeded revision.
type change struct {
	entity string
	id     any
	typ    ir.RevisionType
	state  ir.IRObject

	// middle rows: owner property and element columns.
	collection string
	element    ir.IRObject
}

func (h *history) commit(changes ...change) int64 {
	h.t.Helper()
	ctx := context.Background()
	tx, err := h.store.Begin(ctx)
	require.NoError(h.t, err)
	defer tx.Rollback()

	rev, err := h.seq.Next(ctx, tx)
	require.NoError(h.t, err)
	scope := h.strat.NewScope()
	for _, c := range changes {
		e, ok := h.registry.Entity(c.entity)
		require.True(h.t, ok, c.entity)
		id, err := ir.FromAny(c.id)
		require.NoError(h.t, err)

		if c.collection != "" {
			rel, comp, err := h.registry.Association(c.entity, c.collection)
			require.NoError(h.t, err)
			var m *schema.MiddleDescription
			if comp != nil {
				m = comp.Middle
			} else {
				m = rel.Middle
			}
			row := ir.MiddleTableRow{Table: m.Table, OwnerID: id, Element: c.element, Revision: rev.ID, RevisionType: c.typ}
			require.NoError(h.t, h.strat.WriteMiddle(ctx, tx, scope, h.strat.MiddleLayout(h.naming, *m), rev, row))
			continue
		}

		data, err := e.Flatten(c.state)
		require.NoError(h.t, err)
		row := ir.HistoricalRow{Entity: e.Name, ID: id, Revision: rev.ID, RevisionType: c.typ, Data: data}
		require.NoError(h.t, h.strat.WriteFact(ctx, tx, scope, h.strat.Layout(h.naming, e), rev, row))
	}
	require.NoError(h.t, tx.Commit())
	return rev.ID
}

// seedPeople writes four revisions:
//
//	1: add person 1 (Ada), address 10, project P1; 1 joins P1; nickname Al
//	2: rename person 1, add person 2 (Bob)
//	3: delete person 2; 1 leaves P1
//	4: re-add person 2 (Bob2)
func seedPeople(t *testing.T, name string) *history {
	h := newHistory(t, name)
	_, err := h.store.DB().Exec("INSERT INTO country (code, name) VALUES ('FR', 'France')")
	require.NoError(t, err)

	ada := ir.IRObject{
		"name":    ir.IRString("Ada"),
		"active":  ir.IRBool(true),
		"address": ir.IRInt(10),
		"home":    ir.IRObject{"street": ir.IRString("1 Loop"), "city": ir.IRString("Paris")},
	}
	h.commit(
		change{entity: person, id: 1, typ: ir.RevisionAdd, state: ada},
		change{entity: address, id: 10, typ: ir.RevisionAdd, state: ir.IRObject{"street": ir.IRString("Main"), "country": ir.IRString("FR")}},
		change{entity: project, id: "P1", typ: ir.RevisionAdd, state: ir.IRObject{"title": ir.IRString("Alpha")}},
		change{entity: person, id: 1, typ: ir.RevisionAdd, collection: "projects", element: ir.IRObject{"project_code": ir.IRString("P1")}},
		change{entity: person, id: 1, typ: ir.RevisionAdd, collection: "nicknames", element: ir.IRObject{"nickname": ir.IRString("Al")}},
	)

	renamed := ada.Clone()
	renamed["name"] = ir.IRString("Ada L.")
	h.commit(
		change{entity: person, id: 1, typ: ir.RevisionMod, state: renamed},
		change{entity: person, id: 2, typ: ir.RevisionAdd, state: ir.IRObject{"name": ir.IRString("Bob"), "active": ir.IRBool(false)}},
	)
	h.commit(
		change{entity: person, id: 2, typ: ir.RevisionDel, state: ir.IRObject{"name": ir.IRString("Bob"), "active": ir.IRBool(false)}},
		change{entity: person, id: 1, typ: ir.RevisionDel, collection: "projects", element: ir.IRObject{"project_code": ir.IRString("P1")}},
	)
	h.commit(
		change{entity: person, id: 2, typ: ir.RevisionAdd, state: ir.IRObject{"name": ir.IRString("Bob2"), "active": ir.IRBool(true)}},
	)
	return h
}
