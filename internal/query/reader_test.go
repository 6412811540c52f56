package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/testutil"
)

func adaAt(name string) ir.IRObject {
	return ir.IRObject{
		"id":      ir.IRInt(1),
		"name":    ir.IRString(name),
		"active":  ir.IRBool(true),
		"address": ir.IRInt(10),
		"home":    ir.IRObject{"street": ir.IRString("1 Loop"), "city": ir.IRString("Paris")},
	}
}

func bob(name string, active bool) ir.IRObject {
	return ir.IRObject{
		"id":      ir.IRInt(2),
		"name":    ir.IRString(name),
		"active":  ir.IRBool(active),
		"address": ir.IRNull{},
		"home":    ir.IRNull{},
	}
}

func TestForEntitiesAtRevision(t *testing.T) {
	for _, name := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := seedPeople(t, name).reader()

			tests := []struct {
				rev  int64
				want []ir.IRValue
			}{
				{1, []ir.IRValue{adaAt("Ada")}},
				{2, []ir.IRValue{adaAt("Ada L."), bob("Bob", false)}},
				{3, []ir.IRValue{adaAt("Ada L.")}},
				{4, []ir.IRValue{adaAt("Ada L."), bob("Bob2", true)}},
				{99, []ir.IRValue{adaAt("Ada L."), bob("Bob2", true)}},
			}
			for _, tt := range tests {
				got, err := r.ForEntitiesAtRevision(person, tt.rev).ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, "revision %d", tt.rev)
			}

			latest, err := r.ForEntitiesAtLatest(person).ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{adaAt("Ada L."), bob("Bob2", true)}, latest)
		})
	}
}

func TestCriteriaAndPaging(t *testing.T) {
	for _, name := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := seedPeople(t, name).reader()

			got, err := r.ForEntitiesAtRevision(person, 4).
				Add(Or(Property("name").Like("Bob%"), Property("home.city").Eq("Nowhere"))).
				ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{bob("Bob2", true)}, got)

			got, err = r.ForEntitiesAtRevision(person, 4).
				AddOrder(Property("name").Desc()).
				SetMaxResults(1).
				SetFirstResult(1).
				ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{adaAt("Ada L.")}, got)

			got, err = r.ForEntitiesAtRevision(person, 4).
				Add(Not(RelatedID("address").IsNull())).
				AddProjection(Property("name").Project()).
				ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{ir.IRString("Ada L.")}, got)
		})
	}
}

func TestSingleResult(t *testing.T) {
	ctx := context.Background()
	r := seedPeople(t, "validity").reader()

	_, err := r.ForEntitiesAtRevision(person, 2).SingleResult(ctx)
	assert.ErrorIs(t, err, ErrNonUniqueResult)

	_, err = r.ForEntitiesAtRevision(person, 2).Add(Property("name").Eq("zzz")).SingleResult(ctx)
	assert.ErrorIs(t, err, ErrNoResult)

	v, err := r.ForEntitiesAtRevision(person, 2).Add(ID().Eq(2)).SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob("Bob", false), v)
}

func TestTraverseRelation(t *testing.T) {
	for _, name := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := seedPeople(t, name).reader()

			t.Run("to many middle", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(person, 1)
				q.TraverseRelation("projects", InnerJoin, "p").Add(Property("title").Eq("Alpha"))
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{adaAt("Ada")}, got)

				q = r.ForEntitiesAtRevision(person, 3)
				q.TraverseRelation("projects", InnerJoin, "p")
				got, err = q.ResultList(ctx)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("left join keeps owners", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(person, 3).
					AddProjection(Property("name").Project()).
					AddProjection(AliasProperty("p", "title").Project())
				q.TraverseRelation("projects", LeftJoin, "p")
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{ir.IRArray{ir.IRString("Ada L."), ir.IRNull{}}}, got)
			})

			t.Run("to one", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(person, 2).AddProjection(Entity("a"))
				q.TraverseRelation("address", InnerJoin, "a")
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				want := ir.IRObject{"id": ir.IRInt(10), "street": ir.IRString("Main"), "country": ir.IRString("FR")}
				assert.Equal(t, []ir.IRValue{want}, got)
			})

			t.Run("to many not owning", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(address, 2).AddProjection(ID().Project())
				q.TraverseRelation("residents", InnerJoin, "r").Add(Property("name").Eq("Ada L."))
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{ir.IRInt(10)}, got)

				q = r.ForEntitiesAtRevision(address, 1).AddProjection(ID().Project())
				q.TraverseRelation("residents", InnerJoin, "r").Add(Property("name").Eq("Ada L."))
				got, err = q.ResultList(ctx)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("to many middle not owning", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(project, 2).AddProjection(ID().Project())
				q.TraverseRelation("members", InnerJoin, "m")
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{ir.IRString("P1")}, got)

				q = r.ForEntitiesAtRevision(project, 3).AddProjection(ID().Project())
				q.TraverseRelation("members", InnerJoin, "m")
				got, err = q.ResultList(ctx)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("component collection", func(t *testing.T) {
				q := r.ForEntitiesAtRevision(person, 4).
					AddProjection(Property("name").Project()).
					AddProjection(AliasProperty("n", "nickname").Project())
				q.TraverseRelation("nicknames", InnerJoin, "n")
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{ir.IRArray{ir.IRString("Ada L."), ir.IRString("Al")}}, got)
			})

			t.Run("not audited target", func(t *testing.T) {
				q := r.ForEntitiesAtLatest(address).AddProjection(AliasProperty("c", "name").Project())
				q.TraverseRelation("country", LeftJoin, "c")
				got, err := q.ResultList(ctx)
				require.NoError(t, err)
				assert.Equal(t, []ir.IRValue{ir.IRString("France")}, got)
			})
		})
	}
}

func TestForRevisionsOfEntity(t *testing.T) {
	for _, name := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := seedPeople(t, name).reader()

			got, err := r.ForRevisionsOfEntity(person, false, true).Add(ID().Eq(2)).ResultList(ctx)
			require.NoError(t, err)
			require.Len(t, got, 3)

			deleted := ir.IRObject{
				"id": ir.IRInt(2), "name": ir.IRNull{}, "active": ir.IRNull{},
				"address": ir.IRNull{}, "home": ir.IRNull{},
			}
			stamp := func(rev int64) ir.IRObject {
				ts := testutil.Epoch.Add(time.Duration(rev-1) * time.Second)
				return ir.IRObject{"id": ir.IRInt(rev), "timestamp": ir.IRString(ts.Format(time.RFC3339Nano))}
			}
			assert.Equal(t, ir.IRArray{bob("Bob", false), stamp(2), ir.IRString("ADD")}, got[0])
			assert.Equal(t, ir.IRArray{deleted, stamp(3), ir.IRString("DEL")}, got[1])
			assert.Equal(t, ir.IRArray{bob("Bob2", true), stamp(4), ir.IRString("ADD")}, got[2])

			live, err := r.ForRevisionsOfEntity(person, true, false).Add(ID().Eq(2)).ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{bob("Bob", false), bob("Bob2", true)}, live)

			mods, err := r.ForRevisionsOfEntity(person, true, false).Add(RevisionType().Eq("MOD")).ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{adaAt("Ada L.")}, mods)

			types, err := r.ForRevisionsOfEntity(person, false, true).
				Add(ID().Eq(2)).
				AddProjection(RevisionNumber().Project()).
				AddProjection(RevisionType().Project()).
				ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ir.IRValue{
				ir.IRArray{ir.IRInt(2), ir.IRString("ADD")},
				ir.IRArray{ir.IRInt(3), ir.IRString("DEL")},
				ir.IRArray{ir.IRInt(4), ir.IRString("ADD")},
			}, types)

			maxRev, err := r.ForRevisionsOfEntity(person, true, true).AddProjection(RevisionNumberMax()).SingleResult(ctx)
			require.NoError(t, err)
			assert.Equal(t, ir.IRInt(4), maxRev)
		})
	}
}

func TestReaderLookups(t *testing.T) {
	ctx := context.Background()
	r := seedPeople(t, "default").reader()

	revs, err := r.Revisions(ctx, person, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, revs)

	revs, err = r.Revisions(ctx, person, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, revs)

	found, err := r.Find(ctx, person, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, adaAt("Ada L."), found)

	found, err = r.Find(ctx, person, 2, 3)
	require.NoError(t, err)
	assert.Nil(t, found)

	latest, err := r.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest)

	date, err := r.RevisionDate(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(2*time.Second), date)

	rev, err := r.RevisionForDate(ctx, testutil.Epoch.Add(2500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

func TestCacheableQueries(t *testing.T) {
	ctx := context.Background()
	h := seedPeople(t, "validity")
	r := h.reader()

	for i := 0; i < 3; i++ {
		got, err := r.ForEntitiesAtRevision(person, 2).SetCacheable(true).ResultList(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
	}
	assert.Equal(t, 1, r.CacheSize())

	before, err := r.ForEntitiesAtLatest(person).SetCacheable(true).ResultList(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, 2, r.CacheSize())

	// A new revision invalidates cached latest results.
	h.commit(change{entity: person, id: 2, typ: ir.RevisionDel, state: bob("Bob2", true)})
	after, err := r.ForEntitiesAtLatest(person).SetCacheable(true).ResultList(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 1)
	assert.Equal(t, 3, r.CacheSize())

	// Mutating a returned slice leaves the cache intact.
	before[0] = ir.IRNull{}
	again, err := r.ForEntitiesAtRevision(person, 2).SetCacheable(true).ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, adaAt("Ada L."), again[0])
}
