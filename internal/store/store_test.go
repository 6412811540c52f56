package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/strategy"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")

			s, err := Open(path, WithDriver(driver))
			require.NoError(t, err)
			defer s.Close()

			_, err = os.Stat(path)
			assert.NoError(t, err, "database file was not created")
			assert.Equal(t, driver, s.Driver())

			for _, table := range []string{schema.RevisionInfoTable, schema.ChangedEntitiesTable} {
				ok, err := s.TableExists(context.Background(), table)
				require.NoError(t, err)
				assert.True(t, ok, "table %s", table)
			}
		})
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, current, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.True(t, current)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithDriver("postgres"))
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tc.name, tc.want))
		})
	}
}

func TestCreateTableSQL_Golden(t *testing.T) {
	ddl, err := CreateTableSQL(personTable())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "person_validity_ddl", []byte(ddl+"\n"))
}

func TestCreateTableSQL_RejectsBadIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Table)
	}{
		{"table", func(tb *schema.Table) { tb.Name = "person; DROP TABLE REVINFO" }},
		{"key", func(tb *schema.Table) { tb.Keys[0].Name = "1id" }},
		{"data", func(tb *schema.Table) { tb.Data[0].Name = "na me" }},
		{"revision end", func(tb *schema.Table) { tb.RevisionEnd = "REV-END" }},
		{"no keys", func(tb *schema.Table) { tb.Keys = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tb := personTable()
			tc.mutate(&tb)
			_, err := CreateTableSQL(tb)
			assert.Error(t, err)
		})
	}
}

func TestEnsureTables(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	def := personTable()
	def.Name = "plain_AUD"
	def.RevisionEnd = ""
	def.RevisionEndTimestamp = ""

	tables := []schema.Table{personTable(), def}
	require.NoError(t, s.EnsureTables(ctx, tables))
	require.NoError(t, s.EnsureTables(ctx, tables), "second call must be a no-op")

	for _, name := range []string{"person_AUD", "plain_AUD"} {
		ok, err := s.TableExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}

func TestTx_WriteAndClose(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s := createTestStore(t, WithDriver(driver))
			tbl := personTable()
			require.NoError(t, s.EnsureTables(ctx, []schema.Table{tbl}))

			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			rev1, err := tx.AppendRevision(ctx, ts)
			require.NoError(t, err)
			rev2, err := tx.AppendRevision(ctx, ts.Add(time.Second))
			require.NoError(t, err)
			assert.Greater(t, rev2, rev1)

			key := ir.IRObject{"id": ir.IRInt(1)}
			require.NoError(t, tx.Insert(ctx, tbl, ir.IRObject{
				"id": ir.IRInt(1), "name": ir.IRString("Ada"), "active": ir.IRBool(true),
				"REV": ir.IRInt(rev1), "REVTYPE": ir.IRInt(0),
			}))

			open, err := tx.OpenRows(ctx, tbl, key)
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, strategy.OpenRow{Key: key, Revision: rev1, Type: ir.RevisionAdd}, open[0])

			end := ts.Add(time.Second)
			n, err := tx.CloseRow(ctx, tbl, open[0], rev2, &end)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = tx.CloseRow(ctx, tbl, open[0], rev2, &end)
			require.NoError(t, err)
			assert.Zero(t, n, "closed rows are not closed twice")

			open, err = tx.OpenRows(ctx, tbl, key)
			require.NoError(t, err)
			assert.Empty(t, open)

			require.NoError(t, tx.RecordChangedEntities(ctx, rev1, []string{"Person", "Address", "Person"}))
			require.NoError(t, tx.Commit())

			rows, err := s.Select(ctx,
				"SELECT id, name, active, REVEND, REVEND_TSTMP FROM person_AUD ORDER BY id",
				nil,
				[]schema.PropertyType{schema.TypeInt, schema.TypeString, schema.TypeBool, schema.TypeInt, schema.TypeInt})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, ir.IRObject{
				"id":           ir.IRInt(1),
				"name":         ir.IRString("Ada"),
				"active":       ir.IRBool(true),
				"REVEND":       ir.IRInt(rev2),
				"REVEND_TSTMP": ir.IRInt(end.UnixMilli()),
			}, rows[0])

			names, err := s.EntityNamesChangedAtRevision(ctx, rev1)
			require.NoError(t, err)
			assert.Equal(t, []string{"Address", "Person"}, names)
		})
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.AppendRevision(ctx, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")
	assert.Error(t, tx.Commit())

	latest, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestTx_InsertRequiresRevision(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tbl := personTable()
	require.NoError(t, s.EnsureTables(ctx, []schema.Table{tbl}))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	// REV 99 does not exist in REVINFO.
	err = tx.Insert(ctx, tbl, ir.IRObject{"id": ir.IRInt(1), "REV": ir.IRInt(99), "REVTYPE": ir.IRInt(0)})
	assert.Error(t, err)
}

func TestRevisionLookups(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	var revs []int64
	for i := 0; i < 3; i++ {
		rev, err := tx.AppendRevision(ctx, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		revs = append(revs, rev)
	}
	require.NoError(t, tx.Commit())

	latest, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, revs[2], latest)

	date, err := s.RevisionDate(ctx, revs[1])
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), date)

	_, err = s.RevisionDate(ctx, 42)
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	rev, err := s.RevisionForDate(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, revs[1], rev)

	_, err = s.RevisionForDate(ctx, base.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	found, err := s.FindRevision(ctx, revs[0])
	require.NoError(t, err)
	assert.Equal(t, ir.Revision{ID: revs[0], Timestamp: base, ChangedEntityNames: []string{}}, found)
}

func TestValidityStrategyAgainstStore(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	strat := strategy.NewValidity(strategy.Options{AllowIdentifierReuse: true})
	e := &schema.Entity{
		Name:       "Person",
		Table:      "person",
		ID:         schema.Property{Name: "id", Column: "id", Type: schema.TypeInt},
		Properties: []schema.Property{{Name: "name", Column: "name", Type: schema.TypeString}},
	}
	tbl := strat.Layout(schema.DefaultNaming(), e)
	require.NoError(t, s.EnsureTables(ctx, []schema.Table{tbl}))

	for i, typ := range []ir.RevisionType{ir.RevisionAdd, ir.RevisionMod, ir.RevisionDel, ir.RevisionAdd} {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		id, err := tx.AppendRevision(ctx, time.Now())
		require.NoError(t, err)
		row := ir.HistoricalRow{
			Entity: "Person", ID: ir.IRInt(1), RevisionType: typ,
			Data: ir.IRObject{"name": ir.IRString("v" + string(rune('0'+i)))},
		}
		require.NoError(t, strat.WriteFact(ctx, tx, strat.NewScope(), tbl, ir.Revision{ID: id}, row))
		require.NoError(t, tx.Commit())

		open, err := s.Select(ctx, "SELECT COUNT(*) AS n FROM person_AUD WHERE id = ? AND REVEND IS NULL", []any{int64(1)}, nil)
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(1), open[0]["n"], "exactly one open row after step %d", i)
	}
}
