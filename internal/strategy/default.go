package strategy

import (
	"context"
	"fmt"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
	"github.com/roach88/timeline/internal/schema"
)

// Default is the append-only strategy. Writing never touches earlier rows.
type Default struct {
	opts Options
}

// NewDefault creates the append-only strategy.
func NewDefault(opts Options) *Default {
	return &Default{opts: opts}
}

func (d *Default) Name() string { return NameDefault }

func (d *Default) Layout(n schema.Naming, e *schema.Entity) schema.Table {
	return entityLayout(n, e)
}

func (d *Default) MiddleLayout(n schema.Naming, m schema.MiddleDescription) schema.Table {
	return middleLayout(n, m)
}

// NewScope returns an empty scope; the default strategy never looks rows up.
func (d *Default) NewScope() *Scope { return newScope() }

func (d *Default) WriteFact(ctx context.Context, w Writer, _ *Scope, t schema.Table, rev ir.Revision, row ir.HistoricalRow) error {
	values := rowValues(t, entityKey(t, row.ID), rev, row, d.opts.StoreDataAtDelete)
	if err := w.Insert(ctx, t, values); err != nil {
		return fmt.Errorf("insert %s row: %w", t.Name, err)
	}
	return nil
}

func (d *Default) WriteMiddle(ctx context.Context, w Writer, _ *Scope, t schema.Table, rev ir.Revision, row ir.MiddleTableRow) error {
	if err := w.Insert(ctx, t, middleValues(t, middleKey(t, row), rev, row)); err != nil {
		return fmt.Errorf("insert %s row: %w", t.Name, err)
	}
	return nil
}

// EntityAtRevision compiles
//
//	alias.REV = (SELECT MAX(x.REV) FROM T x WHERE x.REV <= ? AND x.id = alias.id)
//
// Latest queries drop the revision bound.
func (d *Default) EntityAtRevision(in RangeInput) queryir.Predicate {
	return maxRevision(in)
}

// AssociationAtRevision is the same correlated lookup over all key columns
// of the middle table (owner and element), narrowed to the last row written
// in that revision:
//
//	alias.REV = (SELECT MAX(x.REV) ...) AND
//	alias.rowid = (SELECT MAX(y.rowid) FROM T y WHERE y.REV = alias.REV AND y.keys = alias.keys)
//
// An element added and removed in one transaction has an ADD and a DEL row
// at the same revision; the later one decides membership. Audit rows are
// never deleted, so rowid follows insertion order.
func (d *Default) AssociationAtRevision(in RangeInput) queryir.Predicate {
	return queryir.AllOf(maxRevision(in), lastWritten(in))
}

// RowIDColumn is the SQLite rowid of an audit row.
const RowIDColumn = "rowid"

func lastWritten(in RangeInput) queryir.Predicate {
	sub := in.NewAlias()
	conds := []queryir.Predicate{queryir.Cmp(
		queryir.Col(sub, in.Table.Revision), queryir.OpEq, queryir.Col(in.Alias, in.Table.Revision))}
	for _, k := range in.Table.Keys {
		conds = append(conds, queryir.Cmp(
			queryir.Col(sub, k.Name), queryir.OpEq, queryir.Col(in.Alias, k.Name)))
	}
	return queryir.Cmp(
		queryir.Col(in.Alias, RowIDColumn),
		queryir.OpEq,
		queryir.Subquery{Select: queryir.Select{
			Outputs: []queryir.Output{{Expr: queryir.Aggregate{
				Func: queryir.AggMax,
				Arg:  queryir.Col(sub, RowIDColumn),
			}}},
			From:  queryir.TableRef{Table: in.Table.Name, Alias: sub},
			Where: queryir.AllOf(conds...),
		}},
	)
}

func maxRevision(in RangeInput) queryir.Predicate {
	sub := in.NewAlias()
	var conds []queryir.Predicate
	if !in.Latest {
		conds = append(conds, queryir.Cmp(
			queryir.Col(sub, in.Table.Revision), queryir.OpLe, queryir.Lit(ir.IRInt(in.Revision))))
	}
	for _, k := range in.Table.Keys {
		conds = append(conds, queryir.Cmp(
			queryir.Col(sub, k.Name), queryir.OpEq, queryir.Col(in.Alias, k.Name)))
	}
	return queryir.Cmp(
		queryir.Col(in.Alias, in.Table.Revision),
		queryir.OpEq,
		queryir.Subquery{Select: queryir.Select{
			Outputs: []queryir.Output{{Expr: queryir.Aggregate{
				Func: queryir.AggMax,
				Arg:  queryir.Col(sub, in.Table.Revision),
			}}},
			From:  queryir.TableRef{Table: in.Table.Name, Alias: sub},
			Where: queryir.AllOf(conds...),
		}},
	)
}
