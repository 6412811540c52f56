package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
	"github.com/roach88/timeline/internal/schema"
)

// Validity records the end revision of every row. Per key, exactly one row
// is open (REVEND IS NULL) once the key has been written:
//
//	(none) --ADD--> Live --MOD--> Live --DEL--> Closed
//	Closed --ADD--> Live   only with AllowIdentifierReuse
type Validity struct {
	opts Options
}

// NewValidity creates the validity strategy.
func NewValidity(opts Options) *Validity {
	return &Validity{opts: opts}
}

func (v *Validity) Name() string { return NameValidity }

func (v *Validity) Layout(n schema.Naming, e *schema.Entity) schema.Table {
	return v.withEnd(n, entityLayout(n, e))
}

func (v *Validity) MiddleLayout(n schema.Naming, m schema.MiddleDescription) schema.Table {
	return v.withEnd(n, middleLayout(n, m))
}

func (v *Validity) withEnd(n schema.Naming, t schema.Table) schema.Table {
	t.RevisionEnd = n.RevisionEndField
	if v.opts.RevisionEndTimestamp {
		t.RevisionEndTimestamp = n.RevisionEndTimestampField
	}
	return t
}

func (v *Validity) NewScope() *Scope { return newScope() }

func (v *Validity) WriteFact(ctx context.Context, w Writer, s *Scope, t schema.Table, rev ir.Revision, row ir.HistoricalRow) error {
	key := entityKey(t, row.ID)
	open, err := s.lookup(ctx, w, t, key)
	if err != nil {
		return err
	}

	switch row.RevisionType {
	case ir.RevisionAdd:
		if open != nil {
			if open.Type != ir.RevisionDel {
				return ir.NewConsistencyError(t.Entity, row.ID,
					"add over open %s row at revision %d", open.Type, open.Revision)
			}
			// A delete and re-add within one revision is not a reuse.
			if !v.opts.AllowIdentifierReuse && open.Revision != rev.ID {
				return ir.NewConfigurationError(t.Entity, "",
					"identifier %s was deleted at revision %d and identifier reuse is disabled",
					ir.CanonicalKey(row.ID), open.Revision)
			}
		}
	case ir.RevisionMod, ir.RevisionDel:
		if open == nil {
			return ir.NewConsistencyError(t.Entity, row.ID, "%s with no open row", row.RevisionType)
		}
		if open.Type == ir.RevisionDel {
			return ir.NewConsistencyError(t.Entity, row.ID,
				"%s after delete at revision %d", row.RevisionType, open.Revision)
		}
	default:
		return ir.NewConsistencyError(t.Entity, row.ID, "unknown revision type %d", row.RevisionType)
	}

	if open != nil {
		if err := v.close(ctx, w, t, *open, rev); err != nil {
			return err
		}
	}

	values := rowValues(t, key, rev, row, v.opts.StoreDataAtDelete)
	if err := w.Insert(ctx, t, values); err != nil {
		return fmt.Errorf("insert %s row: %w", t.Name, err)
	}
	s.remember(t, OpenRow{Key: key, Revision: rev.ID, Type: row.RevisionType})
	return nil
}

// WriteMiddle closes whatever row is open for the membership and inserts
// the new one. Memberships have no reuse rule.
func (v *Validity) WriteMiddle(ctx context.Context, w Writer, s *Scope, t schema.Table, rev ir.Revision, row ir.MiddleTableRow) error {
	key := middleKey(t, row)
	open, err := s.lookup(ctx, w, t, key)
	if err != nil {
		return err
	}
	if open != nil {
		if err := v.close(ctx, w, t, *open, rev); err != nil {
			return err
		}
	}
	if err := w.Insert(ctx, t, middleValues(t, key, rev, row)); err != nil {
		return fmt.Errorf("insert %s row: %w", t.Name, err)
	}
	s.remember(t, OpenRow{Key: key, Revision: rev.ID, Type: row.RevisionType})
	return nil
}

func (v *Validity) close(ctx context.Context, w Writer, t schema.Table, open OpenRow, rev ir.Revision) error {
	var ts *time.Time
	if t.RevisionEndTimestamp != "" {
		stamp := rev.Timestamp
		ts = &stamp
	}
	n, err := w.CloseRow(ctx, t, open, rev.ID, ts)
	if err != nil {
		return fmt.Errorf("close %s row at revision %d: %w", t.Name, open.Revision, err)
	}
	if n != 1 {
		return ir.NewConsistencyError(t.Entity, open.Key,
			"closing row at revision %d in %s updated %d rows", open.Revision, t.Name, n)
	}
	return nil
}

// EntityAtRevision compiles
//
//	alias.REV <= ? AND (alias.REVEND > ? OR alias.REVEND IS NULL)
//
// and alias.REVEND IS NULL for latest queries.
func (v *Validity) EntityAtRevision(in RangeInput) queryir.Predicate {
	return validRange(in)
}

func (v *Validity) AssociationAtRevision(in RangeInput) queryir.Predicate {
	return validRange(in)
}

func validRange(in RangeInput) queryir.Predicate {
	end := queryir.Col(in.Alias, in.Table.RevisionEnd)
	if in.Latest {
		return queryir.IsNull{Expr: end}
	}
	rev := queryir.Lit(ir.IRInt(in.Revision))
	return queryir.AllOf(
		queryir.Cmp(queryir.Col(in.Alias, in.Table.Revision), queryir.OpLe, rev),
		queryir.Or{Predicates: []queryir.Predicate{
			queryir.Cmp(end, queryir.OpGt, rev),
			queryir.IsNull{Expr: end},
		}},
	)
}
