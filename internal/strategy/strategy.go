// Package strategy decides how historical rows are laid out, written and
// selected back.
//
// Two strategies exist. Default appends one row per fact and finds the row
// current at a revision with a correlated MAX(REV) subquery. Validity also
// records the revision at which each row stopped being current (REVEND),
// which turns the lookup into a direct range test at the cost of closing
// the previous row on every write.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
	"github.com/roach88/timeline/internal/schema"
)

// Names accepted by New.
const (
	NameDefault  = "default"
	NameValidity = "validity"
)

// Options are the write policies shared by both strategies.
type Options struct {
	// StoreDataAtDelete keeps the last-known property values on DEL rows.
	StoreDataAtDelete bool
	// AllowIdentifierReuse permits adding a record whose identity was deleted before.
	AllowIdentifierReuse bool
	// RevisionEndTimestamp adds the REVEND_TSTMP column under the validity strategy.
	RevisionEndTimestamp bool
}

// Strategy converts reduced facts into rows and compiles revision predicates.
type Strategy interface {
	// Name returns "default" or "validity".
	Name() string

	// Layout returns the audit table of an entity.
	Layout(n schema.Naming, e *schema.Entity) schema.Table

	// MiddleLayout returns the audit table of a middle table.
	MiddleLayout(n schema.Naming, m schema.MiddleDescription) schema.Table

	// NewScope returns the per-transaction open-row cache.
	NewScope() *Scope

	// WriteFact persists one entity fact.
	WriteFact(ctx context.Context, w Writer, s *Scope, t schema.Table, rev ir.Revision, row ir.HistoricalRow) error

	// WriteMiddle persists one collection-membership fact.
	WriteMiddle(ctx context.Context, w Writer, s *Scope, t schema.Table, rev ir.Revision, row ir.MiddleTableRow) error

	// EntityAtRevision selects, per identity, the row current at the revision.
	EntityAtRevision(in RangeInput) queryir.Predicate

	// AssociationAtRevision is the same selection scoped to a middle table alias.
	AssociationAtRevision(in RangeInput) queryir.Predicate
}

// New returns the strategy with the given name.
func New(name string, opts Options) (Strategy, error) {
	switch name {
	case NameDefault, "":
		return NewDefault(opts), nil
	case NameValidity:
		return NewValidity(opts), nil
	default:
		return nil, ir.NewConfigurationError("", "", "unknown audit strategy %q", name)
	}
}

// Writer is the storage the strategies write through. The store's
// transaction implements it.
type Writer interface {
	// Insert adds one row. Values are keyed by column name; columns of t
	// missing from values are stored as NULL.
	Insert(ctx context.Context, t schema.Table, values ir.IRObject) error

	// OpenRows returns the rows of t matching key whose revision end is NULL.
	OpenRows(ctx context.Context, t schema.Table, key ir.IRObject) ([]OpenRow, error)

	// CloseRow sets the revision end (and its timestamp when endTimestamp is
	// not nil) of exactly the given row and returns the number of rows changed.
	CloseRow(ctx context.Context, t schema.Table, row OpenRow, end int64, endTimestamp *time.Time) (int64, error)
}

// OpenRow identifies the current row of one key under the validity strategy.
type OpenRow struct {
	Key      ir.IRObject
	Revision int64
	Type     ir.RevisionType
}

// RangeInput is the input of the revision predicates.
type RangeInput struct {
	Table schema.Table
	Alias string

	// Revision is the as-of revision. Ignored when Latest is set.
	Revision int64
	Latest   bool

	// NewAlias allocates aliases for subqueries. It must come from the
	// query's alias counter so aliases never collide.
	NewAlias func() string
}

// Scope caches the open row of every key touched in one transaction.
// The backing store stays authoritative; the cache is discarded with the
// transaction.
type Scope struct {
	rows map[string]*OpenRow
}

func newScope() *Scope {
	return &Scope{rows: make(map[string]*OpenRow)}
}

func scopeKey(t schema.Table, key ir.IRObject) string {
	return t.Name + "\x00" + ir.CanonicalKey(key)
}

// lookup returns the open row for key, consulting the store once per key.
func (s *Scope) lookup(ctx context.Context, w Writer, t schema.Table, key ir.IRObject) (*OpenRow, error) {
	k := scopeKey(t, key)
	if row, ok := s.rows[k]; ok {
		return row, nil
	}
	rows, err := w.OpenRows(ctx, t, key)
	if err != nil {
		return nil, fmt.Errorf("find open row in %s: %w", t.Name, err)
	}
	if len(rows) > 1 {
		return nil, ir.NewConsistencyError(t.Entity, key, "%d open rows in %s", len(rows), t.Name)
	}
	var row *OpenRow
	if len(rows) == 1 {
		row = &rows[0]
	}
	s.rows[k] = row
	return row, nil
}

func (s *Scope) remember(t schema.Table, row OpenRow) {
	s.rows[scopeKey(t, row.Key)] = &row
}

// Len returns the number of cached keys.
func (s *Scope) Len() int {
	return len(s.rows)
}

func entityKey(t schema.Table, id ir.IRValue) ir.IRObject {
	return ir.IRObject{t.Keys[0].Name: id}
}

func middleKey(t schema.Table, row ir.MiddleTableRow) ir.IRObject {
	key := make(ir.IRObject, len(t.Keys))
	key[t.Keys[0].Name] = row.OwnerID
	for _, c := range t.Keys[1:] {
		key[c.Name] = row.Element.Get(c.Name)
	}
	return key
}

// rowValues builds the values of an entity row.
func rowValues(t schema.Table, key ir.IRObject, rev ir.Revision, row ir.HistoricalRow, storeData bool) ir.IRObject {
	values := key.Clone()
	if row.RevisionType != ir.RevisionDel || storeData {
		for _, c := range t.Data {
			values[c.Name] = row.Data.Get(c.Name)
		}
	}
	values[t.Revision] = ir.IRInt(rev.ID)
	values[t.RevisionType] = ir.IRInt(int64(row.RevisionType))
	return values
}

func middleValues(t schema.Table, key ir.IRObject, rev ir.Revision, row ir.MiddleTableRow) ir.IRObject {
	values := key.Clone()
	values[t.Revision] = ir.IRInt(rev.ID)
	values[t.RevisionType] = ir.IRInt(int64(row.RevisionType))
	return values
}

func baseLayout(n schema.Naming, name, entity string, keys, data []schema.Column) schema.Table {
	return schema.Table{
		Name:         name,
		Entity:       entity,
		Keys:         keys,
		Data:         data,
		Revision:     n.RevisionField,
		RevisionType: n.RevisionTypeField,
	}
}

func entityLayout(n schema.Naming, e *schema.Entity) schema.Table {
	keys := []schema.Column{{Name: e.ID.Column, Type: e.ID.Type}}
	return baseLayout(n, n.AuditTableName(e), e.Name, keys, e.DataColumns())
}

func middleLayout(n schema.Naming, m schema.MiddleDescription) schema.Table {
	keys := append([]schema.Column{m.Owner}, m.Elements...)
	return baseLayout(n, n.MiddleTableName(m), "", keys, nil)
}
