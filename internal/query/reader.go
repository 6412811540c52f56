package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/querysql"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/strategy"
)

// Source executes compiled queries and answers revision lookups. The
// store implements it.
type Source interface {
	Select(ctx context.Context, query string, params []any, types []schema.PropertyType) ([]ir.IRObject, error)
	LatestRevision(ctx context.Context) (int64, error)
	RevisionDate(ctx context.Context, rev int64) (time.Time, error)
	RevisionForDate(ctx context.Context, t time.Time) (int64, error)
	EntityNamesChangedAtRevision(ctx context.Context, rev int64) ([]string, error)
}

// Reader creates historical queries. It is safe for concurrent use; the
// registry, naming and strategy it holds are never mutated.
type Reader struct {
	registry *schema.Registry
	naming   schema.Naming
	strategy strategy.Strategy
	source   Source
	compiler *querysql.SQLCompiler

	mu    sync.Mutex
	cache map[string][]ir.IRValue
}

// NewReader creates a reader over a sealed registry.
func NewReader(registry *schema.Registry, naming schema.Naming, strat strategy.Strategy, source Source) (*Reader, error) {
	if !registry.Sealed() {
		if err := registry.Seal(); err != nil {
			return nil, fmt.Errorf("seal registry: %w", err)
		}
	}
	return &Reader{
		registry: registry,
		naming:   naming,
		strategy: strat,
		source:   source,
		compiler: querysql.NewSQLCompiler(),
		cache:    make(map[string][]ir.IRValue),
	}, nil
}

// ForEntitiesAtRevision selects the entities as they were at a revision.
// Entities deleted at or before the revision are excluded.
func (r *Reader) ForEntitiesAtRevision(entity string, rev int64) *Query {
	q := newQuery(r, entity, modeAtRevision)
	if rev < 1 {
		q.fail(ir.NewConfigurationError(entity, "", "revision must be positive, got %d", rev))
	}
	q.revision = rev
	return q
}

// ForEntitiesAtLatest selects the current state of every live entity.
func (r *Reader) ForEntitiesAtLatest(entity string) *Query {
	return newQuery(r, entity, modeLatest)
}

// ForRevisionsOfEntity selects every historical row of an entity, in
// revision order. With entitiesOnly each result is the entity snapshot;
// otherwise an IRArray of [snapshot, revision, revision type]. DEL rows
// are included only with includeDeleted.
func (r *Reader) ForRevisionsOfEntity(entity string, entitiesOnly, includeDeleted bool) *Query {
	q := newQuery(r, entity, modeRevisions)
	q.entitiesOnly = entitiesOnly
	q.includeDeleted = includeDeleted
	return q
}

// Find returns the snapshot of one entity at a revision, or nil when it
// did not exist then.
func (r *Reader) Find(ctx context.Context, entity string, id any, rev int64) (ir.IRObject, error) {
	v, err := r.ForEntitiesAtRevision(entity, rev).Add(ID().Eq(id)).SingleResult(ctx)
	if errors.Is(err, ErrNoResult) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("find %s: unexpected result %T", entity, v)
	}
	return obj, nil
}

// Revisions returns the revisions at which an entity changed, ascending.
// The revision of its deletion is included.
func (r *Reader) Revisions(ctx context.Context, entity string, id any) ([]int64, error) {
	results, err := r.ForRevisionsOfEntity(entity, false, true).
		Add(ID().Eq(id)).
		AddProjection(RevisionNumber().Project()).
		AddOrder(RevisionNumber().Asc()).
		ResultList(ctx)
	if err != nil {
		return nil, err
	}
	revs := make([]int64, 0, len(results))
	for _, v := range results {
		n, ok := v.(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("revisions of %s: unexpected value %T", entity, v)
		}
		if len(revs) > 0 && revs[len(revs)-1] == int64(n) {
			// A delete and a re-add share one revision.
			continue
		}
		revs = append(revs, int64(n))
	}
	return revs, nil
}

// RevisionDate returns the timestamp of a revision.
func (r *Reader) RevisionDate(ctx context.Context, rev int64) (time.Time, error) {
	return r.source.RevisionDate(ctx, rev)
}

// RevisionForDate returns the highest revision not after t.
func (r *Reader) RevisionForDate(ctx context.Context, t time.Time) (int64, error) {
	return r.source.RevisionForDate(ctx, t)
}

// LatestRevision returns the highest revision, or 0 before the first flush.
func (r *Reader) LatestRevision(ctx context.Context) (int64, error) {
	return r.source.LatestRevision(ctx)
}

// EntityNamesChangedAtRevision returns the entity names recorded for a
// revision. Empty unless changed-entity tracking is enabled.
func (r *Reader) EntityNamesChangedAtRevision(ctx context.Context, rev int64) ([]string, error) {
	return r.source.EntityNamesChangedAtRevision(ctx, rev)
}

// execute runs a plan, going through the cache for cacheable queries.
// Past revisions never change, so results are memoized by SQL and
// parameters; latest queries are additionally keyed by the latest revision.
func (r *Reader) execute(ctx context.Context, plan *Plan, cacheable, latest bool) ([]ir.IRValue, error) {
	var key string
	if cacheable {
		var b strings.Builder
		b.WriteString(plan.SQL)
		for _, p := range plan.Params {
			fmt.Fprintf(&b, "\x00%#v", p)
		}
		if latest {
			rev, err := r.source.LatestRevision(ctx)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "\x00@%d", rev)
		}
		key = b.String()

		r.mu.Lock()
		cached, ok := r.cache[key]
		r.mu.Unlock()
		if ok {
			return append([]ir.IRValue(nil), cached...), nil
		}
	}

	rows, err := r.source.Select(ctx, plan.SQL, plan.Params, plan.types)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	results, err := plan.decode(rows)
	if err != nil {
		return nil, err
	}

	if cacheable {
		r.mu.Lock()
		r.cache[key] = results
		r.mu.Unlock()
		return append([]ir.IRValue(nil), results...), nil
	}
	return results, nil
}

// CacheSize returns the number of memoized query results.
func (r *Reader) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
