package query

import (
	"context"
	"errors"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
	"github.com/roach88/timeline/internal/schema"
)

// JoinType selects how a traversed association is joined.
type JoinType = queryir.JoinType

const (
	// InnerJoin drops owners without a matching association row.
	InnerJoin = queryir.InnerJoin
	// LeftJoin keeps owners without a matching row, with a NULL branch.
	LeftJoin = queryir.LeftJoin
)

// ErrNoResult is returned by SingleResult when no row matches.
var ErrNoResult = errors.New("query returned no result")

// ErrNonUniqueResult is returned by SingleResult when more than one row matches.
var ErrNonUniqueResult = errors.New("query returned more than one result")

type mode int

const (
	modeAtRevision mode = iota
	modeLatest
	modeRevisions
)

// node is one aliased element of the traversal tree: the root entity, a
// traversed relation, or a traversed component.
type node struct {
	userAlias string
	parent    *node
	children  []*node
	joinType  JoinType

	entity    *schema.Entity
	relation  *schema.RelationDescription
	component *schema.ComponentDescription

	criteria    []Criterion
	orders      []Order
	projections []Projection
}

func (n *node) entityName() string {
	if n.entity != nil {
		return n.entity.Name
	}
	if n.parent != nil {
		return n.parent.entityName()
	}
	return ""
}

// Query is a historical query over one root entity. Build it with the
// Reader, refine it fluently, then call ResultList or SingleResult.
//
// Builder errors are kept and reported by Compile. A Query is not safe for
// concurrent use.
type Query struct {
	reader *Reader
	mode   mode

	revision       int64
	entitiesOnly   bool
	includeDeleted bool

	root    *node
	aliases map[string]*node

	maxResults  int
	firstResult int
	cacheable   bool

	err error
}

func newQuery(r *Reader, entity string, m mode) *Query {
	q := &Query{reader: r, mode: m, aliases: make(map[string]*node)}
	e, ok := r.registry.Entity(entity)
	switch {
	case !ok:
		q.err = ir.NewConfigurationError(entity, "", "unknown entity")
	case e.NotAudited:
		q.err = ir.NewConfigurationError(entity, "", "entity is not audited")
	}
	q.root = &node{entity: e}
	return q
}

func (q *Query) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Add restricts the root entity.
func (q *Query) Add(c Criterion) *Query {
	q.root.criteria = append(q.root.criteria, c)
	return q
}

// AddOrder orders results. Orders apply in the order they are added.
func (q *Query) AddOrder(o Order) *Query {
	q.root.orders = append(q.root.orders, o)
	return q
}

// AddProjection selects a value instead of the root entity.
func (q *Query) AddProjection(p Projection) *Query {
	q.root.projections = append(q.root.projections, p)
	return q
}

// SetMaxResults limits the number of results. Zero means no limit.
func (q *Query) SetMaxResults(n int) *Query {
	if n < 0 {
		q.fail(ir.NewConfigurationError(q.root.entityName(), "", "negative max results %d", n))
	}
	q.maxResults = n
	return q
}

// SetFirstResult skips the first n results.
func (q *Query) SetFirstResult(n int) *Query {
	if n < 0 {
		q.fail(ir.NewConfigurationError(q.root.entityName(), "", "negative first result %d", n))
	}
	q.firstResult = n
	return q
}

// SetCacheable memoizes results in the reader.
func (q *Query) SetCacheable(cacheable bool) *Query {
	q.cacheable = cacheable
	return q
}

// TraverseRelation joins a relation or component of the root entity. The
// alias names the traversed node for criteria and projections; it may be
// empty.
func (q *Query) TraverseRelation(property string, joinType JoinType, alias string) *AssociationQuery {
	return q.traverse(q.root, property, joinType, alias)
}

func (q *Query) traverse(parent *node, property string, joinType JoinType, alias string) *AssociationQuery {
	n := &node{userAlias: alias, parent: parent, joinType: joinType}
	aq := &AssociationQuery{q: q, node: n}
	if q.err != nil {
		return aq
	}
	if q.mode == modeRevisions {
		q.fail(ir.NewConfigurationError(parent.entityName(), property,
			"associations cannot be traversed in a revisions-of-entity query"))
		return aq
	}
	if parent.component != nil {
		q.fail(ir.NewConfigurationError(parent.entityName(), property, "components cannot be traversed further"))
		return aq
	}
	if parent.relation != nil && !targetAudited(parent.relation, parent.entity) {
		q.fail(ir.NewConfigurationError(parent.entityName(), property,
			"associations of not audited entity %s cannot be traversed", parent.entity.Name))
		return aq
	}
	if alias != "" {
		if _, dup := q.aliases[alias]; dup {
			q.fail(ir.NewConfigurationError(parent.entityName(), property, "alias %q is already in use", alias))
			return aq
		}
		q.aliases[alias] = n
	}

	rel, comp, err := q.reader.registry.Association(parent.entity.Name, property)
	if err != nil {
		q.fail(err)
		return aq
	}
	if comp != nil {
		n.component = comp
		parent.children = append(parent.children, n)
		return aq
	}

	if rel.Kind == schema.ToOneNotOwning {
		q.fail(ir.NewConfigurationError(parent.entityName(), property,
			"traversal of a not-owning to-one relation is not supported"))
		return aq
	}
	target, _ := q.reader.registry.Entity(rel.ToEntity)
	notOwning := rel.Kind == schema.ToManyNotOwning || rel.Kind == schema.ToManyMiddleNotOwning
	if notOwning && !targetAudited(rel, target) {
		q.fail(ir.NewConfigurationError(parent.entityName(), property,
			"not-owning association to not audited entity %s cannot be queried", target.Name))
		return aq
	}
	n.relation = rel
	n.entity = target
	parent.children = append(parent.children, n)
	return aq
}

// Compile builds the query plan without executing it.
func (q *Query) Compile() (*Plan, error) {
	if q.err != nil {
		return nil, q.err
	}
	return compile(q)
}

// ResultList executes the query.
func (q *Query) ResultList(ctx context.Context) ([]ir.IRValue, error) {
	plan, err := q.Compile()
	if err != nil {
		return nil, err
	}
	return q.reader.execute(ctx, plan, q.cacheable, q.mode == modeLatest)
}

// SingleResult executes the query and returns its only result.
func (q *Query) SingleResult(ctx context.Context) (ir.IRValue, error) {
	results, err := q.ResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, ErrNoResult
	case 1:
		return results[0], nil
	default:
		return nil, ErrNonUniqueResult
	}
}

// AssociationQuery refines one traversed node. Criteria, orders and
// projections added here default to the node's alias.
type AssociationQuery struct {
	q    *Query
	node *node
}

// Add restricts the traversed node.
func (a *AssociationQuery) Add(c Criterion) *AssociationQuery {
	a.node.criteria = append(a.node.criteria, c)
	return a
}

// AddOrder orders results by a value of the traversed node.
func (a *AssociationQuery) AddOrder(o Order) *AssociationQuery {
	a.node.orders = append(a.node.orders, o)
	return a
}

// AddProjection selects a value of the traversed node.
func (a *AssociationQuery) AddProjection(p Projection) *AssociationQuery {
	a.node.projections = append(a.node.projections, p)
	return a
}

// TraverseRelation joins a relation or component of the traversed entity.
func (a *AssociationQuery) TraverseRelation(property string, joinType JoinType, alias string) *AssociationQuery {
	if a.node.entity == nil {
		a.q.fail(ir.NewConfigurationError(a.node.entityName(), property, "components cannot be traversed further"))
		return &AssociationQuery{q: a.q, node: &node{parent: a.node}}
	}
	return a.q.traverse(a.node, property, joinType, alias)
}

// Up returns the parent association, or the root's when the parent is the
// root entity.
func (a *AssociationQuery) Up() *AssociationQuery {
	if a.node.parent == nil {
		return a
	}
	return &AssociationQuery{q: a.q, node: a.node.parent}
}

// Query returns the enclosing query.
func (a *AssociationQuery) Query() *Query {
	return a.q
}

// ResultList executes the enclosing query.
func (a *AssociationQuery) ResultList(ctx context.Context) ([]ir.IRValue, error) {
	return a.q.ResultList(ctx)
}

// SingleResult executes the enclosing query.
func (a *AssociationQuery) SingleResult(ctx context.Context) (ir.IRValue, error) {
	return a.q.SingleResult(ctx)
}
