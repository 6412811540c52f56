package query

import (
	"fmt"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
)

type refKind int

const (
	refProperty refKind = iota
	refID
	refRelatedID
	refRevision
	refRevisionType
)

// PropertyRef names a value of an aliased node: a tracked property, the
// identity, the reference of a to-one relation, or one of the revision
// bookkeeping columns.
//
// An empty alias means the node the criterion, order or projection is added to.
type PropertyRef struct {
	kind  refKind
	alias string
	name  string
}

// Property refers to a scalar property. Properties of an inlined
// component are addressed as "component.property".
func Property(name string) PropertyRef {
	return PropertyRef{kind: refProperty, name: name}
}

// AliasProperty refers to a property of the node traversed under alias.
func AliasProperty(alias, name string) PropertyRef {
	return PropertyRef{kind: refProperty, alias: alias, name: name}
}

// ID refers to the identity of the node.
func ID() PropertyRef {
	return PropertyRef{kind: refID}
}

// RelatedID refers to the target identity stored by a to-one relation.
func RelatedID(relation string) PropertyRef {
	return PropertyRef{kind: refRelatedID, name: relation}
}

// RevisionNumber refers to the revision of the selected row.
func RevisionNumber() PropertyRef {
	return PropertyRef{kind: refRevision}
}

// RevisionType refers to the ADD/MOD/DEL discriminator of the selected row.
func RevisionType() PropertyRef {
	return PropertyRef{kind: refRevisionType}
}

// On returns the reference bound to another alias.
func (r PropertyRef) On(alias string) PropertyRef {
	r.alias = alias
	return r
}

func (r PropertyRef) String() string {
	var s string
	switch r.kind {
	case refID:
		s = "id()"
	case refRelatedID:
		s = "relatedId(" + r.name + ")"
	case refRevision:
		s = "revisionNumber()"
	case refRevisionType:
		s = "revisionType()"
	default:
		s = r.name
	}
	if r.alias != "" {
		return r.alias + "." + s
	}
	return s
}

// Criterion is a predicate fragment added to a query or association query.
type Criterion interface {
	predicate(c *compiler, n *node) (queryir.Predicate, error)
}

type compareCriterion struct {
	ref   PropertyRef
	op    queryir.CompareOp
	value any
}

type inCriterion struct {
	ref    PropertyRef
	values []any
}

type nullCriterion struct {
	ref PropertyRef
	not bool
}

type junction struct {
	or    bool
	parts []Criterion
}

type negation struct {
	c Criterion
}

func (r PropertyRef) Eq(v any) Criterion   { return compareCriterion{r, queryir.OpEq, v} }
func (r PropertyRef) Ne(v any) Criterion   { return compareCriterion{r, queryir.OpNe, v} }
func (r PropertyRef) Gt(v any) Criterion   { return compareCriterion{r, queryir.OpGt, v} }
func (r PropertyRef) Ge(v any) Criterion   { return compareCriterion{r, queryir.OpGe, v} }
func (r PropertyRef) Lt(v any) Criterion   { return compareCriterion{r, queryir.OpLt, v} }
func (r PropertyRef) Le(v any) Criterion   { return compareCriterion{r, queryir.OpLe, v} }
func (r PropertyRef) Like(v any) Criterion { return compareCriterion{r, queryir.OpLike, v} }

// In matches any of the values. An empty list matches nothing.
func (r PropertyRef) In(values ...any) Criterion { return inCriterion{r, values} }

func (r PropertyRef) IsNull() Criterion    { return nullCriterion{ref: r} }
func (r PropertyRef) IsNotNull() Criterion { return nullCriterion{ref: r, not: true} }

// And matches when every criterion matches.
func And(cs ...Criterion) Criterion { return junction{parts: cs} }

// Or matches when any criterion matches.
func Or(cs ...Criterion) Criterion { return junction{or: true, parts: cs} }

// Not negates a criterion.
func Not(c Criterion) Criterion { return negation{c} }

func (cc compareCriterion) predicate(c *compiler, n *node) (queryir.Predicate, error) {
	col, err := c.resolve(n, cc.ref)
	if err != nil {
		return nil, err
	}
	v, err := literalValue(cc.ref, cc.value)
	if err != nil {
		return nil, err
	}
	if ir.IsNull(v) {
		return nil, ir.NewConfigurationError(n.entityName(), cc.ref.name,
			"comparison of %s with null; use IsNull", cc.ref)
	}
	return queryir.Cmp(col, cc.op, queryir.Lit(v)), nil
}

func (ic inCriterion) predicate(c *compiler, n *node) (queryir.Predicate, error) {
	col, err := c.resolve(n, ic.ref)
	if err != nil {
		return nil, err
	}
	values := make([]ir.IRValue, 0, len(ic.values))
	for _, raw := range ic.values {
		v, err := literalValue(ic.ref, raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return queryir.In{Expr: col, Values: values}, nil
}

func (nc nullCriterion) predicate(c *compiler, n *node) (queryir.Predicate, error) {
	col, err := c.resolve(n, nc.ref)
	if err != nil {
		return nil, err
	}
	return queryir.IsNull{Expr: col, Not: nc.not}, nil
}

func (j junction) predicate(c *compiler, n *node) (queryir.Predicate, error) {
	preds := make([]queryir.Predicate, 0, len(j.parts))
	for _, part := range j.parts {
		p, err := part.predicate(c, n)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if j.or {
		return queryir.Or{Predicates: preds}, nil
	}
	return queryir.And{Predicates: preds}, nil
}

func (ng negation) predicate(c *compiler, n *node) (queryir.Predicate, error) {
	p, err := ng.c.predicate(c, n)
	if err != nil {
		return nil, err
	}
	return queryir.Not{Predicate: p}, nil
}

// literalValue converts a Go value to an ir.IRValue. Revision types are
// stored as their ordinal.
func literalValue(ref PropertyRef, v any) (ir.IRValue, error) {
	switch val := v.(type) {
	case ir.RevisionType:
		return ir.IRInt(int64(val)), nil
	case ir.IRValue:
		return val, nil
	}
	if ref.kind == refRevisionType {
		if s, ok := v.(string); ok {
			t, err := ir.ParseRevisionType(s)
			if err != nil {
				return nil, err
			}
			return ir.IRInt(int64(t)), nil
		}
	}
	iv, err := ir.FromAny(v)
	if err != nil {
		return nil, fmt.Errorf("criterion on %s: %w", ref, err)
	}
	switch iv.(type) {
	case ir.IRArray, ir.IRObject:
		return nil, fmt.Errorf("criterion on %s: composite value %T", ref, iv)
	}
	return iv, nil
}

// Order sorts results by one reference.
type Order struct {
	ref  PropertyRef
	desc bool
}

// Asc orders by the reference, ascending.
func (r PropertyRef) Asc() Order { return Order{ref: r} }

// Desc orders by the reference, descending.
func (r PropertyRef) Desc() Order { return Order{ref: r, desc: true} }

type projectionKind int

const (
	projectValue projectionKind = iota
	projectEntity
	projectCount
	projectCountDistinct
	projectMax
)

// Projection selects a value instead of the root entity. A query with one
// projection returns scalars; with several, one IRArray per row.
type Projection struct {
	kind  projectionKind
	ref   PropertyRef
	alias string
}

// Project selects the referenced value.
func (r PropertyRef) Project() Projection { return Projection{kind: projectValue, ref: r} }

// Count counts non-null values of the reference.
func (r PropertyRef) Count() Projection { return Projection{kind: projectCount, ref: r} }

// CountDistinct counts distinct non-null values of the reference.
func (r PropertyRef) CountDistinct() Projection {
	return Projection{kind: projectCountDistinct, ref: r}
}

// Max selects the largest value of the reference.
func (r PropertyRef) Max() Projection { return Projection{kind: projectMax, ref: r} }

// Entity selects the snapshot of the node traversed under alias. An empty
// alias selects the node the projection is added to.
func Entity(alias string) Projection { return Projection{kind: projectEntity, alias: alias} }

// RevisionNumberMax selects the highest revision matching the query.
func RevisionNumberMax() Projection { return RevisionNumber().Max() }

func (p Projection) aggregate() bool {
	return p.kind == projectCount || p.kind == projectCountDistinct || p.kind == projectMax
}
