package query

import (
	"fmt"
	"strings"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/strategy"
)

// Plan is a compiled historical query.
type Plan struct {
	// SQL and Params are ready for database/sql.
	SQL    string
	Params []any

	// Select is the QueryIR the SQL was compiled from.
	Select queryir.Select

	types []schema.PropertyType
	slots []slot
}

type slotKind int

const (
	slotEntity slotKind = iota
	slotComponent
	slotValue
	slotRevision
	slotRevisionType
)

// slot decodes one result value from a range of output columns.
type slot struct {
	kind      slotKind
	entity    *schema.Entity
	component *schema.ComponentDescription
	prefixed  bool

	// outputs are output names; columns the physical columns they carry.
	outputs []string
	columns []string
}

// compiler turns one Query into a Plan. Aliases come from a single
// counter so they never collide across the tree, subqueries included.
type compiler struct {
	q     *Query
	strat strategy.Strategy
	names schema.Naming

	next    int
	alias   map[*node]string
	tables  map[*node]schema.Table
	joined  []*node
	revinfo string
	sel     queryir.Select
	types   []schema.PropertyType
	slots   []slot
	filters []queryir.Predicate
}

func compile(q *Query) (*Plan, error) {
	c := &compiler{
		q:      q,
		strat:  q.reader.strategy,
		names:  q.reader.naming,
		alias:  make(map[*node]string),
		tables: make(map[*node]schema.Table),
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	sqlText, params, err := q.reader.compiler.Compile(c.sel)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", q.root.entity.Name, err)
	}
	return &Plan{SQL: sqlText, Params: params, Select: c.sel, types: c.types, slots: c.slots}, nil
}

func (c *compiler) newAlias() string {
	a := fmt.Sprintf("e__%d", c.next)
	c.next++
	return a
}

func (c *compiler) rangeInput(t schema.Table, alias string) strategy.RangeInput {
	return strategy.RangeInput{
		Table:    t,
		Alias:    alias,
		Revision: c.q.revision,
		Latest:   c.q.mode == modeLatest,
		NewAlias: c.newAlias,
	}
}

func notDeleted(t schema.Table, alias string) queryir.Predicate {
	return queryir.Cmp(queryir.Col(alias, t.RevisionType), queryir.OpNe, queryir.Lit(ir.IRInt(int64(ir.RevisionDel))))
}

func targetAudited(rel *schema.RelationDescription, target *schema.Entity) bool {
	return !target.NotAudited && rel.TargetAuditMode == schema.Audited
}

// liveTable is the unaudited table of an entity, joined as-is.
func liveTable(e *schema.Entity) schema.Table {
	return schema.Table{
		Name:   e.Table,
		Entity: e.Name,
		Keys:   []schema.Column{{Name: e.ID.Column, Type: e.ID.Type}},
		Data:   e.DataColumns(),
	}
}

func (c *compiler) build() error {
	q := c.q
	root := q.root
	rootTable := c.strat.Layout(c.names, root.entity)
	a := c.newAlias()
	c.alias[root] = a
	c.tables[root] = rootTable
	c.sel.From = queryir.TableRef{Table: rootTable.Name, Alias: a}

	switch q.mode {
	case modeAtRevision, modeLatest:
		c.filters = append(c.filters,
			c.strat.EntityAtRevision(c.rangeInput(rootTable, a)),
			notDeleted(rootTable, a))
	case modeRevisions:
		r := c.newAlias()
		c.sel.Joins = append(c.sel.Joins, queryir.Join{
			Type:  queryir.InnerJoin,
			Table: queryir.TableRef{Table: schema.RevisionInfoTable, Alias: r},
			On: queryir.Cmp(queryir.Col(r, schema.RevisionInfoIDColumn), queryir.OpEq,
				queryir.Col(a, rootTable.Revision)),
		})
		c.revinfo = r
		if !q.includeDeleted {
			c.filters = append(c.filters, notDeleted(rootTable, a))
		}
	}

	if err := c.joinChildren(root); err != nil {
		return err
	}
	if err := c.walk(root, c.addCriteria); err != nil {
		return err
	}
	if err := c.outputs(); err != nil {
		return err
	}
	if err := c.walk(root, c.addOrders); err != nil {
		return err
	}
	c.sel.Where = queryir.AllOf(c.filters...)
	c.sel.Limit = q.maxResults
	c.sel.Offset = q.firstResult
	return nil
}

func (c *compiler) walk(n *node, fn func(*node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.children {
		if err := c.walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) joinChildren(n *node) error {
	for _, child := range n.children {
		if err := c.join(child); err != nil {
			return err
		}
		if err := c.joinChildren(child); err != nil {
			return err
		}
	}
	return nil
}

// join compiles the joins of one traversed node. Outer joins keep every
// revision restriction in the join condition as an OR-group with the
// joined column's NULL branch.
func (c *compiler) join(n *node) error {
	parent := n.parent
	pa := c.alias[parent]
	pe := parent.entity
	outer := n.joinType == queryir.LeftJoin
	restrict := func(p queryir.Predicate, col queryir.Column) queryir.Predicate {
		if outer {
			return queryir.OrNull(p, col)
		}
		return p
	}

	middleJoin := func(m schema.MiddleDescription) string {
		mt := c.strat.MiddleLayout(c.names, m)
		ma := c.newAlias()
		owner := queryir.Col(ma, m.Owner.Name)
		c.sel.Joins = append(c.sel.Joins, queryir.Join{
			Type:  n.joinType,
			Table: queryir.TableRef{Table: mt.Name, Alias: ma},
			On: queryir.AllOf(
				queryir.Cmp(queryir.Col(pa, pe.ID.Column), queryir.OpEq, owner),
				restrict(c.strat.AssociationAtRevision(c.rangeInput(mt, ma)), owner),
				restrict(notDeleted(mt, ma), owner),
			),
		})
		c.tables[n] = mt
		return ma
	}

	if comp := n.component; comp != nil {
		if comp.Kind == schema.ComponentOne {
			c.alias[n] = pa
			c.tables[n] = c.tables[parent]
			return nil
		}
		c.alias[n] = middleJoin(*comp.Middle)
		c.joined = append(c.joined, n)
		return nil
	}

	rel := n.relation
	target := n.entity
	audited := targetAudited(rel, target)
	tt := liveTable(target)
	if audited {
		tt = c.strat.Layout(c.names, target)
	}

	var ownerKey, targetKey queryir.Column
	switch rel.Kind {
	case schema.ToOne:
		ownerKey = queryir.Col(pa, rel.ReferenceColumn)
	case schema.ToManyNotOwning:
		ownerKey = queryir.Col(pa, pe.ID.Column)
	case schema.ToManyMiddle, schema.ToManyMiddleNotOwning:
		ma := middleJoin(*rel.Middle)
		ownerKey = queryir.Col(ma, rel.Middle.Elements[0].Name)
	default:
		return ir.NewConfigurationError(pe.Name, rel.Property, "unsupported association kind %s", rel.Kind)
	}

	ta := c.newAlias()
	targetID := queryir.Col(ta, target.ID.Column)
	targetKey = targetID
	if rel.Kind == schema.ToManyNotOwning {
		targetKey = queryir.Col(ta, rel.ReferenceColumn)
	}

	on := []queryir.Predicate{queryir.Cmp(ownerKey, queryir.OpEq, targetKey)}
	if audited {
		on = append(on,
			restrict(c.strat.EntityAtRevision(c.rangeInput(tt, ta)), targetID),
			restrict(notDeleted(tt, ta), targetID))
	}
	c.sel.Joins = append(c.sel.Joins, queryir.Join{
		Type:  n.joinType,
		Table: queryir.TableRef{Table: tt.Name, Alias: ta},
		On:    queryir.AllOf(on...),
	})
	c.alias[n] = ta
	c.tables[n] = tt
	c.joined = append(c.joined, n)
	return nil
}

func (c *compiler) addCriteria(n *node) error {
	for _, cr := range n.criteria {
		p, err := cr.predicate(c, n)
		if err != nil {
			return err
		}
		c.filters = append(c.filters, p)
	}
	return nil
}

func (c *compiler) addOrders(n *node) error {
	for _, o := range n.orders {
		col, _, err := c.resolveTyped(n, o.ref)
		if err != nil {
			return err
		}
		c.sel.OrderBy = append(c.sel.OrderBy, queryir.Order{Expr: col, Desc: o.desc})
	}
	return nil
}

func (c *compiler) target(n *node, alias string) (*node, error) {
	if alias == "" {
		return n, nil
	}
	t, ok := c.q.aliases[alias]
	if !ok {
		return nil, ir.NewConfigurationError(n.entityName(), "", "unknown alias %q", alias)
	}
	return t, nil
}

func (c *compiler) resolve(n *node, ref PropertyRef) (queryir.Column, error) {
	col, _, err := c.resolveTyped(n, ref)
	return col, err
}

// resolveTyped maps a reference to the column holding it and its type.
func (c *compiler) resolveTyped(from *node, ref PropertyRef) (queryir.Column, schema.PropertyType, error) {
	n, err := c.target(from, ref.alias)
	if err != nil {
		return queryir.Column{}, "", err
	}
	a := c.alias[n]
	t := c.tables[n]

	switch ref.kind {
	case refRevision, refRevisionType:
		if t.Revision == "" {
			return queryir.Column{}, "", ir.NewConfigurationError(n.entityName(), "",
				"%s is not available on a not audited entity", ref)
		}
		if ref.kind == refRevision {
			return queryir.Col(a, t.Revision), schema.TypeInt, nil
		}
		return queryir.Col(a, t.RevisionType), schema.TypeInt, nil
	}

	if comp := n.component; comp != nil {
		if ref.kind != refProperty {
			return queryir.Column{}, "", ir.NewConfigurationError(n.entityName(), comp.Property,
				"%s is not available on a component", ref)
		}
		for _, p := range comp.Properties {
			if p.Name != ref.name {
				continue
			}
			if comp.Kind == schema.ComponentOne {
				return queryir.Col(a, comp.Column(p)), p.Type, nil
			}
			return queryir.Col(a, p.Column), p.Type, nil
		}
		return queryir.Column{}, "", ir.NewConfigurationError(n.entityName(), comp.Property,
			"component has no property %q", ref.name)
	}

	e := n.entity
	switch ref.kind {
	case refID:
		return queryir.Col(a, e.ID.Column), e.ID.Type, nil
	case refRelatedID:
		rel, ok := e.Relation(ref.name)
		if !ok || rel.Kind != schema.ToOne {
			return queryir.Column{}, "", ir.NewConfigurationError(e.Name, ref.name,
				"related id requires an owning to-one relation")
		}
		return queryir.Col(a, rel.ReferenceColumn), rel.ReferenceType, nil
	}

	if p, ok := e.Property(ref.name); ok {
		return queryir.Col(a, p.Column), p.Type, nil
	}
	if ref.name == e.ID.Name {
		return queryir.Col(a, e.ID.Column), e.ID.Type, nil
	}
	if compName, propName, ok := strings.Cut(ref.name, "."); ok {
		if comp, found := e.Component(compName); found && comp.Kind == schema.ComponentOne {
			for _, p := range comp.Properties {
				if p.Name == propName {
					return queryir.Col(a, comp.Column(p)), p.Type, nil
				}
			}
		}
	}
	if _, ok := e.Relation(ref.name); ok {
		return queryir.Column{}, "", ir.NewConfigurationError(e.Name, ref.name,
			"criteria cannot reference relation property %q; use RelatedID or traverse it", ref.name)
	}
	return queryir.Column{}, "", ir.NewConfigurationError(e.Name, ref.name, "unknown property %q", ref.name)
}

func (c *compiler) output(expr queryir.Expr, typ schema.PropertyType) string {
	name := fmt.Sprintf("c%d", len(c.sel.Outputs))
	c.sel.Outputs = append(c.sel.Outputs, queryir.Output{Expr: expr, As: name})
	c.types = append(c.types, typ)
	return name
}

// outputs selects the projections, or the root entity when there are none.
func (c *compiler) outputs() error {
	var projected []struct {
		n *node
		p Projection
	}
	c.walk(c.q.root, func(n *node) error {
		for _, p := range n.projections {
			projected = append(projected, struct {
				n *node
				p Projection
			}{n, p})
		}
		return nil
	})

	root := c.q.root
	rootAlias := c.alias[root]
	rootTable := c.tables[root]
	stable := []queryir.Column{queryir.Col(rootAlias, root.entity.ID.Column), queryir.Col(rootAlias, rootTable.Revision)}

	if c.q.mode == modeRevisions && len(root.orders) == 0 {
		// DEL and ADD of one identity may share a revision; DEL was written first.
		c.sel.OrderBy = append(c.sel.OrderBy,
			queryir.Order{Expr: queryir.Col(rootAlias, rootTable.Revision)},
			queryir.Order{Expr: queryir.Col(rootAlias, rootTable.RevisionType), Desc: true})
	}

	if len(projected) == 0 {
		c.entitySlot(root)
		if c.q.mode == modeRevisions {
			if !c.q.entitiesOnly {
				r := c.revinfo
				c.slots = append(c.slots, slot{
					kind: slotRevision,
					outputs: []string{
						c.output(queryir.Col(rootAlias, rootTable.Revision), schema.TypeInt),
						c.output(queryir.Col(r, schema.RevisionInfoTimestampField), schema.TypeInt),
					},
				})
				c.slots = append(c.slots, slot{
					kind:    slotRevisionType,
					outputs: []string{c.output(queryir.Col(rootAlias, rootTable.RevisionType), schema.TypeInt)},
				})
			}
			c.sel.StableKey = stable[:1]
			return nil
		}
		c.sel.Distinct = len(c.sel.Joins) > 0
		c.output(queryir.Col(rootAlias, rootTable.Revision), schema.TypeInt)
		c.sel.StableKey = stable
		return nil
	}

	aggregates := 0
	for _, pr := range projected {
		if pr.p.aggregate() {
			aggregates++
		}
	}
	if aggregates > 0 && aggregates < len(projected) {
		return ir.NewConfigurationError(root.entity.Name, "",
			"aggregate projections cannot be combined with value projections")
	}

	for _, pr := range projected {
		if err := c.projection(pr.n, pr.p); err != nil {
			return err
		}
	}
	if aggregates == 0 {
		c.sel.StableKey = append(stable, c.joinedKeys()...)
	}
	return nil
}

func (c *compiler) projection(n *node, p Projection) error {
	if p.kind == projectEntity {
		t, err := c.target(n, p.alias)
		if err != nil {
			return err
		}
		c.entitySlot(t)
		return nil
	}

	col, typ, err := c.resolveTyped(n, p.ref)
	if err != nil {
		return err
	}
	var expr queryir.Expr = col
	switch p.kind {
	case projectCount:
		expr, typ = queryir.Aggregate{Func: queryir.AggCount, Arg: col}, schema.TypeInt
	case projectCountDistinct:
		expr, typ = queryir.Aggregate{Func: queryir.AggCount, Arg: col, Distinct: true}, schema.TypeInt
	case projectMax:
		expr = queryir.Aggregate{Func: queryir.AggMax, Arg: col}
	}
	kind := slotValue
	if p.kind == projectValue && p.ref.kind == refRevisionType {
		kind = slotRevisionType
	}
	c.slots = append(c.slots, slot{kind: kind, outputs: []string{c.output(expr, typ)}})
	return nil
}

// entitySlot outputs every column of the node's snapshot.
func (c *compiler) entitySlot(n *node) {
	a := c.alias[n]
	s := slot{kind: slotEntity, entity: n.entity}
	add := func(column string, typ schema.PropertyType) {
		s.outputs = append(s.outputs, c.output(queryir.Col(a, column), typ))
		s.columns = append(s.columns, column)
	}

	if comp := n.component; comp != nil {
		s.kind = slotComponent
		s.component = comp
		s.prefixed = comp.Kind == schema.ComponentOne
		for _, p := range comp.Properties {
			if s.prefixed {
				add(comp.Column(p), p.Type)
			} else {
				add(p.Column, p.Type)
			}
		}
		c.slots = append(c.slots, s)
		return
	}

	add(n.entity.ID.Column, n.entity.ID.Type)
	for _, col := range n.entity.DataColumns() {
		add(col.Name, col.Type)
	}
	c.slots = append(c.slots, s)
}

// joinedKeys returns the key columns of every joined node, so rows of
// to-many branches order deterministically.
func (c *compiler) joinedKeys() []queryir.Column {
	var keys []queryir.Column
	for _, n := range c.joined {
		for _, k := range c.tables[n].Keys {
			keys = append(keys, queryir.Col(c.alias[n], k.Name))
		}
	}
	return keys
}
