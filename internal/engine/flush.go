package engine

import (
	"context"
	"fmt"

	"github.com/roach88/timeline/internal/accumulator"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/store"
	"github.com/roach88/timeline/internal/strategy"
	"github.com/roach88/timeline/internal/unit"
)

// write persists reduced facts as one revision inside one store
// transaction and returns the revision and the number of rows written.
func (e *Engine) write(ctx context.Context, facts []accumulator.Fact, changed []string) (ir.Revision, int, error) {
	stx, err := e.store.Begin(ctx)
	if err != nil {
		return ir.Revision{}, 0, err
	}
	defer stx.Rollback()

	rev, err := e.seq.Next(ctx, stx)
	if err != nil {
		return ir.Revision{}, 0, err
	}
	if e.trackEntitiesChanged {
		rev.ChangedEntityNames = changed
		if err := stx.RecordChangedEntities(ctx, rev.ID, changed); err != nil {
			return ir.Revision{}, 0, err
		}
	}

	f := &flush{
		engine: e,
		tx:     stx,
		scope:  e.strategy.NewScope(),
		rev:    rev,
		owners: make(map[unit.Key]bool),
	}
	for _, fact := range facts {
		if fact.Unit.Kind.IsLifecycle() {
			f.owners[fact.Key] = true
		}
	}
	for _, fact := range facts {
		if err := f.write(ctx, fact); err != nil {
			return ir.Revision{}, 0, err
		}
	}

	if err := stx.Commit(); err != nil {
		return ir.Revision{}, 0, fmt.Errorf("commit revision %d: %w", rev.ID, err)
	}
	return rev, f.rows, nil
}

// flush writes the facts of one revision.
type flush struct {
	engine *Engine
	tx     *store.Tx
	scope  *strategy.Scope
	rev    ir.Revision
	rows   int

	// owners holds the records that already have an entity row in this
	// revision, or will get one from a lifecycle fact.
	owners map[unit.Key]bool
}

func (f *flush) write(ctx context.Context, fact accumulator.Fact) error {
	u := fact.Unit
	if u.Kind != unit.CollectionChange {
		return f.entityRow(ctx, u.Entity, u.ID, u.RevisionType(), u.State())
	}

	if err := f.collection(ctx, u); err != nil {
		return err
	}
	if f.engine.revisionOnCollectionChange && !f.owners[fact.Key] {
		f.owners[fact.Key] = true
		return f.entityRow(ctx, u.Entity, u.ID, ir.RevisionMod, u.OwnerState)
	}
	return nil
}

func (f *flush) entityRow(ctx context.Context, entity string, id ir.IRValue, typ ir.RevisionType, state ir.IRObject) error {
	e, _ := f.engine.registry.Entity(entity)
	data, err := e.Flatten(state)
	if err != nil {
		return fmt.Errorf("flatten %s: %w", entity, err)
	}
	row := ir.HistoricalRow{
		Entity:       entity,
		ID:           id,
		Revision:     f.rev.ID,
		RevisionType: typ,
		Data:         data,
	}
	if err := f.engine.strategy.WriteFact(ctx, f.tx, f.scope, f.engine.tables[entity], f.rev, row); err != nil {
		return fmt.Errorf("write %s %s: %w", typ, entity, err)
	}
	f.rows++
	return nil
}

func (f *flush) collection(ctx context.Context, u unit.Unit) error {
	rel, comp, err := f.engine.registry.Association(u.Entity, u.Property)
	if err != nil {
		return err
	}

	var (
		m       *schema.MiddleDescription
		element func(ir.IRValue) (ir.IRObject, error)
	)
	if comp != nil {
		m = comp.Middle
		element = comp.FlattenElement
	} else {
		m = rel.Middle
		element = func(v ir.IRValue) (ir.IRObject, error) {
			return ir.IRObject{m.Elements[0].Name: v}, nil
		}
	}
	t, ok := f.engine.middles[m.Table]
	if !ok {
		return ir.NewConfigurationError(u.Entity, u.Property, "middle table %s is not audited", m.Table)
	}

	for _, c := range u.Changes {
		el, err := element(c.Value)
		if err != nil {
			return err
		}
		typ := ir.RevisionAdd
		if c.Removed {
			typ = ir.RevisionDel
		}
		row := ir.MiddleTableRow{
			Table:        t.Name,
			OwnerID:      u.ID,
			Element:      el,
			Revision:     f.rev.ID,
			RevisionType: typ,
		}
		if err := f.engine.strategy.WriteMiddle(ctx, f.tx, f.scope, t, f.rev, row); err != nil {
			return fmt.Errorf("write %s %s.%s: %w", typ, u.Entity, u.Property, err)
		}
		f.rows++
	}
	return nil
}
