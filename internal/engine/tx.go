package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/timeline/internal/accumulator"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/unit"
)

// Event is an entity lifecycle callback from the persistence layer.
// OldState and NewState are aligned with PropertyNames; either is nil
// when the callback has no such state.
type Event struct {
	Entity        string
	ID            any
	PropertyNames []string
	OldState      []any
	NewState      []any
}

// CollectionEvent reports elements added to and removed from a collection
// property. Elements are target identities for entity collections and
// property maps for component collections. OwnerState is the owner's
// current snapshot, aligned with OwnerNames.
type CollectionEvent struct {
	Entity     string
	OwnerID    any
	Property   string
	Added      []any
	Removed    []any
	OwnerNames []string
	OwnerState []any
}

// Tx collects the audited changes of one host transaction.
// A Tx must not be shared across goroutines.
type Tx struct {
	engine  *Engine
	token   string
	logger  *slog.Logger
	acc     *accumulator.Accumulator
	changed []string
	closed  bool
}

// Token returns the transaction's correlation token.
func (tx *Tx) Token() string {
	return tx.token
}

// Pending returns the number of change units waiting for Commit.
func (tx *Tx) Pending() int {
	return tx.acc.Len()
}

// OnPostInsert records the addition of a record.
func (tx *Tx) OnPostInsert(ev Event) error {
	return tx.lifecycle("insert", ev, func(e *schema.Entity, id ir.IRValue) (unit.Unit, error) {
		state, err := snapshot(e, ev.PropertyNames, ev.NewState)
		if err != nil {
			return unit.Unit{}, err
		}
		return unit.Unit{Entity: e.Name, ID: id, Kind: unit.Add, New: state}, nil
	})
}

// OnPostUpdate records a modification. An update that changes no tracked
// property is ignored.
func (tx *Tx) OnPostUpdate(ev Event) error {
	return tx.lifecycle("update", ev, func(e *schema.Entity, id ir.IRValue) (unit.Unit, error) {
		oldState, err := snapshot(e, ev.PropertyNames, ev.OldState)
		if err != nil {
			return unit.Unit{}, err
		}
		newState, err := snapshot(e, ev.PropertyNames, ev.NewState)
		if err != nil {
			return unit.Unit{}, err
		}
		return unit.Unit{Entity: e.Name, ID: id, Kind: unit.Modify, Old: oldState, New: newState}, nil
	})
}

// OnPostDelete records the removal of a record. OldState is its last
// known snapshot.
func (tx *Tx) OnPostDelete(ev Event) error {
	return tx.lifecycle("delete", ev, func(e *schema.Entity, id ir.IRValue) (unit.Unit, error) {
		state, err := snapshot(e, ev.PropertyNames, ev.OldState)
		if err != nil {
			return unit.Unit{}, err
		}
		return unit.Unit{Entity: e.Name, ID: id, Kind: unit.Delete, Old: state}, nil
	})
}

// OnInverseChange records that the record is the target of a changed
// association it does not own. The record gets a MOD row carrying NewState
// unless another change to it is written in the same revision.
func (tx *Tx) OnInverseChange(ev Event) error {
	return tx.lifecycle("inverse change", ev, func(e *schema.Entity, id ir.IRValue) (unit.Unit, error) {
		state, err := snapshot(e, ev.PropertyNames, ev.NewState)
		if err != nil {
			return unit.Unit{}, err
		}
		return unit.Unit{Entity: e.Name, ID: id, Kind: unit.FakeBidirectional, OwnerState: state}, nil
	})
}

// OnCollectionChange records membership changes of a collection.
//
// Owning collections (to_many_middle and component collections) write
// middle table rows. Changes of a not-owning collection only touch the
// owner, and only when revision_on_collection_change is enabled.
func (tx *Tx) OnCollectionChange(ev CollectionEvent) error {
	if tx.closed {
		return ir.NewTransactionRequiredError(ev.Entity, "collection change")
	}
	e, ok := tx.audited(ev.Entity)
	if !ok {
		return nil
	}
	id, err := ir.FromAny(ev.OwnerID)
	if err != nil {
		return fmt.Errorf("collection change of %s: identity: %w", e.Name, err)
	}
	ownerState, err := snapshot(e, ev.OwnerNames, ev.OwnerState)
	if err != nil {
		return err
	}

	rel, comp, err := tx.engine.registry.Association(e.Name, ev.Property)
	if err != nil {
		return err
	}
	switch {
	case comp != nil && comp.Kind == schema.ComponentMany:
	case rel != nil && rel.Kind == schema.ToManyMiddle:
	case rel != nil && (rel.Kind == schema.ToManyNotOwning || rel.Kind == schema.ToManyMiddleNotOwning):
		if !tx.engine.revisionOnCollectionChange {
			return nil
		}
		return tx.record(unit.Unit{Entity: e.Name, ID: id, Kind: unit.FakeBidirectional, OwnerState: ownerState})
	default:
		return ir.NewConfigurationError(e.Name, ev.Property, "property is not a collection")
	}

	var changes []unit.ElementChange
	for _, raw := range ev.Removed {
		v, err := collectionElement(e, ev.Property, comp, raw)
		if err != nil {
			return err
		}
		changes = append(changes, unit.ElementChange{Value: v, Removed: true})
	}
	for _, raw := range ev.Added {
		v, err := collectionElement(e, ev.Property, comp, raw)
		if err != nil {
			return err
		}
		changes = append(changes, unit.ElementChange{Value: v})
	}
	return tx.record(unit.Unit{
		Entity:     e.Name,
		ID:         id,
		Kind:       unit.CollectionChange,
		Property:   ev.Property,
		Changes:    changes,
		OwnerState: ownerState,
	})
}

// collectionElement converts one collection element. Elements are middle table key
// columns, so null elements and null component properties are rejected.
func collectionElement(e *schema.Entity, property string, comp *schema.ComponentDescription, raw any) (ir.IRValue, error) {
	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("collection change of %s.%s: element: %w", e.Name, property, err)
	}
	if comp != nil {
		if _, err := comp.FlattenElement(v); err != nil {
			return nil, ir.NewConfigurationError(e.Name, property, "%v", err)
		}
		return v, nil
	}
	if ir.IsNull(v) {
		return nil, ir.NewConfigurationError(e.Name, property, "null collection element")
	}
	return v, nil
}

func (tx *Tx) lifecycle(op string, ev Event, build func(*schema.Entity, ir.IRValue) (unit.Unit, error)) error {
	if tx.closed {
		return ir.NewTransactionRequiredError(ev.Entity, op)
	}
	e, ok := tx.audited(ev.Entity)
	if !ok {
		return nil
	}
	id, err := ir.FromAny(ev.ID)
	if err != nil {
		return fmt.Errorf("%s of %s: identity: %w", op, e.Name, err)
	}
	u, err := build(e, id)
	if err != nil {
		return fmt.Errorf("%s of %s: %w", op, e.Name, err)
	}
	return tx.record(u)
}

// audited returns the entity when changes to it are audited.
func (tx *Tx) audited(name string) (*schema.Entity, bool) {
	e, ok := tx.engine.registry.Entity(name)
	if !ok || e.NotAudited {
		tx.logger.Debug("ignoring change of not audited entity", "entity", name)
		return nil, false
	}
	return e, true
}

func (tx *Tx) record(u unit.Unit) error {
	if !u.ContainsWork() {
		tx.logger.Debug("ignoring change without work", "entity", u.Entity, "kind", u.Kind.String())
		return nil
	}
	return tx.acc.Record(u)
}

// snapshot builds the tracked snapshot of a record from aligned property
// names and values.
func snapshot(e *schema.Entity, names []string, values []any) (ir.IRObject, error) {
	if values == nil {
		return nil, nil
	}
	if len(names) != len(values) {
		return nil, fmt.Errorf("%d property names for %d values", len(names), len(values))
	}
	obj := make(ir.IRObject, len(names))
	for i, name := range names {
		v, err := ir.FromAny(values[i])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		obj[name] = v
	}
	return e.Track(obj), nil
}

// Commit writes the reduced changes as one revision and closes the
// transaction. A transaction without audited work returns the zero
// Revision and consumes no revision number.
func (tx *Tx) Commit(ctx context.Context) (ir.Revision, error) {
	if tx.closed {
		return ir.Revision{}, ir.NewTransactionRequiredError("", "commit")
	}
	tx.closed = true

	facts := tx.acc.ReduceAndFlush()
	if len(facts) == 0 {
		tx.logger.Debug("transaction committed without audited changes")
		return ir.Revision{}, nil
	}

	rev, rows, err := tx.engine.write(ctx, facts, tx.changed)
	if err != nil {
		tx.logger.Error("flush aborted", "facts", len(facts), "error", err)
		return ir.Revision{}, err
	}
	tx.logger.Info("revision written",
		"revision", rev.ID,
		"facts", len(facts),
		"rows", rows,
	)
	return rev, nil
}

// Rollback discards every pending change. Rolling back a closed
// transaction is a no-op.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.logger.Debug("transaction rolled back", "discarded", tx.acc.Len())
	tx.acc.Discard()
}
