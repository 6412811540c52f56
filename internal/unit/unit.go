package unit

import (
	"fmt"

	"github.com/roach88/timeline/internal/ir"
)

// Kind is the closed set of change-unit kinds.
type Kind int

const (
	Add Kind = iota
	Modify
	Delete
	CollectionChange
	FakeBidirectional
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "Add"
	case Modify:
		return "Modify"
	case Delete:
		return "Delete"
	case CollectionChange:
		return "CollectionChange"
	case FakeBidirectional:
		return "FakeBidirectional"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsLifecycle reports whether the kind describes the record itself rather
// than one of its collections.
func (k Kind) IsLifecycle() bool {
	return k != CollectionChange
}

// ElementChange is one element added to or removed from a collection.
// Value is the target identity for entity collections, or the element
// object (keyed by component property name) for component collections.
type ElementChange struct {
	Value   ir.IRValue `json:"value"`
	Removed bool       `json:"removed,omitempty"`
}

func (c ElementChange) key() string {
	if c.Removed {
		return "-" + ir.CanonicalKey(c.Value)
	}
	return "+" + ir.CanonicalKey(c.Value)
}

// Unit is one pending mutation to one record within a transaction.
type Unit struct {
	Entity string     `json:"entity"`
	ID     ir.IRValue `json:"id"`
	Kind   Kind       `json:"kind"`

	// Old holds the values before a Modify, or the last-known state of a Delete.
	Old ir.IRObject `json:"old,omitempty"`
	// New holds the values after an Add or Modify.
	New ir.IRObject `json:"new,omitempty"`

	// Property is the collection property of a CollectionChange.
	Property string          `json:"property,omitempty"`
	Changes  []ElementChange `json:"changes,omitempty"`

	// OwnerState is the current snapshot of the record for CollectionChange
	// and FakeBidirectional units.
	OwnerState ir.IRObject `json:"owner_state,omitempty"`
}

// Key identifies the record a unit applies to.
type Key struct {
	Entity string
	ID     string
}

// Key returns the accumulator key of the unit: the entity name and the
// canonical JSON of its identity.
func (u Unit) Key() Key {
	return Key{Entity: u.Entity, ID: ir.CanonicalKey(u.ID)}
}

// ContainsWork reports whether recording the unit can change history.
// A Modify whose old and new values agree on every reported property and a
// CollectionChange without element changes contain no work.
func (u Unit) ContainsWork() bool {
	switch u.Kind {
	case Modify:
		if u.Old == nil {
			return true
		}
		for k, v := range u.New {
			if !ir.Equal(u.Old.Get(k), v) {
				return true
			}
		}
		for k, v := range u.Old {
			if _, ok := u.New[k]; !ok && !ir.IsNull(v) {
				return true
			}
		}
		return false
	case CollectionChange:
		return len(u.Changes) > 0
	default:
		return true
	}
}

// State returns the snapshot persisted for the unit.
func (u Unit) State() ir.IRObject {
	switch u.Kind {
	case Add, Modify:
		return u.New
	case Delete:
		return u.Old
	default:
		return u.OwnerState
	}
}

// RevisionType returns the revision type of the owner row the unit produces.
// CollectionChange and FakeBidirectional units modify their owner.
func (u Unit) RevisionType() ir.RevisionType {
	switch u.Kind {
	case Add:
		return ir.RevisionAdd
	case Delete:
		return ir.RevisionDel
	default:
		return ir.RevisionMod
	}
}
