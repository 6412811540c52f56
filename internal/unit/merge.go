package unit

import (
	"github.com/roach88/timeline/internal/ir"
)

type outcomeKind int

const (
	outcomeReplace outcomeKind = iota
	outcomeCancel
	outcomeSeparate
)

// Outcome is the explicit result of merging two units.
type Outcome struct {
	kind outcomeKind
	unit Unit
}

// Replace means both units collapse into u.
func Replace(u Unit) Outcome { return Outcome{kind: outcomeReplace, unit: u} }

// Cancel means both units vanish: the pair has no effect on history.
func Cancel() Outcome { return Outcome{kind: outcomeCancel} }

// Separate means both units are kept as independent facts in record order.
func Separate() Outcome { return Outcome{kind: outcomeSeparate} }

// IsCancel reports a zero-effect merge.
func (o Outcome) IsCancel() bool { return o.kind == outcomeCancel }

// IsSeparate reports that the units were not merged.
func (o Outcome) IsSeparate() bool { return o.kind == outcomeSeparate }

// Unit returns the merged unit of a Replace outcome.
func (o Outcome) Unit() (Unit, bool) {
	return o.unit, o.kind == outcomeReplace
}

func (o Outcome) String() string {
	switch o.kind {
	case outcomeCancel:
		return "Cancel"
	case outcomeSeparate:
		return "Separate"
	default:
		return "Replace(" + o.unit.Kind.String() + ")"
	}
}

// Merge applies incoming after existing within one transaction.
//
// Merge is not commutative. Both units must describe the same record;
// anything else is a consistency error. Delete followed by Add is never
// collapsed into a Modify, and collection changes are never netted out.
func Merge(existing, incoming Unit) (Outcome, error) {
	if existing.Key() != incoming.Key() {
		return Outcome{}, ir.NewConsistencyError(existing.Entity, existing.ID,
			"cannot merge change of %s %s into change of %s %s",
			incoming.Entity, ir.CanonicalKey(incoming.ID), existing.Entity, ir.CanonicalKey(existing.ID))
	}

	switch existing.Kind {
	case Add:
		return mergeIntoAdd(existing, incoming), nil
	case Modify:
		return mergeIntoModify(existing, incoming), nil
	case Delete:
		return mergeIntoDelete(existing, incoming), nil
	case CollectionChange:
		return mergeIntoCollection(existing, incoming), nil
	case FakeBidirectional:
		return mergeIntoFake(existing, incoming), nil
	default:
		return Outcome{}, ir.NewConsistencyError(existing.Entity, existing.ID, "unknown change kind %s", existing.Kind)
	}
}

func mergeIntoAdd(existing, incoming Unit) Outcome {
	switch incoming.Kind {
	case Add, Modify:
		merged := existing
		merged.New = incoming.New
		return Replace(merged)
	case Delete:
		return Cancel()
	case FakeBidirectional:
		return Replace(existing)
	default:
		return Separate()
	}
}

func mergeIntoModify(existing, incoming Unit) Outcome {
	switch incoming.Kind {
	case Add, Modify:
		merged := existing
		merged.New = incoming.New
		return Replace(merged)
	case Delete:
		last := incoming.Old
		if last == nil {
			last = existing.New
		}
		return Replace(Unit{
			Entity: existing.Entity,
			ID:     existing.ID,
			Kind:   Delete,
			Old:    last,
		})
	case FakeBidirectional:
		return Replace(existing)
	default:
		return Separate()
	}
}

func mergeIntoDelete(existing, incoming Unit) Outcome {
	switch incoming.Kind {
	case Add, CollectionChange:
		return Separate()
	default:
		return Replace(existing)
	}
}

func mergeIntoCollection(existing, incoming Unit) Outcome {
	if incoming.Kind != CollectionChange || incoming.Property != existing.Property {
		return Separate()
	}
	merged := existing
	merged.Changes = unionChanges(existing.Changes, incoming.Changes)
	if incoming.OwnerState != nil {
		merged.OwnerState = incoming.OwnerState
	}
	return Replace(merged)
}

func mergeIntoFake(existing, incoming Unit) Outcome {
	switch incoming.Kind {
	case Add, Modify, Delete:
		return Replace(incoming)
	case FakeBidirectional:
		merged := existing
		merged.OwnerState = incoming.OwnerState
		return Replace(merged)
	default:
		return Separate()
	}
}

// unionChanges appends b to a in order, dropping exact duplicates.
// An add and a remove of the same element are both kept.
func unionChanges(a, b []ElementChange) []ElementChange {
	out := make([]ElementChange, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]ElementChange{a, b} {
		for _, c := range list {
			k := c.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}
