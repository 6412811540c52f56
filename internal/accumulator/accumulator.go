// Package accumulator collects the change units of one transaction and
// reduces them to the facts written at flush.
package accumulator

import (
	"fmt"
	"sort"

	"github.com/roach88/timeline/internal/unit"
)

// Fact is one reduced change unit ready to be written.
type Fact struct {
	Key  unit.Key
	Unit unit.Unit
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithObserver registers a function receiving the sorted distinct entity
// names of every non-empty flush.
func WithObserver(fn func(entityNames []string)) Option {
	return func(a *Accumulator) {
		a.observer = fn
	}
}

// Accumulator groups change units by record and merges them.
//
// Per record it keeps an ordered list of units. Lifecycle units (add,
// modify, delete, fake) merge with the last lifecycle unit of the record;
// collection changes merge with the change of the same property.
//
// An Accumulator belongs to one transaction and is not safe for concurrent use.
type Accumulator struct {
	order    []unit.Key
	entries  map[unit.Key][]unit.Unit
	observer func([]string)
}

// New creates an empty accumulator.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{entries: make(map[unit.Key][]unit.Unit)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record adds a unit, merging it with any unit already recorded for the
// same record. Merge errors leave the accumulator unchanged.
func (a *Accumulator) Record(u unit.Unit) error {
	k := u.Key()
	list, seen := a.entries[k]
	if !seen {
		a.order = append(a.order, k)
	}

	i := mergeTarget(list, u)
	if i < 0 {
		a.entries[k] = append(list, u)
		return nil
	}

	out, err := unit.Merge(list[i], u)
	if err != nil {
		if !seen {
			a.order = a.order[:len(a.order)-1]
		}
		return fmt.Errorf("record %s change: %w", u.Kind, err)
	}

	switch {
	case out.IsSeparate():
		list = append(list, u)
	case out.IsCancel():
		list = append(list[:i:i], list[i+1:]...)
		if !hasLifecycle(list) {
			// The record never reaches history, nor do its collections.
			list = nil
		}
	default:
		merged, _ := out.Unit()
		list[i] = merged
	}
	a.entries[k] = list
	return nil
}

// mergeTarget returns the index of the unit u merges with, or -1.
func mergeTarget(list []unit.Unit, u unit.Unit) int {
	if u.Kind.IsLifecycle() {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Kind.IsLifecycle() {
				return i
			}
		}
		return -1
	}
	for i, existing := range list {
		if existing.Kind == unit.CollectionChange && existing.Property == u.Property {
			return i
		}
	}
	return -1
}

func hasLifecycle(list []unit.Unit) bool {
	for _, u := range list {
		if u.Kind.IsLifecycle() {
			return true
		}
	}
	return false
}

// Len returns the number of pending units.
func (a *Accumulator) Len() int {
	n := 0
	for _, list := range a.entries {
		n += len(list)
	}
	return n
}

// ReduceAndFlush returns the reduced facts and clears the accumulator.
//
// Records appear in the order they were first recorded; the facts of one
// record keep their merge order. A second call without Record returns nil.
func (a *Accumulator) ReduceAndFlush() []Fact {
	var facts []Fact
	names := make(map[string]bool)
	for _, k := range a.order {
		for _, u := range a.entries[k] {
			facts = append(facts, Fact{Key: k, Unit: u})
			names[u.Entity] = true
		}
	}
	a.Discard()

	if len(facts) > 0 && a.observer != nil {
		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)
		a.observer(sorted)
	}
	return facts
}

// Discard drops every pending unit without producing facts.
func (a *Accumulator) Discard() {
	a.order = nil
	a.entries = make(map[unit.Key][]unit.Unit)
}
