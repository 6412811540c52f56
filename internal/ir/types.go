package ir

import (
	"fmt"
	"time"
)

// RevisionType discriminates the fact a historical row records.
// The ordinal values are persisted in the REVTYPE column.
type RevisionType int8

const (
	// RevisionAdd marks the row that created a record (or a collection membership).
	RevisionAdd RevisionType = 0
	// RevisionMod marks a row that changed an existing record.
	RevisionMod RevisionType = 1
	// RevisionDel marks the terminal row of a removed record (or membership).
	RevisionDel RevisionType = 2
)

// String returns ADD, MOD or DEL.
func (t RevisionType) String() string {
	switch t {
	case RevisionAdd:
		return "ADD"
	case RevisionMod:
		return "MOD"
	case RevisionDel:
		return "DEL"
	default:
		return fmt.Sprintf("RevisionType(%d)", int8(t))
	}
}

// ParseRevisionType parses ADD/MOD/DEL (case sensitive).
func ParseRevisionType(s string) (RevisionType, error) {
	switch s {
	case "ADD":
		return RevisionAdd, nil
	case "MOD":
		return RevisionMod, nil
	case "DEL":
		return RevisionDel, nil
	default:
		return 0, fmt.Errorf("unknown revision type %q", s)
	}
}

// Revision is the unit of "point in time": one per committed transaction
// that produced at least one change.
//
// Immutable once assigned. Timestamp is captured once per flush and shared
// by every row written in that flush.
type Revision struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// ChangedEntityNames lists the distinct entity names changed in this
	// revision. Populated when entity-name tracking is enabled.
	ChangedEntityNames []string `json:"changed_entity_names,omitempty"`
}

// HistoricalRow is one durable fact about one record at one revision.
//
// Under the validity strategy, for a given identity at most one row has a
// nil RevisionEnd at any time (the open row).
type HistoricalRow struct {
	Entity       string       `json:"entity"`
	ID           IRValue      `json:"id"`
	Revision     int64        `json:"revision"`
	RevisionType RevisionType `json:"revision_type"`

	// Data is the tracked snapshot. On the write path it is keyed by column
	// name; query results key it by property name.
	Data IRObject `json:"data"`

	// RevisionEnd is the revision at which this row stopped being current.
	// Only written by the validity strategy.
	RevisionEnd *int64 `json:"revision_end,omitempty"`

	// RevisionEndTimestamp is the timestamp of RevisionEnd, when enabled.
	RevisionEndTimestamp *time.Time `json:"revision_end_timestamp,omitempty"`
}

// MiddleTableRow is one collection-membership fact at a revision.
//
// Element holds the element's key columns: the target identity column for
// entity collections, or every value column for embedded element collections.
type MiddleTableRow struct {
	Table        string       `json:"table"`
	OwnerID      IRValue      `json:"owner_id"`
	Element      IRObject     `json:"element"`
	Revision     int64        `json:"revision"`
	RevisionType RevisionType `json:"revision_type"`
	RevisionEnd  *int64       `json:"revision_end,omitempty"`
}
