package schema

// Naming holds the configurable names of audit tables and bookkeeping columns.
type Naming struct {
	TablePrefix string `json:"table_prefix"`
	TableSuffix string `json:"table_suffix"`

	RevisionField             string `json:"revision_field"`
	RevisionTypeField         string `json:"revision_type_field"`
	RevisionEndField          string `json:"revision_end_field"`
	RevisionEndTimestampField string `json:"revision_end_timestamp_field"`
}

// Fixed names of the revision log tables. They are created by the store
// migrations and are not configurable.
const (
	RevisionInfoTable          = "REVINFO"
	RevisionInfoIDColumn       = "REV"
	RevisionInfoTimestampField = "REVTSTMP"
	ChangedEntitiesTable       = "REVCHANGES"
	ChangedEntityNameField     = "ENTITYNAME"
)

// DefaultNaming returns the conventional layout: no prefix, "_AUD" suffix,
// REV / REVTYPE / REVEND / REVEND_TSTMP bookkeeping columns.
func DefaultNaming() Naming {
	return Naming{
		TableSuffix:               "_AUD",
		RevisionField:             "REV",
		RevisionTypeField:         "REVTYPE",
		RevisionEndField:          "REVEND",
		RevisionEndTimestampField: "REVEND_TSTMP",
	}
}

// AuditTableName returns the audit table of an entity. A custom
// AuditTable on the entity wins over prefix and suffix.
func (n Naming) AuditTableName(e *Entity) string {
	if e.AuditTable != "" {
		return e.AuditTable
	}
	return n.TablePrefix + e.Table + n.TableSuffix
}

// MiddleTableName returns the audit table of a middle table.
func (n Naming) MiddleTableName(m MiddleDescription) string {
	return n.TablePrefix + m.Table + n.TableSuffix
}

// Table is the physical layout of one audit table as decided by an audit
// strategy. Key columns together with the revision and revision type
// columns form the primary key.
type Table struct {
	Name   string `json:"name"`
	Entity string `json:"entity,omitempty"`

	Keys []Column `json:"keys"`
	Data []Column `json:"data,omitempty"`

	Revision     string `json:"revision"`
	RevisionType string `json:"revision_type"`

	// RevisionEnd and RevisionEndTimestamp are empty when the strategy does
	// not track validity intervals.
	RevisionEnd          string `json:"revision_end,omitempty"`
	RevisionEndTimestamp string `json:"revision_end_timestamp,omitempty"`
}

// HasValidity reports whether rows of the table carry a validity interval.
func (t Table) HasValidity() bool {
	return t.RevisionEnd != ""
}

// KeyNames returns the key column names in order.
func (t Table) KeyNames() []string {
	names := make([]string, len(t.Keys))
	for i, c := range t.Keys {
		names[i] = c.Name
	}
	return names
}

// DataNames returns the data column names in order.
func (t Table) DataNames() []string {
	names := make([]string, len(t.Data))
	for i, c := range t.Data {
		names[i] = c.Name
	}
	return names
}
