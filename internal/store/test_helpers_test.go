package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/timeline/internal/schema"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// personTable is a validity-layout audit table with one column of each type.
func personTable() schema.Table {
	return schema.Table{
		Name:   "person_AUD",
		Entity: "Person",
		Keys:   []schema.Column{{Name: "id", Type: schema.TypeInt}},
		Data: []schema.Column{
			{Name: "name", Type: schema.TypeString},
			{Name: "active", Type: schema.TypeBool},
		},
		Revision:             "REV",
		RevisionType:         "REVTYPE",
		RevisionEnd:          "REVEND",
		RevisionEndTimestamp: "REVEND_TSTMP",
	}
}

var drivers = []string{DriverCGO, DriverPure}
