package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/timeline/internal/schema"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that cannot be used unquoted in SQL.
// Table and column names are interpolated into statements, so every name
// passes through here first.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

func validateTable(t schema.Table) error {
	names := []string{t.Name, t.Revision, t.RevisionType}
	names = append(names, t.KeyNames()...)
	names = append(names, t.DataNames()...)
	if t.RevisionEnd != "" {
		names = append(names, t.RevisionEnd)
	}
	if t.RevisionEndTimestamp != "" {
		names = append(names, t.RevisionEndTimestamp)
	}
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	if len(t.Keys) == 0 {
		return fmt.Errorf("table %s: no key columns", t.Name)
	}
	return nil
}

// CreateTableSQL returns the DDL of one audit table. Key columns plus
// revision and revision type form the primary key, so a delete and a
// re-add of the same identity can share a revision.
func CreateTableSQL(t schema.Table) (string, error) {
	if err := validateTable(t); err != nil {
		return "", err
	}

	var cols []string
	for _, c := range t.Keys {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", c.Name, c.Type.SQLType()))
	}
	for _, c := range t.Data {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.Type.SQLType()))
	}
	cols = append(cols,
		fmt.Sprintf("%s INTEGER NOT NULL REFERENCES %s(%s)", t.Revision, schema.RevisionInfoTable, schema.RevisionInfoIDColumn),
		fmt.Sprintf("%s INTEGER NOT NULL", t.RevisionType),
	)
	if t.RevisionEnd != "" {
		cols = append(cols, fmt.Sprintf("%s INTEGER REFERENCES %s(%s)", t.RevisionEnd, schema.RevisionInfoTable, schema.RevisionInfoIDColumn))
	}
	if t.RevisionEndTimestamp != "" {
		cols = append(cols, fmt.Sprintf("%s INTEGER", t.RevisionEndTimestamp))
	}

	pk := append(t.KeyNames(), t.Revision, t.RevisionType)
	cols = append(cols, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")

	return "CREATE TABLE IF NOT EXISTS " + t.Name + " (\n    " + strings.Join(cols, ",\n    ") + "\n)", nil
}

// indexSQL returns the supporting indexes of one audit table.
func indexSQL(t schema.Table) []string {
	keys := strings.Join(t.KeyNames(), ", ")
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_rev ON %s(%s)", t.Name, t.Name, t.Revision),
	}
	if t.RevisionEnd != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_open ON %s(%s, %s)",
			t.Name, t.Name, keys, t.RevisionEnd))
	}
	return stmts
}

// EnsureTables creates the given audit tables and their indexes when they
// do not exist. Safe to call on every startup.
func (s *Store) EnsureTables(ctx context.Context, tables []schema.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure tables: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, t := range tables {
		ddl, err := CreateTableSQL(t)
		if err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tables: create %s: %w", t.Name, err)
		}
		for _, stmt := range indexSQL(t) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("ensure tables: index %s: %w", t.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure tables: commit: %w", err)
	}
	return nil
}

// TableExists reports whether a table is present in the database.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return n > 0, nil
}
