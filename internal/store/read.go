package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/schema"
)

// ErrRevisionNotFound is returned when a revision number or date does not
// resolve to a REVINFO row.
var ErrRevisionNotFound = errors.New("revision not found")

// Select runs a compiled query and returns one object per row keyed by the
// result column names. types, when given, is aligned with the result
// columns and turns stored integers back into booleans.
func (s *Store) Select(ctx context.Context, query string, params []any, types []schema.PropertyType) ([]ir.IRObject, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select: columns: %w", err)
	}
	if types != nil && len(types) != len(names) {
		return nil, fmt.Errorf("select: %d result columns, %d types", len(names), len(types))
	}

	results := []ir.IRObject{}
	raw := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("select: scan: %w", err)
		}
		obj := make(ir.IRObject, len(names))
		for i, name := range names {
			var typ schema.PropertyType
			if types != nil {
				typ = types[i]
			}
			v, err := fromColumn(raw[i], typ)
			if err != nil {
				return nil, fmt.Errorf("select: column %s: %w", name, err)
			}
			obj[name] = v
		}
		results = append(results, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select: iterate: %w", err)
	}
	return results, nil
}

// fromColumn converts a scanned SQLite value to an ir.IRValue.
func fromColumn(v any, typ schema.PropertyType) (ir.IRValue, error) {
	switch val := v.(type) {
	case nil:
		return ir.IRNull{}, nil
	case int64:
		if typ == schema.TypeBool {
			return ir.IRBool(val != 0), nil
		}
		return ir.IRInt(val), nil
	case bool:
		return ir.IRBool(val), nil
	case string:
		return ir.IRString(val), nil
	case []byte:
		return ir.IRString(string(val)), nil
	case float64:
		// Floats are forbidden in snapshots; only integral values are accepted.
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("non-integral number %v", val)
		}
		return ir.IRInt(int64(val)), nil
	case time.Time:
		return ir.IRInt(val.UnixMilli()), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", v)
	}
}

// LatestRevision returns the highest revision number, or 0 when no
// revision has been written.
func (s *Store) LatestRevision(ctx context.Context) (int64, error) {
	var rev sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX("+schema.RevisionInfoIDColumn+") FROM "+schema.RevisionInfoTable).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("latest revision: %w", err)
	}
	return rev.Int64, nil
}

// RevisionDate returns the timestamp of a revision.
func (s *Store) RevisionDate(ctx context.Context, rev int64) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT "+schema.RevisionInfoTimestampField+" FROM "+schema.RevisionInfoTable+
			" WHERE "+schema.RevisionInfoIDColumn+" = ?", rev).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("revision %d: %w", rev, ErrRevisionNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("revision date %d: %w", rev, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// RevisionForDate returns the highest revision whose timestamp is not
// after t.
func (s *Store) RevisionForDate(ctx context.Context, t time.Time) (int64, error) {
	var rev sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX("+schema.RevisionInfoIDColumn+") FROM "+schema.RevisionInfoTable+
			" WHERE "+schema.RevisionInfoTimestampField+" <= ?", t.UnixMilli()).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("revision for date: %w", err)
	}
	if !rev.Valid {
		return 0, fmt.Errorf("no revision at or before %s: %w", t.UTC().Format(time.RFC3339Nano), ErrRevisionNotFound)
	}
	return rev.Int64, nil
}

// EntityNamesChangedAtRevision returns the entity names recorded for a
// revision, sorted.
func (s *Store) EntityNamesChangedAtRevision(ctx context.Context, rev int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+schema.ChangedEntityNameField+" FROM "+schema.ChangedEntitiesTable+
			" WHERE "+schema.RevisionInfoIDColumn+" = ?"+
			" ORDER BY "+schema.ChangedEntityNameField+" COLLATE BINARY ASC", rev)
	if err != nil {
		return nil, fmt.Errorf("changed entities %d: %w", rev, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan changed entity: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changed entities: %w", err)
	}
	return names, nil
}

// FindRevision returns one revision with its changed entity names.
func (s *Store) FindRevision(ctx context.Context, rev int64) (ir.Revision, error) {
	ts, err := s.RevisionDate(ctx, rev)
	if err != nil {
		return ir.Revision{}, err
	}
	names, err := s.EntityNamesChangedAtRevision(ctx, rev)
	if err != nil {
		return ir.Revision{}, err
	}
	return ir.Revision{ID: rev, Timestamp: ts, ChangedEntityNames: names}, nil
}
