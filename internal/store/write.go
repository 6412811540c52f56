package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/schema"
	"github.com/roach88/timeline/internal/strategy"
)

// Tx is one write transaction. It is the strategies' strategy.Writer and
// the sequencer's revision.Log. Not safe for concurrent use.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// AppendRevision inserts a REVINFO row and returns its id.
func (t *Tx) AppendRevision(ctx context.Context, ts time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO "+schema.RevisionInfoTable+" ("+schema.RevisionInfoTimestampField+") VALUES (?)",
		ts.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append revision: last insert id: %w", err)
	}
	return id, nil
}

// RecordChangedEntities stores the entity names modified in a revision.
// Uses ON CONFLICT DO NOTHING: recording the same name twice is a no-op.
func (t *Tx) RecordChangedEntities(ctx context.Context, rev int64, names []string) error {
	for _, name := range names {
		_, err := t.tx.ExecContext(ctx,
			"INSERT INTO "+schema.ChangedEntitiesTable+
				" ("+schema.RevisionInfoIDColumn+", "+schema.ChangedEntityNameField+") VALUES (?, ?)"+
				" ON CONFLICT DO NOTHING",
			rev, name)
		if err != nil {
			return fmt.Errorf("record changed entity %s: %w", name, err)
		}
	}
	return nil
}

// Insert writes one audit row. Columns of tbl missing from values are NULL.
func (t *Tx) Insert(ctx context.Context, tbl schema.Table, values ir.IRObject) error {
	if err := validateTable(tbl); err != nil {
		return err
	}
	cols := writeColumns(tbl)
	args := make([]any, len(cols))
	for i, c := range cols {
		arg, err := toParam(values.Get(c))
		if err != nil {
			return fmt.Errorf("insert %s.%s: %w", tbl.Name, c, err)
		}
		args[i] = arg
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := "INSERT INTO " + tbl.Name + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s: %w", tbl.Name, err)
	}
	return nil
}

// OpenRows returns the rows of tbl matching key whose revision end is NULL.
// Results are ordered by revision for determinism.
func (t *Tx) OpenRows(ctx context.Context, tbl schema.Table, key ir.IRObject) ([]strategy.OpenRow, error) {
	if !tbl.HasValidity() {
		return nil, fmt.Errorf("open rows: table %s has no revision end column", tbl.Name)
	}
	where, args, err := keyCondition(tbl, key)
	if err != nil {
		return nil, fmt.Errorf("open rows %s: %w", tbl.Name, err)
	}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+tbl.Revision+", "+tbl.RevisionType+" FROM "+tbl.Name+
			" WHERE "+where+" AND "+tbl.RevisionEnd+" IS NULL"+
			" ORDER BY "+tbl.Revision+" ASC, "+tbl.RevisionType+" ASC",
		args...)
	if err != nil {
		return nil, fmt.Errorf("open rows %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	var open []strategy.OpenRow
	for rows.Next() {
		var rev int64
		var typ int64
		if err := rows.Scan(&rev, &typ); err != nil {
			return nil, fmt.Errorf("scan open row: %w", err)
		}
		open = append(open, strategy.OpenRow{Key: key.Clone(), Revision: rev, Type: ir.RevisionType(typ)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open rows: %w", err)
	}
	return open, nil
}

// CloseRow sets the revision end of one open row.
func (t *Tx) CloseRow(ctx context.Context, tbl schema.Table, row strategy.OpenRow, end int64, endTimestamp *time.Time) (int64, error) {
	if !tbl.HasValidity() {
		return 0, fmt.Errorf("close row: table %s has no revision end column", tbl.Name)
	}
	set := tbl.RevisionEnd + " = ?"
	args := []any{end}
	if tbl.RevisionEndTimestamp != "" && endTimestamp != nil {
		set += ", " + tbl.RevisionEndTimestamp + " = ?"
		args = append(args, endTimestamp.UnixMilli())
	}

	where, keyArgs, err := keyCondition(tbl, row.Key)
	if err != nil {
		return 0, fmt.Errorf("close row %s: %w", tbl.Name, err)
	}
	args = append(args, keyArgs...)
	args = append(args, row.Revision, int64(row.Type))

	res, err := t.tx.ExecContext(ctx,
		"UPDATE "+tbl.Name+" SET "+set+
			" WHERE "+where+" AND "+tbl.Revision+" = ? AND "+tbl.RevisionType+" = ? AND "+tbl.RevisionEnd+" IS NULL",
		args...)
	if err != nil {
		return 0, fmt.Errorf("close row %s: %w", tbl.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close row %s: rows affected: %w", tbl.Name, err)
	}
	return n, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// writeColumns lists every column an insert writes. Revision end columns
// are left out; a new row is always open.
func writeColumns(t schema.Table) []string {
	cols := append(t.KeyNames(), t.DataNames()...)
	return append(cols, t.Revision, t.RevisionType)
}

func keyCondition(t schema.Table, key ir.IRObject) (string, []any, error) {
	conds := make([]string, len(t.Keys))
	args := make([]any, len(t.Keys))
	for i, c := range t.Keys {
		v := key.Get(c.Name)
		if ir.IsNull(v) {
			return "", nil, fmt.Errorf("missing key column %s", c.Name)
		}
		arg, err := toParam(v)
		if err != nil {
			return "", nil, err
		}
		conds[i] = c.Name + " = ?"
		args[i] = arg
	}
	return strings.Join(conds, " AND "), args, nil
}

// toParam converts an ir.IRValue to a database/sql argument.
func toParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
