package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/queryir"
)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: every top-level query includes ORDER BY for deterministic results.
// CRITICAL: all values are parameterized (never interpolated). Parameters
// are returned in the order their placeholders appear in the SQL text.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile validates a QueryIR query and converts it to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}

	b := &builder{}
	if err := b.selectStmt(sel, true); err != nil {
		return "", nil, err
	}
	return b.sql.String(), b.params, nil
}

// builder accumulates SQL text and parameters in text order.
type builder struct {
	sql    strings.Builder
	params []any
}

func (b *builder) write(s string) {
	b.sql.WriteString(s)
}

func (b *builder) bind(v ir.IRValue) error {
	param, err := irValueToParam(v)
	if err != nil {
		return fmt.Errorf("convert value: %w", err)
	}
	b.write("?")
	b.params = append(b.params, param)
	return nil
}

// selectStmt writes one SELECT. Scalar subqueries (top=false) carry no
// ORDER BY.
func (b *builder) selectStmt(sel queryir.Select, top bool) error {
	b.write("SELECT ")
	if sel.Distinct {
		b.write("DISTINCT ")
	}
	for i, o := range sel.Outputs {
		if i > 0 {
			b.write(", ")
		}
		if err := b.expr(o.Expr); err != nil {
			return fmt.Errorf("compile output: %w", err)
		}
		if o.As != "" {
			b.write(" AS " + o.As)
		}
	}

	b.write(" FROM " + tableRef(sel.From))

	for _, j := range sel.Joins {
		b.write(" " + j.Type.String() + " " + tableRef(j.Table) + " ON ")
		if err := b.predicate(j.On); err != nil {
			return fmt.Errorf("compile join %s: %w", j.Table.Alias, err)
		}
	}

	if sel.Where != nil {
		b.write(" WHERE ")
		if err := b.predicate(sel.Where); err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
	}

	if !top {
		return nil
	}

	// MANDATORY: always add ORDER BY
	if err := b.orderBy(sel); err != nil {
		return err
	}

	if sel.Limit > 0 {
		b.write(" LIMIT ")
		if err := b.bind(ir.IRInt(sel.Limit)); err != nil {
			return err
		}
	}
	if sel.Offset > 0 {
		if sel.Limit == 0 {
			b.write(" LIMIT -1")
		}
		b.write(" OFFSET ")
		if err := b.bind(ir.IRInt(sel.Offset)); err != nil {
			return err
		}
	}
	return nil
}

// orderBy writes the explicit order followed by the stable key. COLLATE
// BINARY on the stable key keeps text ordering deterministic across SQLite
// versions. A select with neither orders by its first output.
func (b *builder) orderBy(sel queryir.Select) error {
	b.write(" ORDER BY ")
	if len(sel.OrderBy) == 0 && len(sel.StableKey) == 0 {
		b.write("1")
		return nil
	}
	first := true
	sep := func() {
		if !first {
			b.write(", ")
		}
		first = false
	}
	for _, o := range sel.OrderBy {
		sep()
		if err := b.expr(o.Expr); err != nil {
			return fmt.Errorf("compile order: %w", err)
		}
		if o.Desc {
			b.write(" DESC")
		} else {
			b.write(" ASC")
		}
	}
	for _, col := range sel.StableKey {
		sep()
		b.write(columnRef(col) + " COLLATE BINARY ASC")
	}
	return nil
}

func (b *builder) expr(e queryir.Expr) error {
	switch expr := e.(type) {
	case queryir.Column:
		b.write(columnRef(expr))
	case queryir.Literal:
		return b.bind(expr.Value)
	case queryir.Aggregate:
		b.write(string(expr.Func) + "(")
		if expr.Distinct {
			b.write("DISTINCT ")
		}
		if expr.Arg == nil {
			b.write("*")
		} else if err := b.expr(expr.Arg); err != nil {
			return err
		}
		b.write(")")
	case queryir.Subquery:
		b.write("(")
		if err := b.selectStmt(expr.Select, false); err != nil {
			return fmt.Errorf("compile subquery: %w", err)
		}
		b.write(")")
	default:
		return fmt.Errorf("unsupported expression type: %T", e)
	}
	return nil
}

// predicate compiles a queryir.Predicate to a SQL condition.
// CRITICAL: values NEVER interpolated - always use ? placeholders.
func (b *builder) predicate(p queryir.Predicate) error {
	switch pred := p.(type) {
	case queryir.Compare:
		if err := b.expr(pred.Left); err != nil {
			return err
		}
		b.write(" " + string(pred.Op) + " ")
		return b.expr(pred.Right)
	case queryir.IsNull:
		if err := b.expr(pred.Expr); err != nil {
			return err
		}
		if pred.Not {
			b.write(" IS NOT NULL")
		} else {
			b.write(" IS NULL")
		}
	case queryir.In:
		if len(pred.Values) == 0 {
			b.write("1 = 0")
			return nil
		}
		if err := b.expr(pred.Expr); err != nil {
			return err
		}
		b.write(" IN (")
		for i, v := range pred.Values {
			if i > 0 {
				b.write(", ")
			}
			if err := b.bind(v); err != nil {
				return err
			}
		}
		b.write(")")
	case queryir.And:
		return b.junction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return b.junction(pred.Predicates, " OR ", "1 = 0")
	case queryir.Not:
		b.write("NOT (")
		if err := b.predicate(pred.Predicate); err != nil {
			return err
		}
		b.write(")")
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
	return nil
}

// junction joins predicates with op. Compound children are parenthesized.
func (b *builder) junction(preds []queryir.Predicate, op, empty string) error {
	if len(preds) == 0 {
		b.write(empty)
		return nil
	}
	for i, p := range preds {
		if i > 0 {
			b.write(op)
		}
		wrap := isCompound(p)
		if wrap {
			b.write("(")
		}
		if err := b.predicate(p); err != nil {
			return err
		}
		if wrap {
			b.write(")")
		}
	}
	return nil
}

func isCompound(p queryir.Predicate) bool {
	switch pred := p.(type) {
	case queryir.And:
		return len(pred.Predicates) > 1
	case queryir.Or:
		return len(pred.Predicates) > 1
	default:
		return false
	}
}

func tableRef(t queryir.TableRef) string {
	return t.Table + " " + t.Alias
}

func columnRef(c queryir.Column) string {
	if c.Alias == "" {
		return c.Name
	}
	return c.Alias + "." + c.Name
}

// irValueToParam converts an ir.IRValue to a Go native type for SQL parameter.
// Supports string, int, bool and null. Arrays and objects are not directly
// supported as SQL parameters.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
