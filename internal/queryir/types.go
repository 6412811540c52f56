package queryir

import "github.com/roach88/timeline/internal/ir"

// Query represents an abstract query in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Expr is a value-producing expression: a column, a literal, an aggregate
// or a scalar subquery.
type Expr interface {
	exprNode()
}

// Predicate represents a filter condition in the QueryIR.
//
// This is a sealed interface. Predicates are used in Select.Where and
// Join.On.
//
// Predicate types:
//   - Compare: left <op> right
//   - IsNull: expr IS [NOT] NULL
//   - In: expr IN (values...)
//   - And, Or, Not: boolean combinators
type Predicate interface {
	predicateNode()
}

// TableRef names a table and the alias it is bound to in one query.
type TableRef struct {
	Table string
	Alias string
}

// JoinType selects inner or left outer join semantics.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

func (t JoinType) String() string {
	if t == LeftJoin {
		return "LEFT JOIN"
	}
	return "INNER JOIN"
}

// Join attaches a table to the query. On is required.
//
// For LeftJoin every restriction on the joined alias belongs in On, so an
// owner without a matching row is still returned with NULL columns.
type Join struct {
	Type  JoinType
	Table TableRef
	On    Predicate
}

// Output is one selected expression. As is optional.
type Output struct {
	Expr Expr
	As   string
}

// Order is one ORDER BY term.
type Order struct {
	Expr Expr
	Desc bool
}

// Select represents one SELECT statement.
//
// Semantics:
//
//	SELECT [DISTINCT] <outputs> FROM <from> <joins> WHERE <where>
//	ORDER BY <order by>, <stable key> LIMIT <limit> OFFSET <offset>
//
// StableKey lists the columns appended to ORDER BY so that row order is
// always deterministic; backends must emit an ORDER BY for every top-level
// select. Limit and Offset of 0 mean unbounded.
//
// Example (validity layout, Person as of revision 3):
//
//	Select{
//	  Outputs: []Output{{Expr: Column{Alias: "e__0", Name: "name"}}},
//	  From:    TableRef{Table: "person_AUD", Alias: "e__0"},
//	  Where: And{Predicates: []Predicate{
//	    Compare{Left: Column{Alias: "e__0", Name: "REV"}, Op: OpLe, Right: Literal{Value: ir.IRInt(3)}},
//	    Or{Predicates: []Predicate{
//	      Compare{Left: Column{Alias: "e__0", Name: "REVEND"}, Op: OpGt, Right: Literal{Value: ir.IRInt(3)}},
//	      IsNull{Expr: Column{Alias: "e__0", Name: "REVEND"}},
//	    }},
//	  }},
//	  StableKey: []Column{{Alias: "e__0", Name: "id"}},
//	}
type Select struct {
	Distinct  bool
	Outputs   []Output
	From      TableRef
	Joins     []Join
	Where     Predicate
	OrderBy   []Order
	StableKey []Column
	Limit     int
	Offset    int
}

func (Select) queryNode() {}

// Column references a column of an aliased table. An empty Alias refers to
// the only table in scope.
type Column struct {
	Alias string
	Name  string
}

func (Column) exprNode() {}

// Literal is a constant value. Backends bind it as a parameter.
type Literal struct {
	Value ir.IRValue
}

func (Literal) exprNode() {}

// AggregateFunc is an aggregate function name.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggMax   AggregateFunc = "MAX"
)

// Aggregate applies an aggregate function. A nil Arg with AggCount counts rows.
type Aggregate struct {
	Func     AggregateFunc
	Arg      Expr
	Distinct bool
}

func (Aggregate) exprNode() {}

// Subquery is a scalar subquery. It may reference aliases of the enclosing
// query (correlation). The select must produce exactly one output.
type Subquery struct {
	Select Select
}

func (Subquery) exprNode() {}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq   CompareOp = "="
	OpNe   CompareOp = "<>"
	OpLt   CompareOp = "<"
	OpLe   CompareOp = "<="
	OpGt   CompareOp = ">"
	OpGe   CompareOp = ">="
	OpLike CompareOp = "LIKE"
)

// Compare represents `left <op> right`.
type Compare struct {
	Left  Expr
	Op    CompareOp
	Right Expr
}

func (Compare) predicateNode() {}

// IsNull represents `expr IS NULL`, or `expr IS NOT NULL` when Not is set.
type IsNull struct {
	Expr Expr
	Not  bool
}

func (IsNull) predicateNode() {}

// In represents `expr IN (values...)`. An empty value list is always false.
type In struct {
	Expr   Expr
	Values []ir.IRValue
}

func (In) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (at least one must be true).
// Empty Predicates means "always false".
//
// Outer-join restrictions are expressed as Or groups,
// `(restriction) OR (joined column IS NULL)`, never as a plain And.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Col is shorthand for Column{Alias: alias, Name: name}.
func Col(alias, name string) Column {
	return Column{Alias: alias, Name: name}
}

// Lit is shorthand for Literal{Value: v}.
func Lit(v ir.IRValue) Literal {
	return Literal{Value: v}
}

// Cmp is shorthand for Compare{Left: left, Op: op, Right: right}.
func Cmp(left Expr, op CompareOp, right Expr) Compare {
	return Compare{Left: left, Op: op, Right: right}
}

// AllOf combines predicates with And, dropping nils. It returns nil for no
// predicates and the predicate itself for one.
func AllOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}

// OrNull wraps p for a left-joined alias: `(p) OR (column IS NULL)`.
func OrNull(p Predicate, column Column) Predicate {
	if p == nil {
		return nil
	}
	return Or{Predicates: []Predicate{p, IsNull{Expr: column}}}
}
