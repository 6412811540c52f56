package queryir

import (
	"errors"
	"fmt"
)

// ValidationError lists every structural problem found in a query.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid query: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid query: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a query before compilation:
//  1. FROM and every JOIN bind a table to a non-empty alias
//  2. Aliases are unique within one query tree (subqueries included)
//  3. Every column references an alias in scope; subqueries see the
//     aliases of their enclosing query
//  4. Every join has a condition
//  5. A select produces at least one output, a subquery exactly one
//  6. Limit and Offset are not negative
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{seen: make(map[string]bool)}
	v.validateQuery(q)
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
	seen     map[string]bool
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query, nil, false)
	case *Select:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateSelect(*query, nil, false)
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) bind(scope map[string]bool, ref TableRef) {
	if ref.Table == "" {
		v.addProblem("alias %q has no table", ref.Alias)
	}
	if ref.Alias == "" {
		v.addProblem("table %q has no alias", ref.Table)
		return
	}
	if v.seen[ref.Alias] {
		v.addProblem("duplicate alias %q", ref.Alias)
	}
	v.seen[ref.Alias] = true
	scope[ref.Alias] = true
}

func (v *validator) validateSelect(sel Select, outer map[string]bool, subquery bool) {
	scope := make(map[string]bool, len(outer)+1+len(sel.Joins))
	for a := range outer {
		scope[a] = true
	}
	v.bind(scope, sel.From)

	// Join conditions may only see the tables joined so far.
	for _, j := range sel.Joins {
		v.bind(scope, j.Table)
		if j.On == nil {
			v.addProblem("join %q has no condition", j.Table.Alias)
			continue
		}
		v.validatePredicate(j.On, scope)
	}

	switch {
	case len(sel.Outputs) == 0:
		v.addProblem("select from %q has no outputs", sel.From.Alias)
	case subquery && len(sel.Outputs) != 1:
		v.addProblem("scalar subquery from %q must have one output", sel.From.Alias)
	}
	for _, o := range sel.Outputs {
		v.validateExpr(o.Expr, scope)
	}
	if sel.Where != nil {
		v.validatePredicate(sel.Where, scope)
	}
	for _, o := range sel.OrderBy {
		v.validateExpr(o.Expr, scope)
	}
	for _, c := range sel.StableKey {
		v.validateExpr(c, scope)
	}
	if sel.Limit < 0 || sel.Offset < 0 {
		v.addProblem("negative limit or offset")
	}
}

func (v *validator) validateExpr(e Expr, scope map[string]bool) {
	switch expr := e.(type) {
	case nil:
		v.addProblem("nil expression")
	case Column:
		if expr.Alias != "" && !scope[expr.Alias] {
			v.addProblem("column %s.%s references unknown alias", expr.Alias, expr.Name)
		}
		if expr.Name == "" {
			v.addProblem("column without name")
		}
	case Literal:
	case Aggregate:
		if expr.Arg != nil {
			v.validateExpr(expr.Arg, scope)
		} else if expr.Func != AggCount {
			v.addProblem("%s requires an argument", expr.Func)
		}
	case Subquery:
		v.validateSelect(expr.Select, scope, true)
	default:
		v.addProblem("unknown expression type: %T", e)
	}
}

func (v *validator) validatePredicate(p Predicate, scope map[string]bool) {
	switch pred := p.(type) {
	case nil:
		v.addProblem("nil predicate")
	case Compare:
		v.validateExpr(pred.Left, scope)
		v.validateExpr(pred.Right, scope)
	case IsNull:
		v.validateExpr(pred.Expr, scope)
	case In:
		v.validateExpr(pred.Expr, scope)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, scope)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, scope)
		}
	case Not:
		v.validatePredicate(pred.Predicate, scope)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}
