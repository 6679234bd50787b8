package filter

import (
	"strconv"
	"strings"
)

// Cond is a single SQL predicate with its arguments. Placeholders are
// written as '?' and renumbered to pgx-style $n when the query renders.
type Cond struct {
	expr string
	args []any
}

// Eq builds an equality predicate on column.
func Eq(column string, value any) Cond {
	return Cond{expr: column + " = ?", args: []any{value}}
}

// In builds a membership predicate on column. An empty value list renders a
// predicate that matches nothing.
func In(column string, values []string) Cond {
	if len(values) == 0 {
		return Cond{expr: "FALSE"}
	}
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return Cond{
		expr: column + " IN (" + strings.Join(placeholders, ", ") + ")",
		args: args,
	}
}

// InSubquery builds "column IN (subquery)". The subquery uses '?'
// placeholders like any other predicate.
func InSubquery(column, subquery string, args ...any) Cond {
	return Cond{expr: column + " IN (" + subquery + ")", args: args}
}

// Or groups predicates into a parenthesized disjunction.
func Or(conds ...Cond) Cond {
	if len(conds) == 1 {
		return conds[0]
	}
	exprs := make([]string, len(conds))
	var args []any
	for i, c := range conds {
		exprs[i] = c.expr
		args = append(args, c.args...)
	}
	return Cond{expr: "(" + strings.Join(exprs, " OR ") + ")", args: args}
}

// Query is an ordered set of conjunctive predicates appended to a SELECT by
// the repositories. Predicates keep insertion order, so the tenant filter a
// role filter adds first stays first in the rendered WHERE clause.
type Query struct {
	conds []Cond
}

// NewQuery returns an empty predicate set.
func NewQuery() *Query {
	return &Query{}
}

// Where appends a predicate.
func (q *Query) Where(c Cond) *Query {
	q.conds = append(q.conds, c)
	return q
}

// Empty reports whether no predicates were added.
func (q *Query) Empty() bool {
	return len(q.conds) == 0
}

// SQL renders the predicates joined by AND, numbering placeholders from
// start. It returns the fragment (without the WHERE keyword) and the
// argument list.
func (q *Query) SQL(start int) (string, []any) {
	if len(q.conds) == 0 {
		return "", nil
	}
	var sb strings.Builder
	var args []any
	n := start
	for i, c := range q.conds {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		expr := c.expr
		for {
			idx := strings.IndexByte(expr, '?')
			if idx < 0 {
				sb.WriteString(expr)
				break
			}
			sb.WriteString(expr[:idx])
			sb.WriteString("$" + strconv.Itoa(n))
			n++
			expr = expr[idx+1:]
		}
		args = append(args, c.args...)
	}
	return sb.String(), args
}
