package pagination

import (
	"fmt"
	"strconv"
	"strings"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// Dollar is the PostgreSQL placeholder style ($1, $2, ...).
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question is the numbered SQLite placeholder style (?1, ?2, ...).
func Question(n int) string { return "?" + strconv.Itoa(n) }

// Keyset describes an ordering on Column with IDColumn as tie-break, both in
// the same direction.
type Keyset struct {
	Column   string
	IDColumn string
	Order    Order
}

// OrderBy returns the ORDER BY list for the keyset.
func (k Keyset) OrderBy() string {
	dir := "ASC"
	if k.Order == Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, %s %s", k.Column, dir, k.IDColumn, dir)
}

// After builds the predicate selecting rows strictly after (value, id) in the
// keyset order:
//
//	asc:  (K > v OR (K = v AND id > last))
//	desc: (K < v OR (K = v AND id < last))
//
// The value placeholder is numbered startIdx and reused; the id is startIdx+1.
func (k Keyset) After(value, id any, startIdx int, ph Placeholder) (string, []any) {
	op := ">"
	if k.Order == Desc {
		op = "<"
	}
	v, last := ph(startIdx), ph(startIdx+1)
	clause := fmt.Sprintf("(%s %s %s OR (%s = %s AND %s %s %s))",
		k.Column, op, v, k.Column, v, k.IDColumn, op, last)
	return clause, []any{value, id}
}

// Query assembles a bounded keyset SELECT. Conditions are ANDed in the order
// they are added.
type Query struct {
	base  string
	ph    Placeholder
	conds []string
	args  []any
}

// NewQuery starts a query from a "SELECT ... FROM ..." prefix.
func NewQuery(base string, ph Placeholder) *Query {
	return &Query{base: base, ph: ph}
}

// Arg binds v and returns its placeholder.
func (q *Query) Arg(v any) string {
	q.args = append(q.args, v)
	return q.ph(len(q.args))
}

// Where adds a condition. Use Arg to bind its values.
func (q *Query) Where(cond string) *Query {
	q.conds = append(q.conds, cond)
	return q
}

// After restricts the query to rows following the given position.
func (q *Query) After(k Keyset, value, id any) *Query {
	cond, args := k.After(value, id, len(q.args)+1, q.ph)
	q.args = append(q.args, args...)
	return q.Where(cond)
}

// Build returns the SQL and arguments, fetching limit+1 rows so the caller can
// tell whether another page exists.
func (q *Query) Build(k Keyset, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(k.OrderBy())
	b.WriteString(" LIMIT ")
	b.WriteString(q.Arg(limit + 1))
	return b.String(), q.args
}
