package sql

import (
	"strings"
)

// InsertBuilder is a builder for single-row INSERT statements. Every
// column is bound with a placeholder, in column order.
type InsertBuilder struct {
	table     string
	columns   []string
	returning string
	conflict  *Conflict
}

// Insert creates a builder for the INSERT INTO statement.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns appends columns to the INSERT statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Returning sets the column returned by the statement on dialects that
// support RETURNING.
func (i *InsertBuilder) Returning(column string) *InsertBuilder {
	i.returning = column
	return i
}

// OnConflict turns the statement into an upsert.
func (i *InsertBuilder) OnConflict(c *Conflict) *InsertBuilder {
	i.conflict = c
	return i
}

// Query returns the statement in the bind syntax of d.
func (i *InsertBuilder) Query(d Dialect) string {
	var b strings.Builder
	b.WriteString(d.InsertVerb(i.conflict))
	b.WriteByte(' ')
	b.WriteString(i.table)
	b.WriteByte('(')
	b.WriteString(strings.Join(i.columns, ", "))
	b.WriteString(") VALUES(")
	b.WriteString(Placeholders(len(i.columns)))
	b.WriteByte(')')
	if i.conflict != nil {
		c := *i.conflict
		c.table = i.table
		b.WriteString(d.ConflictClause(&c))
	}
	if i.returning != "" && d.SupportsReturning() {
		b.WriteString(" RETURNING ")
		b.WriteString(i.returning)
	}
	return d.Rebind(b.String())
}

// UpdateBuilder is a builder for UPDATE statements. Arguments are bound
// in SET order followed by WHERE order.
type UpdateBuilder struct {
	table string
	sets  []string
	where []string
}

// Update creates a builder for the UPDATE statement.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set adds "column = ?" assignments.
func (u *UpdateBuilder) Set(columns ...string) *UpdateBuilder {
	for _, c := range columns {
		u.sets = append(u.sets, c+" = ?")
	}
	return u
}

// SetExpr adds a raw assignment such as "VERSION = VERSION + 1".
func (u *UpdateBuilder) SetExpr(expr string) *UpdateBuilder {
	u.sets = append(u.sets, expr)
	return u
}

// Where appends predicates joined with AND.
func (u *UpdateBuilder) Where(preds ...string) *UpdateBuilder {
	u.where = append(u.where, preds...)
	return u
}

// Empty reports whether the statement has nothing to assign.
func (u *UpdateBuilder) Empty() bool {
	return len(u.sets) == 0
}

// Query returns the statement in the bind syntax of d.
func (u *UpdateBuilder) Query(d Dialect) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(u.table)
	b.WriteString(" SET ")
	b.WriteString(strings.Join(u.sets, ", "))
	writeWhere(&b, u.where)
	return d.Rebind(b.String())
}

// DeleteBuilder is a builder for DELETE statements.
type DeleteBuilder struct {
	table string
	where []string
}

// Delete creates a builder for the DELETE statement.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where appends predicates joined with AND.
func (d *DeleteBuilder) Where(preds ...string) *DeleteBuilder {
	d.where = append(d.where, preds...)
	return d
}

// Query returns the statement in the bind syntax of dialect.
func (d *DeleteBuilder) Query(dialect Dialect) string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(d.table)
	writeWhere(&b, d.where)
	return dialect.Rebind(b.String())
}

// Selector is a builder for the SELECT statements issued by the fetch
// executor and the save engine.
type Selector struct {
	columns []string
	table   string
	where   []string
}

// Select creates a builder for the SELECT statement.
func Select(columns ...string) *Selector {
	return &Selector{columns: columns}
}

// From sets the source table.
func (s *Selector) From(table string) *Selector {
	s.table = table
	return s
}

// Where appends predicates joined with AND.
func (s *Selector) Where(preds ...string) *Selector {
	s.where = append(s.where, preds...)
	return s
}

// Query returns the statement in the bind syntax of d.
func (s *Selector) Query(d Dialect) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.table)
	writeWhere(&b, s.where)
	return d.Rebind(b.String())
}

func writeWhere(b *strings.Builder, preds []string) {
	if len(preds) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(preds, " AND "))
}

// Placeholders returns n comma separated placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// EQ returns the "column = ?" predicate.
func EQ(column string) string {
	return column + " = ?"
}

// IsNull returns the "column IS NULL" predicate.
func IsNull(column string) string {
	return column + " IS NULL"
}

// In returns the "column IN (?, ...)" predicate for n values.
func In(column string, n int) string {
	return column + " IN (" + Placeholders(n) + ")"
}

// TupleIn returns a predicate matching n tuples of the given columns. A
// single column falls back to In. Tuples are expanded to OR-ed
// conjunctions so that every dialect accepts them.
func TupleIn(columns []string, n int) string {
	if len(columns) == 1 {
		return In(columns[0], n)
	}
	eqs := make([]string, len(columns))
	for i, c := range columns {
		eqs[i] = EQ(c)
	}
	one := "(" + strings.Join(eqs, " AND ") + ")"
	if n == 1 {
		return one
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = one
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
