package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/persist/dialect"
)

// Dialect describes the statement phrasing and batching behavior of a
// database. The save engine only talks to the database through it.
type Dialect interface {
	// Name returns the dialect name, one of the dialect package constants.
	Name() string
	// Rebind converts the ? placeholders of query to the bind syntax of
	// the dialect.
	Rebind(query string) string
	// SupportsUpsert reports whether a native single-statement upsert exists.
	SupportsUpsert() bool
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	// Dialects without it report generated ids through LastInsertId.
	SupportsReturning() bool
	// InsertVerb returns the leading keywords of an INSERT statement with
	// the given conflict clause (nil for a plain insert).
	InsertVerb(c *Conflict) string
	// ConflictClause renders the conflict clause that follows VALUES(...).
	ConflictClause(c *Conflict) string
	// SequenceNextSQL returns the query selecting the next sequence value.
	SequenceNextSQL(sequence string) (string, error)
	// IsBatchDumb reports that a failing batch tells nothing about which
	// row failed.
	IsBatchDumb() bool
	// IsBatchUpdateExceptionUnreliable reports that the row counts of a
	// failing batch cannot be trusted.
	IsBatchUpdateExceptionUnreliable() bool
	// NeedsSavepoint reports that a failed statement aborts the enclosing
	// transaction until it is rolled back to a savepoint.
	NeedsSavepoint() bool
}

// Conflict describes the ON CONFLICT part of an upsert.
type Conflict struct {
	// Columns are the conflict target, the id column or a key group.
	Columns []string
	// Update lists the columns overwritten on conflict. An empty list
	// leaves the existing row untouched.
	Update []string
	// GeneratedID names an identity column whose value must be recovered
	// for existing rows (MySQL LAST_INSERT_ID).
	GeneratedID string
	// Version names a version column incremented when the existing row is
	// updated.
	Version string

	// table qualifies the columns of the existing row. It is set by
	// InsertBuilder.Query.
	table string
}

// Dialects.
var (
	PostgresDialect Dialect = postgresDialect{}
	MySQLDialect    Dialect = mysqlDialect{}
	SQLiteDialect   Dialect = sqliteDialect{}
	GenericDialect  Dialect = genericDialect{}
)

// DialectOf returns the Dialect registered under name. Driver name
// variants such as "sqlite3" or "postgresql" are accepted.
func DialectOf(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case dialect.Postgres, "postgresql", "pgx":
		return PostgresDialect, nil
	case dialect.MySQL, "mariadb":
		return MySQLDialect, nil
	case dialect.SQLite, "sqlite3":
		return SQLiteDialect, nil
	case dialect.Generic:
		return GenericDialect, nil
	default:
		return nil, fmt.Errorf("dialect/sql: unsupported dialect %q", name)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return dialect.Postgres }

// Rebind replaces every ? with $1, $2 and so on. Question marks inside
// string literals are left alone.
func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var (
		sb     strings.Builder
		n      int
		quoted bool
	)
	sb.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		switch ch := query[i]; {
		case ch == '\'':
			quoted = !quoted
			sb.WriteByte(ch)
		case ch == '?' && !quoted:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func (postgresDialect) SupportsUpsert() bool    { return true }
func (postgresDialect) SupportsReturning() bool { return true }

func (postgresDialect) InsertVerb(*Conflict) string { return "INSERT INTO" }

func (postgresDialect) ConflictClause(c *Conflict) string {
	return onConflict(c)
}

func (postgresDialect) SequenceNextSQL(sequence string) (string, error) {
	return "SELECT nextval('" + sequence + "')", nil
}

func (postgresDialect) IsBatchDumb() bool                      { return false }
func (postgresDialect) IsBatchUpdateExceptionUnreliable() bool { return false }
func (postgresDialect) NeedsSavepoint() bool                   { return true }

type sqliteDialect struct{}

func (sqliteDialect) Name() string                { return dialect.SQLite }
func (sqliteDialect) Rebind(query string) string  { return query }
func (sqliteDialect) SupportsUpsert() bool        { return true }
func (sqliteDialect) SupportsReturning() bool     { return true }
func (sqliteDialect) InsertVerb(*Conflict) string { return "INSERT INTO" }
func (sqliteDialect) ConflictClause(c *Conflict) string {
	return onConflict(c)
}

func (sqliteDialect) SequenceNextSQL(string) (string, error) {
	return "", fmt.Errorf("dialect/sql: sqlite does not support sequences")
}

func (sqliteDialect) IsBatchDumb() bool                      { return false }
func (sqliteDialect) IsBatchUpdateExceptionUnreliable() bool { return false }
func (sqliteDialect) NeedsSavepoint() bool                   { return false }

// onConflict renders the ON CONFLICT clause shared by Postgres and SQLite.
func onConflict(c *Conflict) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(" ON CONFLICT(")
	sb.WriteString(strings.Join(c.Columns, ", "))
	sb.WriteString(")")
	if len(c.Update) == 0 {
		sb.WriteString(" DO NOTHING")
		return sb.String()
	}
	sb.WriteString(" DO UPDATE SET ")
	for i, col := range c.Update {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
		sb.WriteString(" = excluded.")
		sb.WriteString(col)
	}
	if c.Version != "" {
		existing := c.Version
		if c.table != "" {
			existing = c.table + "." + c.Version
		}
		sb.WriteString(", ")
		sb.WriteString(c.Version)
		sb.WriteString(" = ")
		sb.WriteString(existing)
		sb.WriteString(" + 1")
	}
	return sb.String()
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string               { return dialect.MySQL }
func (mysqlDialect) Rebind(query string) string { return query }
func (mysqlDialect) SupportsUpsert() bool       { return true }
func (mysqlDialect) SupportsReturning() bool    { return false }

func (mysqlDialect) InsertVerb(*Conflict) string { return "INSERT INTO" }

// ConflictClause renders ON DUPLICATE KEY UPDATE. The conflict target is
// implied by the unique indexes of the table. A conflict without update
// assigns the first target column to itself, leaving the row unchanged
// while other constraint violations still fail.
func (mysqlDialect) ConflictClause(c *Conflict) string {
	if c == nil {
		return ""
	}
	assigns := make([]string, 0, len(c.Update)+2)
	for _, col := range c.Update {
		assigns = append(assigns, col+" = VALUES("+col+")")
	}
	if c.Version != "" && len(c.Update) > 0 {
		assigns = append(assigns, c.Version+" = "+c.Version+" + 1")
	}
	if len(assigns) == 0 && c.GeneratedID == "" && len(c.Columns) > 0 {
		assigns = append(assigns, c.Columns[0]+" = "+c.Columns[0])
	}
	if len(assigns) == 0 && c.GeneratedID == "" {
		return ""
	}
	if c.GeneratedID != "" {
		assigns = append(assigns, c.GeneratedID+" = LAST_INSERT_ID("+c.GeneratedID+")")
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(assigns, ", ")
}

func (mysqlDialect) SequenceNextSQL(string) (string, error) {
	return "", fmt.Errorf("dialect/sql: mysql does not support sequences")
}

func (mysqlDialect) IsBatchDumb() bool                      { return false }
func (mysqlDialect) IsBatchUpdateExceptionUnreliable() bool { return true }
func (mysqlDialect) NeedsSavepoint() bool                   { return false }

// genericDialect targets databases reached through plain SQL-92. Upserts
// are emulated by the save engine.
type genericDialect struct{}

func (genericDialect) Name() string                    { return dialect.Generic }
func (genericDialect) Rebind(query string) string      { return query }
func (genericDialect) SupportsUpsert() bool            { return false }
func (genericDialect) SupportsReturning() bool         { return false }
func (genericDialect) InsertVerb(*Conflict) string     { return "INSERT INTO" }
func (genericDialect) ConflictClause(*Conflict) string { return "" }

func (genericDialect) SequenceNextSQL(sequence string) (string, error) {
	return "SELECT NEXT VALUE FOR " + sequence, nil
}

func (genericDialect) IsBatchDumb() bool                      { return true }
func (genericDialect) IsBatchUpdateExceptionUnreliable() bool { return false }
func (genericDialect) NeedsSavepoint() bool                   { return false }
