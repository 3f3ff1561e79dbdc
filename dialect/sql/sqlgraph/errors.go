// Package sqlgraph classifies the constraint violations reported by the
// database drivers the save engine runs on.
package sqlgraph

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsConstraintError reports any unique, foreign key or check violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) || IsForeignKeyConstraintError(err) || IsCheckConstraintError(err)
}

// Integrity constraint violations of SQLSTATE class 23 and their MySQL
// error numbers.
const (
	stateUnique     = "23505"
	stateForeignKey = "23503"
	stateCheck      = "23514"

	mysqlDupEntry      = 1062
	mysqlRowReferenced = 1451
	mysqlNoReferenced  = 1452
	mysqlCheck         = 3819
)

// violation describes how each driver reports one class of constraint
// violation.
type violation struct {
	sqlState string
	mysql    []uint16
	sqlite   []int
	fallback []string
}

var (
	uniqueViolation = violation{
		sqlState: stateUnique,
		mysql:    []uint16{mysqlDupEntry},
		sqlite:   []int{sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY},
		fallback: []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"},
	}
	foreignKeyViolation = violation{
		sqlState: stateForeignKey,
		mysql:    []uint16{mysqlRowReferenced, mysqlNoReferenced},
		sqlite:   []int{sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY},
		fallback: []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"},
	}
	checkViolation = violation{
		sqlState: stateCheck,
		mysql:    []uint16{mysqlCheck},
		sqlite:   []int{sqlite3.SQLITE_CONSTRAINT_CHECK},
		fallback: []string{"Error 3819", "violates check constraint", "CHECK constraint failed"},
	}
)

// IsUniqueConstraintError reports a duplicated primary key or unique key.
func IsUniqueConstraintError(err error) bool { return uniqueViolation.match(err) }

// IsForeignKeyConstraintError reports a missing referenced row, or a
// referenced row being deleted.
func IsForeignKeyConstraintError(err error) bool { return foreignKeyViolation.match(err) }

// IsCheckConstraintError reports a failed check constraint.
func IsCheckConstraintError(err error) bool { return checkViolation.match(err) }

// match tries the typed errors of the linked drivers, then any error with
// a SQLState method, such as the pgx ones, then the message.
func (v violation) match(err error) bool {
	if err == nil {
		return false
	}
	var (
		pe *pq.Error
		me *mysql.MySQLError
		se *sqlite.Error
		ss interface{ SQLState() string }
	)
	switch {
	case errors.As(err, &pe):
		return string(pe.Code) == v.sqlState
	case errors.As(err, &me):
		return slices.Contains(v.mysql, me.Number)
	case errors.As(err, &se):
		return slices.Contains(v.sqlite, se.Code())
	case errors.As(err, &ss) && ss.SQLState() == v.sqlState:
		return true
	}
	msg := err.Error()
	return slices.ContainsFunc(v.fallback, func(s string) bool { return strings.Contains(msg, s) })
}
