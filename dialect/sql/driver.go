package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/syssam/persist/dialect"
)

// Driver runs the statements of the save engine on a *sql.DB.
type Driver struct {
	Conn
	dialect string
}

// NewDriver returns a Driver of the given dialect on top of c.
func NewDriver(name string, c Conn) *Driver {
	return &Driver{Conn: c, dialect: name}
}

// Open opens a database with database/sql and wraps it. The name is used
// both as the database/sql driver name and the dialect, so aliases such as
// "sqlite3" or "pgx" resolve to their dialect.
func Open(name, source string) (*Driver, error) {
	db, err := sql.Open(name, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(name, db), nil
}

// OpenDB wraps an opened database.
func OpenDB(name string, db *sql.DB) *Driver {
	return NewDriver(name, Conn{ExecQuerier: db, dialect: name})
}

// DB returns the wrapped database.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect returns the canonical dialect name.
func (d Driver) Dialect() string { return dialectName(d.dialect) }

// Tx begins a transaction with the default options.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx begins a transaction. A nil opts uses the database defaults.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &Tx{Conn: Conn{ExecQuerier: tx, dialect: d.dialect}, Tx: tx}, nil
}

// Close closes the database.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a transaction of a Driver. It runs statements through its Conn and
// ends with the Commit or Rollback of the database/sql transaction.
type Tx struct {
	Conn
	driver.Tx
}

// ExecQuerier is the subset of *sql.DB and *sql.Tx used by Conn.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn adapts an ExecQuerier to dialect.ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Dialect returns the canonical dialect name.
func (c Conn) Dialect() string { return dialectName(c.dialect) }

// Exec runs a statement. v is either nil or a *Result receiving the
// outcome, which the engine reads affected row counts and generated ids
// from.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, err := argList(args)
	if err != nil {
		return err
	}
	var out *Result
	if v != nil {
		p, ok := v.(*Result)
		if !ok {
			return fmt.Errorf("dialect/sql: exec result must be *sql.Result, got %T", v)
		}
		out = p
	}
	res, err := c.ExecContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if out != nil {
		*out = res
	}
	return nil
}

// Query runs a query and stores its rows in v, which must be a *Rows.
// The caller closes the rows.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	out, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: query result must be *sql.Rows, got %T", v)
	}
	argv, err := argList(args)
	if err != nil {
		return err
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	out.ColumnScanner = rows
	return nil
}

func argList(args any) ([]any, error) {
	switch a := args.(type) {
	case nil:
		return nil, nil
	case []any:
		return a, nil
	default:
		return nil, fmt.Errorf("dialect/sql: statement arguments must be []any, got %T", args)
	}
}

// dialectName resolves driver names such as "sqlite3", "pgx" or
// "postgres-otel" to a dialect name. Unknown names are kept.
func dialectName(name string) string {
	base, _, _ := strings.Cut(name, "-")
	if d, err := DialectOf(base); err == nil {
		return d.Name()
	}
	return name
}

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
	_ dialect.Namer  = (*Tx)(nil)
)

type (
	// Rows holds the rows of a Query.
	Rows struct{ ColumnScanner }
	// Result is the outcome of an Exec.
	Result = sql.Result
	// NullInt64 reads nullable integer columns.
	NullInt64 = sql.NullInt64
	// TxOptions configures BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is implemented by *sql.Rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// IsTx reports whether ex runs inside a transaction.
func IsTx(ex dialect.ExecQuerier) bool {
	_, ok := ex.(driver.Tx)
	return ok
}
