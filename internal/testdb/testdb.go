// Package testdb provides the sample model and in-memory SQLite databases
// shared by the package tests.
package testdb

import (
	stdsql "database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/schema"
)

// Registry returns the sample model:
//
//	BookStore 1-n Book n-n Author
//	Department 1-n Employee
//	Machine keyed by (host, port)
//	TreeNode self reference
func Registry() *schema.Registry {
	return schema.MustBuild(
		schema.NewType("BookStore",
			schema.ID("id", schema.KindUUID),
			schema.Field("name", schema.KindString),
			schema.Field("website", schema.KindString).Nullable(),
			schema.Field("version", schema.KindInt).Version(),
			schema.OneToMany("books", "Book").MappedBy("store"),
		).Key("name").IDGenerator(schema.UUID()),
		schema.NewType("Book",
			schema.ID("id", schema.KindUUID),
			schema.Field("name", schema.KindString),
			schema.Field("edition", schema.KindInt),
			schema.Field("price", schema.KindFloat),
			schema.ManyToOne("store", "BookStore").Nullable().OnDissociate(schema.DissociateSetNull),
			schema.ManyToMany("authors", "Author").JoinTable("BOOK_AUTHOR_MAPPING", "BOOK_ID", "AUTHOR_ID"),
		).Key("name", "edition").IDGenerator(schema.UUID()),
		schema.NewType("Author",
			schema.ID("id", schema.KindUUID),
			schema.Field("firstName", schema.KindString),
			schema.Field("lastName", schema.KindString),
			schema.Field("gender", schema.KindString),
			schema.ManyToMany("books", "Book").MappedBy("authors"),
		).Key("firstName", "lastName").IDGenerator(schema.UUID()),
		schema.NewType("Department",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
			schema.OneToMany("employees", "Employee").MappedBy("department"),
		).Key("name").IDGenerator(schema.Identity()),
		schema.NewType("Employee",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
			schema.Field("deleted", schema.KindBool).LogicalDeleted(),
			schema.ManyToOne("department", "Department").Nullable().OnDissociate(schema.DissociateDelete),
		).Key("name").IDGenerator(schema.Identity()),
		schema.NewType("Machine",
			schema.ID("id", schema.KindInt),
			schema.Field("host", schema.KindString),
			schema.Field("port", schema.KindInt),
			schema.Field("cpuFrequency", schema.KindInt),
			schema.Field("memorySize", schema.KindInt),
		).Key("host", "port").IDGenerator(schema.Identity()),
		schema.NewType("TreeNode",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
			schema.ManyToOne("parent", "TreeNode").Nullable().OnDissociate(schema.DissociateDelete),
			schema.OneToMany("childNodes", "TreeNode").MappedBy("parent"),
		).Key("name", "parent").IDGenerator(schema.Identity()),
	)
}

// DDL creates the tables of the sample model.
var DDL = []string{
	`CREATE TABLE BOOK_STORE(
		ID TEXT PRIMARY KEY,
		NAME TEXT NOT NULL UNIQUE,
		WEBSITE TEXT,
		VERSION INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE BOOK(
		ID TEXT PRIMARY KEY,
		NAME TEXT NOT NULL,
		EDITION INTEGER NOT NULL,
		PRICE REAL NOT NULL,
		STORE_ID TEXT REFERENCES BOOK_STORE(ID),
		UNIQUE(NAME, EDITION)
	)`,
	`CREATE TABLE AUTHOR(
		ID TEXT PRIMARY KEY,
		FIRST_NAME TEXT NOT NULL,
		LAST_NAME TEXT NOT NULL,
		GENDER TEXT NOT NULL,
		UNIQUE(FIRST_NAME, LAST_NAME)
	)`,
	`CREATE TABLE BOOK_AUTHOR_MAPPING(
		BOOK_ID TEXT NOT NULL REFERENCES BOOK(ID),
		AUTHOR_ID TEXT NOT NULL REFERENCES AUTHOR(ID),
		PRIMARY KEY(BOOK_ID, AUTHOR_ID)
	)`,
	`CREATE TABLE DEPARTMENT(
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		NAME TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE EMPLOYEE(
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		NAME TEXT NOT NULL UNIQUE,
		DELETED INTEGER NOT NULL DEFAULT 0,
		DEPARTMENT_ID INTEGER REFERENCES DEPARTMENT(ID)
	)`,
	`CREATE TABLE MACHINE(
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		HOST TEXT NOT NULL,
		PORT INTEGER NOT NULL,
		CPU_FREQUENCY INTEGER NOT NULL,
		MEMORY_SIZE INTEGER NOT NULL,
		UNIQUE(HOST, PORT)
	)`,
	`CREATE TABLE TREE_NODE(
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		NAME TEXT NOT NULL,
		PARENT_ID INTEGER REFERENCES TREE_NODE(ID),
		UNIQUE(NAME, PARENT_ID)
	)`,
}

// Open returns a driver on a fresh in-memory SQLite database with the
// sample tables and foreign keys enforced. Extra statements run after the
// DDL, typically fixture inserts.
func Open(t testing.TB, stmts ...string) *sql.Driver {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := stdsql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	stmts = append(append([]string{"PRAGMA foreign_keys = ON"}, DDL...), stmts...)
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return sql.OpenDB(dialect.SQLite, db)
}

// Scalar runs a single-value query.
func Scalar[T any](t testing.TB, drv *sql.Driver, query string, args ...any) T {
	t.Helper()
	var v T
	require.NoError(t, drv.DB().QueryRow(query, args...).Scan(&v), query)
	return v
}
