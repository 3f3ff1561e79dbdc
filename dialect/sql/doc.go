// Package sql provides the database/sql backed driver and the statement
// layer of the save engine.
//
// # Dialects
//
// A Dialect captures everything that differs between databases: the bind
// syntax, the upsert statement, how generated ids come back and how a
// failing batch reports its rows.
//
//	d, _ := sql.DialectOf(dialect.Postgres)
//	sql.Insert("BOOK").Columns("ID", "NAME").Query(d)
//	// INSERT INTO BOOK(ID, NAME) VALUES($1, $2)
//
//	sql.Insert("MACHINE").Columns("HOST", "PORT", "CPU_FREQUENCY").
//	    OnConflict(&sql.Conflict{Columns: []string{"HOST", "PORT"}, Update: []string{"CPU_FREQUENCY"}}).
//	    Returning("ID").
//	    Query(d)
//	// INSERT INTO MACHINE(HOST, PORT, CPU_FREQUENCY) VALUES($1, $2, $3)
//	// ON CONFLICT(HOST, PORT) DO UPDATE SET CPU_FREQUENCY = excluded.CPU_FREQUENCY RETURNING ID
//
// # Builder Types
//
//   - InsertBuilder: single-row INSERT, optionally an upsert with RETURNING
//   - UpdateBuilder: UPDATE with SET assignments and AND-ed predicates
//   - DeleteBuilder: DELETE with AND-ed predicates
//   - Selector: SELECT used by the fetch executor
//
// Predicates are plain strings with ? placeholders (EQ, In, TupleIn, IsNull)
// and the caller supplies the arguments in order.
//
// # Batches
//
// ExecBatch and QueryBatch run one statement per row and stop at the first
// failing row. The returned *BatchError carries the row counts gathered so
// far so that the engine can tell which rows failed.
//
// # Drivers
//
// Driver and Tx implement dialect.Driver and dialect.Tx on top of
// database/sql. WithHooks wraps a Driver so that every statement and
// transaction event reaches a set of hooks: Stats counts statements per
// verb, DebugLog and SlowLog write them to a zap logger.
package sql
