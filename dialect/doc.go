// Package dialect defines the connection contracts the save engine runs on.
//
// The Postgres, MySQL, SQLite and Generic constants name the databases the
// engine phrases statements for. A saver needs an ExecQuerier only, which
// Driver and Tx both are, so the caller decides the transaction:
//
//	drv, err := sql.Open("pgx", dsn)
//	...
//	tx, err := drv.Tx(ctx)
//	...
//	saver, err := mutation.NewSaver(tx, registry)
//	res, err := saver.Save(ctx, draft)
//	if err != nil {
//	    tx.Rollback()
//	}
//
// The statement phrasing of every dialect (placeholders, upserts, generated
// keys) lives in dialect/sql.
package dialect
