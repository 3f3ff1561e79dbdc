package sql

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/dialect"
)

func TestDriverDialect(t *testing.T) {
	for name, want := range map[string]string{
		"sqlite":        dialect.SQLite,
		"sqlite3":       dialect.SQLite,
		"postgres":      dialect.Postgres,
		"pgx":           dialect.Postgres,
		"postgres-otel": dialect.Postgres,
		"mariadb":       dialect.MySQL,
		"mysql":         dialect.MySQL,
		"generic":       dialect.Generic,
		"oracle":        "oracle",
	} {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		drv := OpenDB(name, db)
		assert.Equal(t, want, drv.Dialect(), name)
		assert.Equal(t, want, drv.Conn.Dialect(), name)
		db.Close()
	}
}

func TestConnExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.MySQL, db)
	ctx := context.Background()

	t.Run("result", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO BOOK").WithArgs("GraphQL in Action").
			WillReturnResult(sqlmock.NewResult(10, 1))
		var res Result
		require.NoError(t, drv.Exec(ctx, "INSERT INTO BOOK(NAME) VALUES(?)", []any{"GraphQL in Action"}, &res))
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.EqualValues(t, 10, id)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("discard", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM BOOK_AUTHOR").WillReturnResult(sqlmock.NewResult(0, 3))
		require.NoError(t, drv.Exec(ctx, "DELETE FROM BOOK_AUTHOR", nil, nil))
	})

	t.Run("failure", func(t *testing.T) {
		mock.ExpectExec("UPDATE BOOK").WillReturnError(assert.AnError)
		err := drv.Exec(ctx, "UPDATE BOOK SET NAME = ?", []any{"x"}, nil)
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "dialect/sql: exec")
	})

	t.Run("bad result", func(t *testing.T) {
		var n int64
		err := drv.Exec(ctx, "UPDATE BOOK SET NAME = ?", []any{"x"}, &n)
		assert.ErrorContains(t, err, "*int64")
	})

	t.Run("bad args", func(t *testing.T) {
		err := drv.Exec(ctx, "UPDATE BOOK SET NAME = ?", "x", nil)
		assert.ErrorContains(t, err, "must be []any")
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT ID, EDITION FROM BOOK").WithArgs("SQL in Action").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "EDITION"}).AddRow(1, nil).AddRow(2, 3))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT ID, EDITION FROM BOOK WHERE NAME = $1", []any{"SQL in Action"}, rows))
	var editions []NullInt64
	for rows.Next() {
		var (
			id      int64
			edition NullInt64
		)
		require.NoError(t, rows.Scan(&id, &edition))
		editions = append(editions, edition)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []NullInt64{{}, {Int64: 3, Valid: true}}, editions)

	var res Result
	assert.ErrorContains(t, drv.Query(ctx, "SELECT 1", []any{}, &res), "*sql.Rows")
	assert.ErrorContains(t, drv.Query(ctx, "SELECT 1", map[string]any{}, &Rows{}), "must be []any")

	mock.ExpectQuery("SELECT ID FROM AUTHOR").WillReturnError(assert.AnError)
	require.ErrorIs(t, drv.Query(ctx, "SELECT ID FROM AUTHOR", []any{}, &Rows{}), assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB("sqlite3", db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO TREE_NODE").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	assert.True(t, IsTx(tx))
	assert.False(t, IsTx(drv))
	n, ok := tx.(dialect.Namer)
	require.True(t, ok)
	assert.Equal(t, dialect.SQLite, n.Dialect())
	require.NoError(t, tx.Exec(ctx, "INSERT INTO TREE_NODE(NAME) VALUES(?)", []any{"Food"}, nil))
	require.NoError(t, tx.Commit())

	mock.ExpectBegin()
	mock.ExpectRollback()
	tx, err = drv.BeginTx(ctx, &TxOptions{Isolation: sql.LevelSerializable})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	mock.ExpectBegin().WillReturnError(assert.AnError)
	_, err = drv.Tx(ctx)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "dialect/sql: begin")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverCanceledContext(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = drv.Exec(ctx, "UPDATE BOOK SET PRICE = $1", []any{80}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
