package sql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/syssam/persist/dialect"
)

func TestStatementVerb(t *testing.T) {
	for query, verb := range map[string]string{
		"INSERT INTO BOOK(ID) VALUES(?)":      "insert",
		"  update BOOK SET NAME = ?":          "update",
		"DELETE FROM BOOK WHERE ID = ?":       "delete",
		"SELECT ID FROM BOOK":                 "select",
		"SELECT nextval('BOOK_SEQ')":          "select",
		"PRAGMA foreign_keys = ON":            "other",
		"CREATE TABLE T(ID INTEGER NOT NULL)": "other",
	} {
		assert.Equal(t, verb, Statement{SQL: query}.Verb(), query)
	}
}

func TestHookedDriverStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	stats := NewStats()
	stats.SetSlowThreshold(-1)
	drv := WithHooks(OpenDB(dialect.SQLite, db), stats, SlowLog(zap.New(core), -1))
	ctx := context.Background()

	mock.ExpectQuery("SELECT ID FROM BOOK").WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO BOOK").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE BOOK").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT ID FROM BOOK", []any{}, rows))
	require.NoError(t, rows.Close())

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, tx.(dialect.Namer).Dialect())
	require.NoError(t, tx.Exec(ctx, "INSERT INTO BOOK(ID) VALUES(?)", []any{1}, nil))
	require.Error(t, tx.Exec(ctx, "UPDATE BOOK SET NAME = ?", []any{"x"}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := stats.Snapshot()
	assert.Equal(t, map[string]int64{"select": 1, "insert": 1, "update": 1}, s.Statements)
	assert.EqualValues(t, 3, s.Total())
	assert.EqualValues(t, 1, s.Errors)
	assert.EqualValues(t, 3, s.Slow)
	assert.EqualValues(t, 1, s.Rollbacks)
	assert.Zero(t, s.Commits)
	assert.Contains(t, s.String(), "insert=1 select=1 update=1 errors=1 slow=3")
	assert.Equal(t, 3, logs.FilterMessage("slow statement").Len())

	stats.Reset()
	assert.Zero(t, stats.Snapshot().Total())
}

func TestHookedDriverDebugLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	drv := WithHooks(OpenDB(dialect.Postgres, db), DebugLog(zap.New(core)))
	ctx := context.Background()

	mock.ExpectExec("UPDATE BOOK").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM BOOK").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, drv.Exec(ctx, "UPDATE BOOK SET NAME = $1", []any{"x"}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM BOOK", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"update", "tx begin", "delete", "tx commit"}, messages)
	first := logs.All()[0].ContextMap()
	assert.Equal(t, "UPDATE BOOK SET NAME = $1", first["sql"])
	assert.Equal(t, false, first["tx"])
	assert.Equal(t, true, logs.All()[2].ContextMap()["tx"])
}
