package mutation_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/internal/testdb"
	"github.com/syssam/persist/mutation"
	"github.com/syssam/persist/privacy"
	"github.com/syssam/persist/schema"
)

var (
	manningID = uuid.MustParse("2fa3955e-3e83-49b9-902e-0465c109c779")
	graphqlID = uuid.MustParse("e110c564-23cc-4811-9e81-d587a13db634")
	alexID    = uuid.MustParse("1e93da94-af84-44f4-82d1-d8a9fd52ea94")
	danID     = uuid.MustParse("c14665c8-c689-4ac7-b8cc-6f065b8d835d")
)

func fixtures() []string {
	return []string{
		`INSERT INTO BOOK_STORE(ID, NAME, WEBSITE, VERSION) VALUES('` + manningID.String() + `', 'MANNING', NULL, 0)`,
		`INSERT INTO BOOK(ID, NAME, EDITION, PRICE, STORE_ID) VALUES('` + graphqlID.String() + `', 'GraphQL in Action', 1, 80, '` + manningID.String() + `')`,
		`INSERT INTO AUTHOR(ID, FIRST_NAME, LAST_NAME, GENDER) VALUES('` + alexID.String() + `', 'Alex', 'Banks', 'M')`,
		`INSERT INTO AUTHOR(ID, FIRST_NAME, LAST_NAME, GENDER) VALUES('` + danID.String() + `', 'Dan', 'Vanderkam', 'M')`,
		`INSERT INTO BOOK_AUTHOR_MAPPING(BOOK_ID, AUTHOR_ID) VALUES('` + graphqlID.String() + `', '` + alexID.String() + `')`,
		`INSERT INTO DEPARTMENT(ID, NAME) VALUES(1, 'Develop')`,
		`INSERT INTO EMPLOYEE(ID, NAME, DELETED, DEPARTMENT_ID) VALUES(1, 'Alice', 0, 1)`,
		`INSERT INTO EMPLOYEE(ID, NAME, DELETED, DEPARTMENT_ID) VALUES(2, 'Bob', 0, 1)`,
		`INSERT INTO MACHINE(ID, HOST, PORT, CPU_FREQUENCY, MEMORY_SIZE) VALUES(1, 'localhost', 8080, 2, 8)`,
	}
}

func newSaver(t *testing.T, drv dialect.ExecQuerier, reg *schema.Registry, opts ...mutation.Option) *mutation.Saver {
	t.Helper()
	s, err := mutation.NewSaver(drv, reg, opts...)
	require.NoError(t, err)
	return s
}

func TestNewSaver(t *testing.T) {
	_, err := mutation.NewSaver(nil, testdb.Registry())
	assert.True(t, mutation.IsConfigError(err))
	drv := testdb.Open(t)
	_, err = mutation.NewSaver(drv, nil)
	assert.True(t, mutation.IsConfigError(err))
	_, err = mutation.NewSaver(drv, testdb.Registry(), mutation.WithBatchSize(-1))
	assert.True(t, mutation.IsConfigError(err))
}

func TestSaveInsertByGeneratedID(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("name", "O'REILLY").Set("website", "https://oreilly.com")

	res, err := newSaver(t, drv, reg).Save(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"BookStore": 1}, res.AffectedRowCounts)
	assert.Equal(t, 1, res.TotalAffectedRowCount())

	_, ok := store.ID()
	assert.False(t, ok, "original draft is never modified")
	assert.Same(t, store, res.Original)
	id, ok := res.Modified.ID()
	require.True(t, ok)
	assert.IsType(t, uuid.UUID{}, id)
	assert.Equal(t, int64(0), res.Modified.Value("version"))
	assert.Equal(t, "O'REILLY", testdb.Scalar[string](t, drv, "SELECT NAME FROM BOOK_STORE WHERE ID = ?", id.(uuid.UUID).String()))
}

func TestSaveIdentity(t *testing.T) {
	drv := testdb.Open(t, `INSERT INTO sqlite_sequence(name, seq) VALUES('DEPARTMENT', 99)`)
	reg := testdb.Registry()
	dept := reg.Type("Department")

	res, err := newSaver(t, drv, reg).SaveAll(context.Background(), []*entity.Draft{
		entity.New(dept).Set("name", "Market"),
		entity.New(dept).Set("name", "Sales"),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	for i, want := range []int64{100, 101} {
		id, ok := res.Items[i].Modified.ID()
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
	assert.Equal(t, 2, res.AffectedRowCounts["Department"])
}

func TestSaveUpsertByKey(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	machine := entity.New(reg.Type("Machine")).
		Set("host", "localhost").
		Set("port", 8080).
		Set("cpuFrequency", 4).
		Set("memorySize", 16)

	res, err := newSaver(t, drv, reg).Save(context.Background(), machine)
	require.NoError(t, err)
	id, _ := res.Modified.ID()
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, res.AffectedRowCounts["Machine"])
	assert.Equal(t, int64(4), testdb.Scalar[int64](t, drv, "SELECT CPU_FREQUENCY FROM MACHINE WHERE ID = 1"))
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM MACHINE"))
}

func TestSaveUpdateOnlyByKey(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	typ := reg.Type("Machine")

	res, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeUpdateOnly)).SaveAll(context.Background(), []*entity.Draft{
		entity.New(typ).Set("host", "localhost").Set("port", 8080).Set("memorySize", 32),
		entity.New(typ).Set("host", "localhost").Set("port", 9090).Set("memorySize", 64),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Machine": 1}, res.AffectedRowCounts)
	id, ok := res.Items[0].Modified.ID()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	_, ok = res.Items[1].Modified.ID()
	assert.False(t, ok, "absent rows are skipped")
	assert.Equal(t, int64(32), testdb.Scalar[int64](t, drv, "SELECT MEMORY_SIZE FROM MACHINE WHERE ID = 1"))
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM MACHINE"))
}

func TestSaveUpdateOnlyNeitherIDNorKey(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	machine := entity.New(reg.Type("Machine")).Set("cpuFrequency", 4)

	_, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeUpdateOnly)).Save(context.Background(), machine)
	require.ErrorIs(t, err, persist.ErrNeitherIDNorKey)
}

func TestSaveConflictID(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("id", manningID).Set("name", "APRESS")

	_, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeInsertOnly)).Save(context.Background(), store)
	require.ErrorIs(t, err, persist.ErrConflictID)
	se, ok := persist.AsSaveError(err)
	require.True(t, ok)
	assert.Equal(t, "<root>", se.Path)
	assert.Equal(t, "BookStore", se.Type)
	assert.Equal(t, manningID, se.ID)
	assert.NotNil(t, errors.Unwrap(err), "driver error is kept")
}

func TestSaveConflictKey(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("name", "MANNING")

	_, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeInsertOnly)).Save(context.Background(), store)
	require.ErrorIs(t, err, persist.ErrConflictKey)
	se, ok := persist.AsSaveError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, se.KeyProps)
	assert.Equal(t, []any{"MANNING"}, se.KeyValues)
}

// unreliableCounts reports the row counts of failed batches as
// untrustworthy, as MySQL does.
type unreliableCounts struct{ sql.Dialect }

func (unreliableCounts) IsBatchUpdateExceptionUnreliable() bool { return true }

func TestSaveConflictKeyAfterWrittenRows(t *testing.T) {
	reg := testdb.Registry()
	typ := reg.Type("BookStore")
	for name, d := range map[string]sql.Dialect{
		"Dumb":       sql.GenericDialect,
		"Unreliable": unreliableCounts{sql.SQLiteDialect},
	} {
		t.Run(name, func(t *testing.T) {
			drv := testdb.Open(t, fixtures()...)
			s := newSaver(t, drv, reg, mutation.WithDialect(d), mutation.WithMode(persist.SaveModeInsertOnly))
			_, err := s.SaveAll(context.Background(), []*entity.Draft{
				entity.New(typ).Set("name", "APRESS"),
				entity.New(typ).Set("name", "MANNING"),
			})
			require.ErrorIs(t, err, persist.ErrConflictKey)
			se, _ := persist.AsSaveError(err)
			assert.Equal(t, []any{"MANNING"}, se.KeyValues)
		})
	}
}

func TestSaveConflictKeyOfSavedGroup(t *testing.T) {
	reg := schema.MustBuild(
		schema.NewType("Device",
			schema.ID("id", schema.KindInt),
			schema.Field("serial", schema.KindString).Nullable(),
			schema.Field("host", schema.KindString),
			schema.Field("port", schema.KindInt),
		).
			IDGenerator(schema.Identity()).
			KeyGroup("serial", "serial").
			KeyGroup("address", "host", "port"),
	)
	drv := testdb.Open(t,
		`CREATE TABLE DEVICE(ID INTEGER PRIMARY KEY AUTOINCREMENT, SERIAL TEXT UNIQUE, HOST TEXT NOT NULL, PORT INTEGER NOT NULL, UNIQUE(HOST, PORT))`,
		`INSERT INTO DEVICE(ID, SERIAL, HOST, PORT) VALUES(1, 'SN-1', 'localhost', 8080)`,
	)
	device := entity.New(reg.Type("Device")).Set("host", "localhost").Set("port", 8080)

	_, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeInsertOnly)).Save(context.Background(), device)
	require.ErrorIs(t, err, persist.ErrConflictKey)
	se, _ := persist.AsSaveError(err)
	assert.Equal(t, []string{"host", "port"}, se.KeyProps, "groups the draft does not set are not reported")
	assert.Equal(t, []any{"localhost", int64(8080)}, se.KeyValues)
}

func TestSaveDuplicateRootDrafts(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	typ := reg.Type("Machine")

	_, err := newSaver(t, drv, reg).SaveAll(context.Background(), []*entity.Draft{
		entity.New(typ).Set("host", "localhost").Set("port", 8080).Set("cpuFrequency", 2).Set("memorySize", 8),
		entity.New(typ).Set("host", "localhost").Set("port", 8080).Set("cpuFrequency", 4).Set("memorySize", 8),
	})
	require.ErrorIs(t, err, persist.ErrConflictKey)
	assert.Equal(t, int64(0), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM MACHINE"))
}

func TestSaveIllegalTargetID(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	missing := uuid.New()
	book := entity.New(reg.Type("Book")).
		Set("name", "Learning GraphQL").
		Set("edition", 1).
		Set("price", 45.0).
		Set("store", entity.IDOnly(reg.Type("BookStore"), missing))

	_, err := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeInsertOnly)).Save(context.Background(), book)
	require.ErrorIs(t, err, persist.ErrIllegalTargetID)
	se, _ := persist.AsSaveError(err)
	assert.Equal(t, "<root>.store", se.Path)
	assert.Equal(t, "store", se.Prop)
	assert.Equal(t, missing, se.ID)
}

func TestSaveOptimisticLock(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	s := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeUpdateOnly))
	typ := reg.Type("BookStore")

	stale := entity.New(typ).Set("id", manningID).Set("website", "https://manning.com").Set("version", 5)
	_, err := s.Save(context.Background(), stale)
	require.ErrorIs(t, err, persist.ErrOptimisticLock)

	fresh := entity.New(typ).Set("id", manningID).Set("website", "https://manning.com").Set("version", 0)
	res, err := s.Save(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Modified.Value("version"))
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT VERSION FROM BOOK_STORE WHERE ID = ?", manningID.String()))

	_, err = s.Save(context.Background(), stale, mutation.WithLockMode(persist.LockModeNone))
	require.NoError(t, err, "lock mode none ignores the version")
}

func TestSaveUpsertVersion(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	s := newSaver(t, drv, reg)
	typ := reg.Type("BookStore")
	version := func() int64 {
		return testdb.Scalar[int64](t, drv, "SELECT VERSION FROM BOOK_STORE WHERE ID = ?", manningID.String())
	}

	stale := entity.New(typ).Set("id", manningID).Set("website", "https://stale").Set("version", 5)
	_, err := s.Save(context.Background(), stale)
	require.ErrorIs(t, err, persist.ErrOptimisticLock)
	assert.Zero(t, testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK_STORE WHERE WEBSITE IS NOT NULL"))
	assert.Equal(t, int64(0), version())

	fresh := entity.New(typ).Set("id", manningID).Set("website", "https://manning.com").Set("version", 0)
	res, err := s.Save(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Modified.Value("version"))
	assert.Equal(t, int64(1), version())

	unversioned := entity.New(typ).Set("id", manningID).Set("name", "MANNING").Set("website", "https://www.manning.com")
	_, err = s.Save(context.Background(), unversioned)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version(), "updates without version still bump it")
	assert.Equal(t, "https://www.manning.com", testdb.Scalar[string](t, drv, "SELECT WEBSITE FROM BOOK_STORE WHERE ID = ?", manningID.String()))

	_, err = s.Save(context.Background(), stale, mutation.WithDialect(sql.GenericDialect))
	require.ErrorIs(t, err, persist.ErrOptimisticLock)
}

func TestSaveUserLock(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	lock := mutation.UserLock{
		Predicate: "MEMORY_SIZE < ?",
		Args:      func(d *entity.Draft) []any { return []any{d.Value("memorySize")} },
	}
	s := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeUpdateOnly), mutation.WithUserLock("Machine", lock))
	typ := reg.Type("Machine")

	_, err := s.Save(context.Background(), entity.New(typ).Set("id", 1).Set("memorySize", 4))
	require.ErrorIs(t, err, persist.ErrOptimisticLock)
	_, err = s.Save(context.Background(), entity.New(typ).Set("id", 1).Set("memorySize", 16))
	require.NoError(t, err)
	assert.Equal(t, int64(16), testdb.Scalar[int64](t, drv, "SELECT MEMORY_SIZE FROM MACHINE WHERE ID = 1"))
}

func TestSaveReplaceChildren(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	emp := reg.Type("Employee")
	dept := entity.New(reg.Type("Department")).
		Set("id", 1).
		Set("name", "Develop").
		Set("employees", []*entity.Draft{
			entity.New(emp).Set("name", "Alice"),
			entity.New(emp).Set("name", "Carol"),
		})
	col := &mutation.Collector{}

	res, err := newSaver(t, drv, reg, mutation.WithTrigger(col)).Save(context.Background(), dept)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedRowCounts["Department"])
	assert.Equal(t, 3, res.AffectedRowCounts["Employee"])

	employees := res.Modified.Refs("employees")
	require.Len(t, employees, 2)
	alice, _ := employees[0].ID()
	assert.Equal(t, int64(1), alice)
	_, ok := employees[1].ID()
	assert.True(t, ok)

	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT DELETED FROM EMPLOYEE WHERE NAME = 'Bob'"), "Bob is deleted logically")
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT DEPARTMENT_ID FROM EMPLOYEE WHERE NAME = 'Carol'"))

	var deleted []any
	for _, e := range col.Events() {
		if e.Op == persist.OpDelete {
			deleted = append(deleted, e.ID)
		}
	}
	assert.Equal(t, []any{int64(2)}, deleted)
}

func TestSaveReplaceChildrenPhysically(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	dept := entity.New(reg.Type("Department")).Set("id", 1).Set("employees", []*entity.Draft{})

	_, err := newSaver(t, drv, reg, mutation.WithDeleteMode(persist.DeleteModePhysical)).Save(context.Background(), dept)
	require.NoError(t, err)
	assert.Equal(t, int64(0), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM EMPLOYEE"))
}

func TestSaveReplaceChildrenSetNull(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("id", manningID).Set("books", []*entity.Draft{})

	res, err := newSaver(t, drv, reg).Save(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedRowCounts["Book"])
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK WHERE STORE_ID IS NULL"))
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK"), "set null keeps the child")
}

func TestSaveAppendChildrenKeepsOthers(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	dept := entity.New(reg.Type("Department")).
		Set("id", 1).
		Set("employees", []*entity.Draft{entity.New(reg.Type("Employee")).Set("name", "Carol")})

	_, err := newSaver(t, drv, reg, mutation.WithAssociatedMode(persist.AssociatedAppend)).Save(context.Background(), dept)
	require.NoError(t, err)
	assert.Equal(t, int64(3), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM EMPLOYEE WHERE DELETED = 0 AND DEPARTMENT_ID = 1"))
}

func TestSaveMiddleTable(t *testing.T) {
	reg := testdb.Registry()
	authors := func(ids ...uuid.UUID) []*entity.Draft {
		refs := make([]*entity.Draft, len(ids))
		for i, id := range ids {
			refs[i] = entity.IDOnly(reg.Type("Author"), id)
		}
		return refs
	}
	mapped := func(t *testing.T, drv *sql.Driver, author uuid.UUID) int64 {
		return testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK_AUTHOR_MAPPING WHERE BOOK_ID = ? AND AUTHOR_ID = ?", graphqlID.String(), author.String())
	}
	t.Run("Replace", func(t *testing.T) {
		drv := testdb.Open(t, fixtures()...)
		book := entity.New(reg.Type("Book")).Set("id", graphqlID).Set("authors", authors(danID))
		res, err := newSaver(t, drv, reg).Save(context.Background(), book)
		require.NoError(t, err)
		assert.Equal(t, 2, res.AffectedRowCounts["BOOK_AUTHOR_MAPPING"])
		assert.Zero(t, mapped(t, drv, alexID))
		assert.Equal(t, int64(1), mapped(t, drv, danID))
	})
	t.Run("Append", func(t *testing.T) {
		drv := testdb.Open(t, fixtures()...)
		book := entity.New(reg.Type("Book")).Set("id", graphqlID).Set("authors", authors(alexID, danID))
		res, err := newSaver(t, drv, reg, mutation.WithAssociatedModeOf("Book.authors", persist.AssociatedAppend)).Save(context.Background(), book)
		require.NoError(t, err)
		assert.Equal(t, 1, res.AffectedRowCounts["BOOK_AUTHOR_MAPPING"])
		assert.Equal(t, int64(1), mapped(t, drv, alexID))
		assert.Equal(t, int64(1), mapped(t, drv, danID))
	})
	t.Run("IllegalTarget", func(t *testing.T) {
		drv := testdb.Open(t, fixtures()...)
		missing := uuid.New()
		book := entity.New(reg.Type("Book")).Set("id", graphqlID).Set("authors", authors(alexID, missing))
		_, err := newSaver(t, drv, reg).Save(context.Background(), book)
		require.ErrorIs(t, err, persist.ErrIllegalTargetID)
		se, _ := persist.AsSaveError(err)
		assert.Equal(t, "<root>.authors", se.Path)
		assert.Equal(t, missing, se.ID)
	})
}

func TestSaveCascadeParentFirst(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("name", "APRESS")
	book := entity.New(reg.Type("Book")).
		Set("name", "Effective TypeScript").
		Set("edition", 2).
		Set("price", 39.9).
		Set("store", store)

	res, err := newSaver(t, drv, reg).Save(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"BookStore": 1, "Book": 1}, res.AffectedRowCounts)
	storeID, ok := res.Modified.Ref("store").ID()
	require.True(t, ok)
	assert.Equal(t, storeID.(uuid.UUID).String(), testdb.Scalar[string](t, drv, "SELECT STORE_ID FROM BOOK"))
}

func TestSaveTree(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	node := reg.Type("TreeNode")
	root := entity.New(node).Set("name", "root").Set("parent", nil).Set("childNodes", []*entity.Draft{
		entity.New(node).Set("name", "food").Set("childNodes", []*entity.Draft{
			entity.New(node).Set("name", "drinks"),
		}),
		entity.New(node).Set("name", "clothing"),
	})

	res, err := newSaver(t, drv, reg).Save(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 4, res.AffectedRowCounts["TreeNode"])
	rootID, _ := res.Modified.ID()
	assert.Equal(t, int64(2), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM TREE_NODE WHERE PARENT_ID = ?", rootID))
	assert.Equal(t, "food", testdb.Scalar[string](t, drv,
		"SELECT p.NAME FROM TREE_NODE c JOIN TREE_NODE p ON c.PARENT_ID = p.ID WHERE c.NAME = 'drinks'"))
}

func TestSaveNestedAliases(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	author := reg.Type("Author")
	shared := func() *entity.Draft {
		return entity.New(author).Set("firstName", "Eve").Set("lastName", "Porcello").Set("gender", "F")
	}
	book := entity.New(reg.Type("Book")).
		Set("name", "Learning GraphQL").
		Set("edition", 1).
		Set("price", 45.0).
		Set("store", nil).
		Set("authors", []*entity.Draft{shared(), shared()})

	res, err := newSaver(t, drv, reg).Save(context.Background(), book)
	require.NoError(t, err)
	refs := res.Modified.Refs("authors")
	require.Len(t, refs, 2)
	a, _ := refs[0].ID()
	b, _ := refs[1].ID()
	assert.Equal(t, a, b, "nested duplicates share the saved id")
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM AUTHOR"))
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK_AUTHOR_MAPPING"))
}

func TestSaveEmulatedUpsert(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	typ := reg.Type("Machine")

	res, err := newSaver(t, drv, reg, mutation.WithDialect(sql.GenericDialect)).SaveAll(context.Background(), []*entity.Draft{
		entity.New(typ).Set("host", "localhost").Set("port", 8080).Set("cpuFrequency", 8).Set("memorySize", 8),
		entity.New(typ).Set("host", "localhost").Set("port", 9090).Set("cpuFrequency", 2).Set("memorySize", 4),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.AffectedRowCounts["Machine"])
	id, _ := res.Items[0].Modified.ID()
	assert.Equal(t, int64(1), id)
	id, ok := res.Items[1].Modified.ID()
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, int64(8), testdb.Scalar[int64](t, drv, "SELECT CPU_FREQUENCY FROM MACHINE WHERE ID = 1"))
}

func TestSaveReadsThroughCache(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	s := newSaver(t, drv, reg,
		mutation.WithDialect(sql.GenericDialect),
		mutation.WithMode(persist.SaveModeInsertIfAbsent),
		mutation.WithCache(cache.NewMemory(), time.Minute),
	)
	store := entity.New(reg.Type("BookStore")).Set("name", "APRESS")
	ctx := context.Background()

	for range 2 {
		_, err := s.Save(ctx, store)
		require.NoError(t, err)
	}
	require.NoError(t, drv.Exec(ctx, "DELETE FROM BOOK_STORE", []any{}, nil))

	res, err := s.Save(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedRowCounts["BookStore"])
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK_STORE WHERE NAME = 'APRESS'"))
}

func TestSaveIdempotent(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	s := newSaver(t, drv, reg)
	book := entity.New(reg.Type("Book")).
		Set("name", "GraphQL in Action").
		Set("edition", 1).
		Set("price", 80.0).
		Set("store", entity.IDOnly(reg.Type("BookStore"), manningID)).
		Set("authors", []*entity.Draft{
			entity.IDOnly(reg.Type("Author"), alexID),
			entity.IDOnly(reg.Type("Author"), danID),
		})

	first, err := s.Save(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AffectedRowCounts["BOOK_AUTHOR_MAPPING"])
	second, err := s.Save(context.Background(), book)
	require.NoError(t, err)
	assert.Zero(t, second.AffectedRowCounts["BOOK_AUTHOR_MAPPING"])

	for _, res := range []*mutation.SimpleSaveResult{first, second} {
		id, _ := res.Modified.ID()
		assert.Equal(t, graphqlID, id)
	}
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK"))
	assert.Equal(t, int64(2), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK_AUTHOR_MAPPING"))
}

func TestSaveFetcher(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	typ := reg.Type("BookStore")

	t.Run("Trim", func(t *testing.T) {
		store := entity.New(typ).Set("name", "MANNING").Set("website", "https://manning.com")
		res, err := newSaver(t, drv, reg, mutation.WithFetcher(fetch.New(typ).Add("name"))).Save(context.Background(), store)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, res.Modified.LoadedProps())
	})
	t.Run("Refetch", func(t *testing.T) {
		store := entity.New(typ).Set("name", "MANNING").Set("website", "https://manning.com")
		res, err := newSaver(t, drv, reg, mutation.WithFetcher(fetch.New(typ).Add("name", "books"))).Save(context.Background(), store)
		require.NoError(t, err)
		books := res.Modified.Refs("books")
		require.Len(t, books, 1)
		id, _ := books[0].ID()
		assert.Equal(t, graphqlID, id)
	})
}

func TestSavePrivacy(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	policy := privacy.OnTypes(privacy.AlwaysDenyRule(), "Book")
	store := entity.New(reg.Type("BookStore")).Set("name", "APRESS").Set("books", []*entity.Draft{
		entity.New(reg.Type("Book")).Set("name", "Pro Go").Set("edition", 1).Set("price", 50.0),
	})

	_, err := newSaver(t, drv, reg, mutation.WithPolicy(policy)).Save(context.Background(), store)
	require.True(t, persist.IsPrivacyError(err), "got %v", err)
	assert.Equal(t, int64(0), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM BOOK"))
}

func TestSaveTrigger(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	store := entity.New(reg.Type("BookStore")).Set("name", "APRESS")

	col := &mutation.Collector{}
	res, err := newSaver(t, drv, reg, mutation.WithTrigger(col)).Save(context.Background(), store)
	require.NoError(t, err)
	events := col.Events()
	require.Len(t, events, 1)
	id, _ := res.Modified.ID()
	assert.Equal(t, persist.OpInsert, events[0].Op)
	assert.Equal(t, "BookStore", events[0].Type)
	assert.Equal(t, "BOOK_STORE", events[0].Table)
	assert.Equal(t, id, events[0].ID)

	failing := mutation.TriggerFunc(func(context.Context, []mutation.ChangeEvent) error {
		return errors.New("broker down")
	})
	_, err = newSaver(t, drv, reg, mutation.WithTrigger(failing)).Save(context.Background(), entity.New(reg.Type("BookStore")).Set("name", "PACKT"))
	require.ErrorContains(t, err, "broker down")

	col.Reset()
	ctx := context.Background()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	s := newSaver(t, tx, reg, mutation.WithTrigger(col))
	res, err = s.Save(ctx, entity.New(reg.Type("BookStore")).Set("name", "APRESS"))
	require.NoError(t, err)
	assert.Empty(t, col.Events(), "changes are not published before the commit")
	require.Len(t, res.Events, 1)
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Submit(ctx, res.Events))
	assert.Len(t, col.Events(), 1)
}

func TestSaveAllMixedTypes(t *testing.T) {
	drv := testdb.Open(t)
	reg := testdb.Registry()
	_, err := newSaver(t, drv, reg).SaveAll(context.Background(), []*entity.Draft{
		entity.New(reg.Type("BookStore")).Set("name", "APRESS"),
		entity.New(reg.Type("Machine")).Set("host", "localhost"),
	})
	require.Error(t, err)

	res, err := newSaver(t, drv, reg).SaveAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalAffectedRowCount())
}

// restrictedRegistry declares associations the engine refuses to save.
func restrictedRegistry() *schema.Registry {
	return schema.MustBuild(
		schema.NewType("Team",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
			schema.ManyToMany("tags", "Tag").JoinTable("TEAM_TAG", "TEAM_ID", "TAG_ID").ReadonlyJoinTable(),
			schema.ManyToMany("rivals", "Team").JoinSQL("%alias.ID <> %target_alias.ID"),
			schema.OneToMany("members", "Member").MappedBy("team").Remote(),
		).IDGenerator(schema.Identity()),
		schema.NewType("Tag",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
		).IDGenerator(schema.Identity()),
		schema.NewType("Member",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
			schema.ManyToOne("team", "Team").Remote(),
		).IDGenerator(schema.Identity()),
	)
}

func TestSaveRejectedAssociations(t *testing.T) {
	reg := restrictedRegistry()
	team := reg.Type("Team")
	tests := []struct {
		name string
		prop string
		refs []*entity.Draft
		want error
	}{
		{"ReadonlyMiddleTable", "tags", []*entity.Draft{entity.IDOnly(reg.Type("Tag"), 1)}, persist.ErrReadonlyMiddleTable},
		{"UnstructuredAssociation", "rivals", []*entity.Draft{entity.IDOnly(team, 2)}, persist.ErrUnstructuredAssociation},
		{"ReversedRemoteAssociation", "members", []*entity.Draft{entity.IDOnly(reg.Type("Member"), 1)}, persist.ErrReversedRemoteAssociation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := testdb.Open(t, `CREATE TABLE TEAM(ID INTEGER PRIMARY KEY AUTOINCREMENT, NAME TEXT NOT NULL)`)
			d := entity.New(team).Set("id", 1).Set("name", "core").Set(tt.prop, tt.refs)
			_, err := newSaver(t, drv, reg).Save(context.Background(), d)
			require.ErrorIs(t, err, tt.want)
			se, _ := persist.AsSaveError(err)
			assert.Equal(t, "<root>."+tt.prop, se.Path)
			assert.Equal(t, tt.prop, se.Prop)
		})
	}
}

func TestSaveNullTarget(t *testing.T) {
	reg := restrictedRegistry()
	member := entity.New(reg.Type("Member")).Set("name", "kim").Set("team", nil)

	_, err := newSaver(t, testdb.Open(t), reg).Save(context.Background(), member)
	require.ErrorIs(t, err, persist.ErrNullTarget)
	se, _ := persist.AsSaveError(err)
	assert.Equal(t, "<root>", se.Path)
	assert.Equal(t, "team", se.Prop)
}

func TestSavePostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	reg := testdb.Registry()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO MACHINE(HOST, PORT, CPU_FREQUENCY, MEMORY_SIZE) VALUES($1, $2, $3, $4) ON CONFLICT(HOST, PORT) DO UPDATE SET CPU_FREQUENCY = excluded.CPU_FREQUENCY, MEMORY_SIZE = excluded.MEMORY_SIZE RETURNING ID`)).
		WithArgs("localhost", int64(8080), int64(4), int64(16)).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(7)))

	machine := entity.New(reg.Type("Machine")).Set("host", "localhost").Set("port", 8080).Set("cpuFrequency", 4).Set("memorySize", 16)
	res, err := newSaver(t, sql.OpenDB(dialect.Postgres, db), reg).Save(context.Background(), machine)
	require.NoError(t, err)
	id, _ := res.Modified.ID()
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	reg := testdb.Registry()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO MACHINE(HOST, PORT, CPU_FREQUENCY, MEMORY_SIZE) VALUES(?, ?, ?, ?) ON DUPLICATE KEY UPDATE CPU_FREQUENCY = VALUES(CPU_FREQUENCY), MEMORY_SIZE = VALUES(MEMORY_SIZE), ID = LAST_INSERT_ID(ID)`)).
		WithArgs("localhost", int64(8080), int64(4), int64(16)).
		WillReturnResult(sqlmock.NewResult(7, 2))

	machine := entity.New(reg.Type("Machine")).Set("host", "localhost").Set("port", 8080).Set("cpuFrequency", 4).Set("memorySize", 16)
	res, err := newSaver(t, sql.OpenDB(dialect.MySQL, db), reg).Save(context.Background(), machine)
	require.NoError(t, err)
	id, _ := res.Modified.ID()
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, res.AffectedRowCounts["Machine"], "updated rows reported as 2 count once")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConflictInvestigatedAtOnce(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	typ := reg.Type("BookStore")
	s := newSaver(t, drv, reg, mutation.WithMode(persist.SaveModeInsertOnly), mutation.WithInvestigateThreshold(1))

	_, err := s.SaveAll(context.Background(), []*entity.Draft{
		entity.New(typ).Set("name", "APRESS"),
		entity.New(typ).Set("name", "MANNING"),
		entity.New(typ).Set("name", "PACKT"),
	})
	require.ErrorIs(t, err, persist.ErrConflictKey)
	se, _ := persist.AsSaveError(err)
	assert.Equal(t, []any{"MANNING"}, se.KeyValues)
}

func TestSaveViolentlyReplace(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	book := entity.New(reg.Type("Book")).
		Set("id", graphqlID).
		Set("authors", []*entity.Draft{entity.IDOnly(reg.Type("Author"), danID)})

	res, err := newSaver(t, drv, reg, mutation.WithAssociatedMode(persist.AssociatedViolentlyReplace)).Save(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AffectedRowCounts["BOOK_AUTHOR_MAPPING"])
	assert.Equal(t, danID.String(), testdb.Scalar[string](t, drv, "SELECT AUTHOR_ID FROM BOOK_AUTHOR_MAPPING WHERE BOOK_ID = ?", graphqlID.String()))
}

func TestSaveCannotDissociate(t *testing.T) {
	reg := schema.MustBuild(
		schema.NewType("Cart",
			schema.ID("id", schema.KindInt),
			schema.OneToMany("items", "CartItem").MappedBy("cart"),
		).IDGenerator(schema.Identity()),
		schema.NewType("CartItem",
			schema.ID("id", schema.KindInt),
			schema.Field("sku", schema.KindString),
			schema.ManyToOne("cart", "Cart"),
		).IDGenerator(schema.Identity()),
	)
	drv := testdb.Open(t,
		`CREATE TABLE CART(ID INTEGER PRIMARY KEY AUTOINCREMENT)`,
		`CREATE TABLE CART_ITEM(ID INTEGER PRIMARY KEY AUTOINCREMENT, SKU TEXT NOT NULL, CART_ID INTEGER NOT NULL REFERENCES CART(ID))`,
		`INSERT INTO CART(ID) VALUES(1)`,
		`INSERT INTO CART_ITEM(ID, SKU, CART_ID) VALUES(1, 'A-1', 1)`,
	)
	cart := entity.New(reg.Type("Cart")).Set("id", 1).Set("items", []*entity.Draft{})

	_, err := newSaver(t, drv, reg).Save(context.Background(), cart)
	require.ErrorIs(t, err, persist.ErrCannotDissociateTarget)
	se, _ := persist.AsSaveError(err)
	assert.Equal(t, "<root>.items", se.Path)
	assert.Equal(t, "cart", se.Prop)
	assert.Equal(t, int64(1), testdb.Scalar[int64](t, drv, "SELECT COUNT(*) FROM CART_ITEM"))
}
