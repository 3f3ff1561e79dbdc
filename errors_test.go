package persist_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func TestSaveError(t *testing.T) {
	t.Run("OptimisticLock", func(t *testing.T) {
		err := persist.NewOptimisticLockError("<root>", "BookStore", 10)
		assert.Equal(t,
			`persist: save error caused by the path "<root>": cannot update the entity whose type is "BookStore" and id is "10" because of optimistic lock error`,
			err.Error())
		assert.True(t, errors.Is(err, persist.ErrOptimisticLock))
		assert.False(t, errors.Is(err, persist.ErrConflictID))
	})

	t.Run("ConflictKey", func(t *testing.T) {
		err := persist.NewConflictKeyError("<root>", "Machine", []string{"host", "port"}, []any{"localhost", 8080})
		assert.Equal(t,
			`persist: save error caused by the path "<root>": cannot save the entity, the key (host, port) = (localhost, 8080) of type "Machine" already exists`,
			err.Error())
		assert.True(t, errors.Is(err, persist.ErrConflictKey))
	})

	t.Run("Association", func(t *testing.T) {
		tests := []struct {
			kind     persist.SaveErrorKind
			sentinel error
		}{
			{persist.KindReadonlyMiddleTable, persist.ErrReadonlyMiddleTable},
			{persist.KindReversedRemoteAssociation, persist.ErrReversedRemoteAssociation},
			{persist.KindUnstructuredAssociation, persist.ErrUnstructuredAssociation},
			{persist.KindNullTarget, persist.ErrNullTarget},
			{persist.KindCannotDissociateTarget, persist.ErrCannotDissociateTarget},
		}
		for _, tt := range tests {
			t.Run(tt.kind.String(), func(t *testing.T) {
				err := persist.NewAssociationError(tt.kind, "<root>.authors", "Author", "authors")
				assert.True(t, errors.Is(err, tt.sentinel))
				assert.Contains(t, err.Error(), `"<root>.authors"`)
			})
		}
	})

	t.Run("Unwrap", func(t *testing.T) {
		driver := errors.New("UNIQUE constraint failed: BOOK.ID")
		err := persist.NewConflictIDError("<root>", "Book", 1)
		err.Err = driver
		assert.True(t, errors.Is(err, driver))
		assert.True(t, errors.Is(err, persist.ErrConflictID))
	})

	t.Run("AsSaveError", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapper: %w", persist.NewNeitherIDNorKeyError("<root>.store", "BookStore"))
		assert.True(t, persist.IsSaveError(wrapped))
		se, ok := persist.AsSaveError(wrapped)
		require.True(t, ok)
		assert.Equal(t, persist.KindNeitherIDNorKey, se.Kind)
		assert.Equal(t, "<root>.store", se.Path)

		_, ok = persist.AsSaveError(errors.New("other error"))
		assert.False(t, ok)
		assert.False(t, persist.IsSaveError(nil))
	})

	t.Run("KindString", func(t *testing.T) {
		assert.Equal(t, "conflict id", persist.KindConflictID.String())
		assert.Equal(t, "SaveErrorKind(99)", persist.SaveErrorKind(99).String())
	})
}

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "persist: Book not found", persist.NewNotFoundError("Book").Error())
		assert.Equal(t, "persist: Book not found (id=1)", persist.NewNotFoundErrorWithID("Book", 1).Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := persist.NewNotFoundError("Author")
		assert.True(t, errors.Is(err, persist.ErrNotFound))
		assert.True(t, persist.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, persist.IsNotFound(persist.ErrNotFound))
		assert.False(t, persist.IsNotFound(errors.New("other error")))
		assert.False(t, persist.IsNotFound(nil))
	})
}

func TestNotLoadedError(t *testing.T) {
	err := persist.NewNotLoadedError("Book", "store")
	assert.Equal(t, `persist: property "store" of Book is not loaded`, err.Error())
	assert.Equal(t, "store", err.Prop())
	assert.True(t, persist.IsNotLoaded(fmt.Errorf("wrapper: %w", err)))
	assert.False(t, persist.IsNotLoaded(errors.New("other error")))
	assert.False(t, persist.IsNotLoaded(nil))
}

func TestQueryAndMutationError(t *testing.T) {
	underlying := errors.New("connection reset")

	qe := persist.NewQueryError("Book", "ids", underlying)
	assert.Equal(t, "persist: querying Book (ids): connection reset", qe.Error())
	assert.Equal(t, "persist: querying Book: connection reset", persist.NewQueryError("Book", "", underlying).Error())
	assert.True(t, errors.Is(qe, underlying))
	assert.True(t, persist.IsQueryError(qe))

	me := persist.NewMutationError("Book", "insert", underlying)
	assert.Equal(t, "persist: insert Book: connection reset", me.Error())
	assert.True(t, errors.Is(me, underlying))
	assert.True(t, persist.IsMutationError(fmt.Errorf("wrapper: %w", me)))
	assert.False(t, persist.IsMutationError(qe))
}

func TestPrivacyError(t *testing.T) {
	err := persist.NewPrivacyError("Book", "OpInsert", "tenant mismatch")
	assert.Equal(t, "persist: privacy denied OpInsert on Book (rule: tenant mismatch)", err.Error())
	assert.Equal(t, "persist: privacy denied OpInsert on Book", persist.NewPrivacyError("Book", "OpInsert", "").Error())
	assert.True(t, persist.IsPrivacyError(err))
	assert.False(t, persist.IsPrivacyError(nil))
}
