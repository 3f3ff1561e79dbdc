package persist

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by errors.Is. Every SaveError kind has one.
var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("persist: entity not found")

	// ErrConflictID is returned when a saved id already exists.
	ErrConflictID = errors.New("persist: conflict id")
	// ErrConflictKey is returned when a saved key group value already exists.
	ErrConflictKey = errors.New("persist: conflict key")
	// ErrIllegalTargetID is returned when a foreign key references a missing row.
	ErrIllegalTargetID = errors.New("persist: illegal target id")
	// ErrOptimisticLock is returned when a locked update matched no row.
	ErrOptimisticLock = errors.New("persist: optimistic lock")
	// ErrReadonlyMiddleTable is returned when saving through a read-only middle table.
	ErrReadonlyMiddleTable = errors.New("persist: readonly middle table")
	// ErrReversedRemoteAssociation is returned when cascading a mapped-by remote association.
	ErrReversedRemoteAssociation = errors.New("persist: reversed remote association")
	// ErrUnstructuredAssociation is returned when saving an association backed by a join SQL template.
	ErrUnstructuredAssociation = errors.New("persist: unstructured association")
	// ErrNullTarget is returned when a non-nullable association is set to null.
	ErrNullTarget = errors.New("persist: null target")
	// ErrNeitherIDNorKey is returned when a draft can be identified by neither id nor key.
	ErrNeitherIDNorKey = errors.New("persist: neither id nor key")
	// ErrCannotDissociateTarget is returned when a child must be dissociated
	// but its back reference forbids it.
	ErrCannotDissociateTarget = errors.New("persist: cannot dissociate target")
)

// SaveErrorKind identifies the reason a save failed.
type SaveErrorKind uint8

// Save error kinds.
const (
	KindConflictID SaveErrorKind = iota + 1
	KindConflictKey
	KindIllegalTargetID
	KindOptimisticLock
	KindReadonlyMiddleTable
	KindReversedRemoteAssociation
	KindUnstructuredAssociation
	KindNullTarget
	KindNeitherIDNorKey
	KindCannotDissociateTarget
)

var kindSentinels = map[SaveErrorKind]error{
	KindConflictID:                ErrConflictID,
	KindConflictKey:               ErrConflictKey,
	KindIllegalTargetID:           ErrIllegalTargetID,
	KindOptimisticLock:            ErrOptimisticLock,
	KindReadonlyMiddleTable:       ErrReadonlyMiddleTable,
	KindReversedRemoteAssociation: ErrReversedRemoteAssociation,
	KindUnstructuredAssociation:   ErrUnstructuredAssociation,
	KindNullTarget:                ErrNullTarget,
	KindNeitherIDNorKey:           ErrNeitherIDNorKey,
	KindCannotDissociateTarget:    ErrCannotDissociateTarget,
}

// String returns the name of the kind.
func (k SaveErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return strings.TrimPrefix(err.Error(), "persist: ")
	}
	return fmt.Sprintf("SaveErrorKind(%d)", k)
}

// SaveError is returned by the save engine for every failure it can explain.
// Path is the association path of the failing drafts, "<root>" for the
// saved objects themselves and "<root>.store.books" for nested ones.
type SaveError struct {
	Kind SaveErrorKind
	Path string
	// Type is the entity type saved at Path.
	Type string
	// Prop names the association or key properties involved, when any.
	Prop string
	// ID is the conflicting, locked or illegal id.
	ID any
	// KeyProps and KeyValues describe a key conflict.
	KeyProps  []string
	KeyValues []any
	// Err is the driver error the failure was translated from.
	Err error
}

// Error formats the kind specific message with the path.
func (e *SaveError) Error() string {
	return fmt.Sprintf("persist: save error caused by the path %q: %s", e.Path, e.detail())
}

func (e *SaveError) detail() string {
	switch e.Kind {
	case KindConflictID:
		return fmt.Sprintf("cannot save the entity, the id %q of type %q already exists", fmt.Sprint(e.ID), e.Type)
	case KindConflictKey:
		values := make([]string, len(e.KeyValues))
		for i, v := range e.KeyValues {
			values[i] = fmt.Sprint(v)
		}
		return fmt.Sprintf("cannot save the entity, the key (%s) = (%s) of type %q already exists",
			strings.Join(e.KeyProps, ", "), strings.Join(values, ", "), e.Type)
	case KindIllegalTargetID:
		return fmt.Sprintf("the association %q cannot reference the illegal target id %q", e.Prop, fmt.Sprint(e.ID))
	case KindOptimisticLock:
		return fmt.Sprintf("cannot update the entity whose type is %q and id is %q because of optimistic lock error", e.Type, fmt.Sprint(e.ID))
	case KindReadonlyMiddleTable:
		return fmt.Sprintf("the association %q is based on a readonly middle table", e.Prop)
	case KindReversedRemoteAssociation:
		return fmt.Sprintf("the association %q is a remote association mapped by the other side and cannot be saved", e.Prop)
	case KindUnstructuredAssociation:
		return fmt.Sprintf("the association %q is based on a join SQL template and cannot be saved", e.Prop)
	case KindNullTarget:
		return fmt.Sprintf("the association %q cannot be null", e.Prop)
	case KindNeitherIDNorKey:
		return fmt.Sprintf("cannot save the entity of type %q which has neither id nor key", e.Type)
	case KindCannotDissociateTarget:
		return fmt.Sprintf("cannot dissociate the child objects of type %q referenced by %q", e.Type, e.Prop)
	default:
		return e.Kind.String()
	}
}

// Is reports whether the target is the sentinel of the error kind.
func (e *SaveError) Is(err error) bool {
	return kindSentinels[e.Kind] == err
}

// Unwrap returns the underlying driver error.
func (e *SaveError) Unwrap() error {
	return e.Err
}

// NewConflictIDError returns a SaveError of kind KindConflictID.
func NewConflictIDError(path, typ string, id any) *SaveError {
	return &SaveError{Kind: KindConflictID, Path: path, Type: typ, ID: id}
}

// NewConflictKeyError returns a SaveError of kind KindConflictKey.
func NewConflictKeyError(path, typ string, props []string, values []any) *SaveError {
	return &SaveError{Kind: KindConflictKey, Path: path, Type: typ, KeyProps: props, KeyValues: values}
}

// NewIllegalTargetIDError returns a SaveError of kind KindIllegalTargetID.
func NewIllegalTargetIDError(path, typ, prop string, id any) *SaveError {
	return &SaveError{Kind: KindIllegalTargetID, Path: path, Type: typ, Prop: prop, ID: id}
}

// NewOptimisticLockError returns a SaveError of kind KindOptimisticLock.
func NewOptimisticLockError(path, typ string, id any) *SaveError {
	return &SaveError{Kind: KindOptimisticLock, Path: path, Type: typ, ID: id}
}

// NewAssociationError returns a SaveError of an association-level kind
// such as KindNullTarget or KindReadonlyMiddleTable.
func NewAssociationError(kind SaveErrorKind, path, typ, prop string) *SaveError {
	return &SaveError{Kind: kind, Path: path, Type: typ, Prop: prop}
}

// NewNeitherIDNorKeyError returns a SaveError of kind KindNeitherIDNorKey.
func NewNeitherIDNorKeyError(path, typ string) *SaveError {
	return &SaveError{Kind: KindNeitherIDNorKey, Path: path, Type: typ}
}

func isA[T error](err error) bool {
	var target T
	return err != nil && errors.As(err, &target)
}

// IsSaveError reports whether err wraps a *SaveError.
func IsSaveError(err error) bool { return isA[*SaveError](err) }

// AsSaveError returns the SaveError in err's chain.
func AsSaveError(err error) (*SaveError, bool) {
	var e *SaveError
	ok := errors.As(err, &e)
	return e, ok
}

// NotFoundError reports a row expected by the engine that the database
// no longer holds, such as a re-fetched saved row.
type NotFoundError struct {
	label string
	id    any
}

func (e *NotFoundError) Error() string {
	msg := "persist: " + e.label + " not found"
	if e.id != nil {
		msg += fmt.Sprintf(" (id=%v)", e.id)
	}
	return msg
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// Label is the entity type name.
func (e *NotFoundError) Label() string { return e.label }

// ID is the missing id, or nil.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError reports a missing row of the entity type label.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID reports the missing row id of type label.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// NotLoadedError is returned when reading an unloaded draft property.
type NotLoadedError struct {
	typ  string
	prop string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("persist: property %q of %s is not loaded", e.prop, e.typ)
}

// Prop is the unloaded property.
func (e *NotLoadedError) Prop() string { return e.prop }

// NewNotLoadedError reports the unloaded property prop of typ.
func NewNotLoadedError(typ, prop string) *NotLoadedError {
	return &NotLoadedError{typ: typ, prop: prop}
}

// IsNotLoaded reports whether err wraps a *NotLoadedError.
func IsNotLoaded(err error) bool { return isA[*NotLoadedError](err) }

// QueryError is a failed read of the engine, Op naming what was read:
// "ids", "keys" or "rows".
type QueryError struct {
	Entity string
	Op     string
	Err    error
}

func (e *QueryError) Error() string {
	what := e.Entity
	if e.Op != "" {
		what += " (" + e.Op + ")"
	}
	return fmt.Sprintf("persist: querying %s: %v", what, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError wraps err as a failed read of entity.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError reports whether err wraps a *QueryError.
func IsQueryError(err error) bool { return isA[*QueryError](err) }

// MutationError is a driver failure while writing rows that could not be
// translated to a SaveError. Entity is a type or middle table name.
type MutationError struct {
	Entity string
	Op     string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// NewMutationError wraps err as a failed op on entity.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError reports whether err wraps a *MutationError.
func IsMutationError(err error) bool { return isA[*MutationError](err) }

// PrivacyError is returned when the saver policy denies a draft. Rule is
// the text of the deny decision.
type PrivacyError struct {
	Entity string
	Op     string
	Rule   string
}

func (e *PrivacyError) Error() string {
	msg := fmt.Sprintf("persist: privacy denied %s on %s", e.Op, e.Entity)
	if e.Rule != "" {
		msg += " (rule: " + e.Rule + ")"
	}
	return msg
}

// NewPrivacyError reports the denied op on entity.
func NewPrivacyError(entity, op, rule string) *PrivacyError {
	return &PrivacyError{Entity: entity, Op: op, Rule: rule}
}

// IsPrivacyError reports whether err wraps a *PrivacyError.
func IsPrivacyError(err error) bool { return isA[*PrivacyError](err) }
