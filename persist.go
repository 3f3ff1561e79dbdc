// Package persist saves graphs of partially loaded entity drafts into a
// relational database.
//
// The root package holds the public vocabulary shared by every layer: save
// modes, the operations reported to policies and triggers, the error kinds a
// save can fail with and the Cache contract used by the fetch executor.
// The engine itself lives in the mutation package.
package persist

import (
	"fmt"
	"strings"
)

// SaveMode controls how the root drafts of a save are written.
type SaveMode uint8

// Save modes.
const (
	// SaveModeUpsert inserts drafts that do not exist and updates the others.
	SaveModeUpsert SaveMode = iota
	// SaveModeInsertOnly always inserts.
	SaveModeInsertOnly
	// SaveModeUpdateOnly only updates existing rows, absent rows are ignored.
	SaveModeUpdateOnly
	// SaveModeInsertIfAbsent inserts drafts that do not exist and leaves
	// existing rows untouched.
	SaveModeInsertIfAbsent
)

var saveModeNames = [...]string{
	SaveModeUpsert:         "UPSERT",
	SaveModeInsertOnly:     "INSERT_ONLY",
	SaveModeUpdateOnly:     "UPDATE_ONLY",
	SaveModeInsertIfAbsent: "INSERT_IF_ABSENT",
}

// String returns the configuration name of the mode.
func (m SaveMode) String() string {
	if int(m) < len(saveModeNames) {
		return saveModeNames[m]
	}
	return fmt.Sprintf("SaveMode(%d)", m)
}

// ParseSaveMode parses a mode name such as "UPSERT" or "insert_only".
func ParseSaveMode(s string) (SaveMode, error) {
	for i, name := range saveModeNames {
		if strings.EqualFold(s, name) {
			return SaveMode(i), nil
		}
	}
	return 0, fmt.Errorf("persist: unknown save mode %q", s)
}

// AssociatedSaveMode controls how the targets of an association are written
// and how the association itself is reconciled.
type AssociatedSaveMode uint8

// Associated save modes.
const (
	// AssociatedReplace saves the targets and dissociates every target of the
	// parent that is not part of the new value.
	AssociatedReplace AssociatedSaveMode = iota
	// AssociatedAppend inserts the targets and adds them to the association.
	AssociatedAppend
	// AssociatedAppendIfAbsent inserts missing targets and adds them.
	AssociatedAppendIfAbsent
	// AssociatedUpdate only updates existing targets.
	AssociatedUpdate
	// AssociatedMerge upserts the targets and keeps the existing extras.
	AssociatedMerge
	// AssociatedViolentlyReplace dissociates every existing target before
	// saving the new value.
	AssociatedViolentlyReplace
)

var associatedModeNames = [...]string{
	AssociatedReplace:          "REPLACE",
	AssociatedAppend:           "APPEND",
	AssociatedAppendIfAbsent:   "APPEND_IF_ABSENT",
	AssociatedUpdate:           "UPDATE",
	AssociatedMerge:            "MERGE",
	AssociatedViolentlyReplace: "VIOLENTLY_REPLACE",
}

// String returns the configuration name of the mode.
func (m AssociatedSaveMode) String() string {
	if int(m) < len(associatedModeNames) {
		return associatedModeNames[m]
	}
	return fmt.Sprintf("AssociatedSaveMode(%d)", m)
}

// ParseAssociatedSaveMode parses a mode name such as "MERGE".
func ParseAssociatedSaveMode(s string) (AssociatedSaveMode, error) {
	for i, name := range associatedModeNames {
		if strings.EqualFold(s, name) {
			return AssociatedSaveMode(i), nil
		}
	}
	return 0, fmt.Errorf("persist: unknown associated save mode %q", s)
}

// SaveMode returns the mode used to save the targets of an association.
func (m AssociatedSaveMode) SaveMode() SaveMode {
	switch m {
	case AssociatedAppend:
		return SaveModeInsertOnly
	case AssociatedAppendIfAbsent:
		return SaveModeInsertIfAbsent
	case AssociatedUpdate:
		return SaveModeUpdateOnly
	default:
		return SaveModeUpsert
	}
}

// DeleteMode selects physical or logical deletion of dissociated children.
type DeleteMode uint8

// Delete modes.
const (
	// DeleteModeAuto deletes logically when the type declares a
	// logical-deleted property and physically otherwise.
	DeleteModeAuto DeleteMode = iota
	DeleteModePhysical
	DeleteModeLogical
)

var deleteModeNames = [...]string{
	DeleteModeAuto:     "AUTO",
	DeleteModePhysical: "PHYSICAL",
	DeleteModeLogical:  "LOGICAL",
}

func (m DeleteMode) String() string {
	if int(m) < len(deleteModeNames) {
		return deleteModeNames[m]
	}
	return fmt.Sprintf("DeleteMode(%d)", m)
}

// ParseDeleteMode parses a mode name such as "LOGICAL".
func ParseDeleteMode(s string) (DeleteMode, error) {
	for i, name := range deleteModeNames {
		if strings.EqualFold(s, name) {
			return DeleteMode(i), nil
		}
	}
	return 0, fmt.Errorf("persist: unknown delete mode %q", s)
}

// LockMode controls optimistic locking of UPDATE statements.
type LockMode uint8

// Lock modes.
const (
	// LockModeAuto checks the version column when the draft carries a
	// version and applies user lock predicates.
	LockModeAuto LockMode = iota
	// LockModeOptimistic behaves like LockModeAuto but rejects updates of
	// versioned types whose drafts carry no version.
	LockModeOptimistic
	// LockModeNone never adds lock predicates. Versions are still bumped.
	LockModeNone
)

var lockModeNames = [...]string{
	LockModeAuto:       "AUTO",
	LockModeOptimistic: "OPTIMISTIC",
	LockModeNone:       "NONE",
}

func (m LockMode) String() string {
	if int(m) < len(lockModeNames) {
		return lockModeNames[m]
	}
	return fmt.Sprintf("LockMode(%d)", m)
}

// ParseLockMode parses a mode name such as "OPTIMISTIC".
func ParseLockMode(s string) (LockMode, error) {
	for i, name := range lockModeNames {
		if strings.EqualFold(s, name) {
			return LockMode(i), nil
		}
	}
	return 0, fmt.Errorf("persist: unknown lock mode %q", s)
}

// Op represents the operation a statement applies to a row.
type Op uint

// Operations.
const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpUpsert
	OpDelete
)

// Is reports whether o matches the given operation.
func (i Op) Is(o Op) bool { return i&o != 0 }

func (i Op) String() string {
	var names []string
	for _, op := range []struct {
		op   Op
		name string
	}{
		{OpInsert, "OpInsert"},
		{OpUpdate, "OpUpdate"},
		{OpUpsert, "OpUpsert"},
		{OpDelete, "OpDelete"},
	} {
		if i.Is(op.op) {
			names = append(names, op.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Op(%d)", uint(i))
	}
	return strings.Join(names, "|")
}
