package schema

import "fmt"

// Association is the association kind of a property.
type Association uint8

// Association kinds.
const (
	AssocNone Association = iota
	AssocManyToOne
	AssocOneToOne
	AssocOneToMany
	AssocManyToMany
)

var assocNames = [...]string{
	AssocNone:       "none",
	AssocManyToOne:  "many-to-one",
	AssocOneToOne:   "one-to-one",
	AssocOneToMany:  "one-to-many",
	AssocManyToMany: "many-to-many",
}

func (a Association) String() string {
	if int(a) < len(assocNames) {
		return assocNames[a]
	}
	return fmt.Sprintf("Association(%d)", a)
}

// DissociateAction defines what happens to a child row whose parent no
// longer references it. It is declared on the foreign key side.
type DissociateAction string

// Dissociate actions.
const (
	// DissociateDefault defers to the save options.
	DissociateDefault DissociateAction = ""
	// DissociateCheck rejects the save.
	DissociateCheck DissociateAction = "CHECK"
	// DissociateSetNull clears the foreign key of the child.
	DissociateSetNull DissociateAction = "SET NULL"
	// DissociateDelete deletes the child.
	DissociateDelete DissociateAction = "DELETE"
	// DissociateLax leaves the child untouched.
	DissociateLax DissociateAction = "LAX"
)

// LogicalDeleted describes a logical-deleted property. Deleted returns
// the value written when a row is deleted and Initial is the value of
// rows that are alive.
type LogicalDeleted struct {
	Deleted func() any
	Initial any
}

// MiddleTable describes the join table of a many-to-many association.
// SourceColumn references the owner of the property and TargetColumn the
// target.
type MiddleTable struct {
	Table        string
	SourceColumn string
	TargetColumn string
	// Readonly rejects every mutation of the association.
	Readonly bool
	// DeletedColumn, when set, is a boolean column marking logically
	// removed pairs.
	DeletedColumn string
}

// Reversed returns the middle table seen from the target side.
func (m *MiddleTable) Reversed() *MiddleTable {
	r := *m
	r.SourceColumn, r.TargetColumn = m.TargetColumn, m.SourceColumn
	return &r
}

// Prop is a resolved property of an entity type.
type Prop struct {
	name         string
	kind         Kind
	column       string
	owner        *Type
	assoc        Association
	target       *Type
	mappedBy     *Prop
	opposite     *Prop
	id           bool
	nullable     bool
	inputNotNull bool
	version      bool
	logical      *LogicalDeleted
	dissociate   DissociateAction
	middle       *MiddleTable
	remote       bool
	joinSQL      string
	fakeFK       bool
	targetName   string
	mappedByName string
	index        int
}

// Name returns the property name.
func (p *Prop) Name() string { return p.name }

// Kind returns the value kind. Reference properties report the kind of
// the target id.
func (p *Prop) Kind() Kind {
	if p.IsReference() && p.target != nil {
		return p.target.id.kind
	}
	return p.kind
}

// Column returns the column of a column-defined property.
func (p *Prop) Column() string { return p.column }

// Owner returns the declaring type.
func (p *Prop) Owner() *Type { return p.owner }

// Target returns the target type of an association.
func (p *Prop) Target() *Type { return p.target }

// Association returns the association kind.
func (p *Prop) Association() Association { return p.assoc }

// Index returns the declaration index of the property.
func (p *Prop) Index() int { return p.index }

// IsID reports whether the property is the id.
func (p *Prop) IsID() bool { return p.id }

// Nullable reports whether the property accepts null.
func (p *Prop) Nullable() bool { return p.nullable }

// InputNotNull reports whether null is rejected on input even though the
// column is nullable.
func (p *Prop) InputNotNull() bool { return p.inputNotNull }

// IsVersion reports whether the property is the optimistic lock version.
func (p *Prop) IsVersion() bool { return p.version }

// LogicalDeleted returns the logical-deleted description, if any.
func (p *Prop) LogicalDeleted() *LogicalDeleted { return p.logical }

// DissociateAction returns the declared dissociate action.
func (p *Prop) DissociateAction() DissociateAction { return p.dissociate }

// IsRemote reports whether the target lives in another data source.
func (p *Prop) IsRemote() bool { return p.remote }

// JoinSQL returns the join template of an unstructured association.
func (p *Prop) JoinSQL() string { return p.joinSQL }

// IsReference reports whether the property holds a single target.
func (p *Prop) IsReference() bool {
	return p.assoc == AssocManyToOne || p.assoc == AssocOneToOne
}

// IsReferenceList reports whether the property holds a list of targets.
func (p *Prop) IsReferenceList() bool {
	return p.assoc == AssocOneToMany || p.assoc == AssocManyToMany
}

// IsAssociation reports whether the property targets another entity type.
func (p *Prop) IsAssociation() bool { return p.assoc != AssocNone }

// IsColumnDefinition reports whether the property is stored in a column of
// the owner table: scalars and foreign key references.
func (p *Prop) IsColumnDefinition() bool {
	if p.assoc == AssocNone {
		return true
	}
	return p.IsReference() && p.mappedBy == nil && p.middle == nil && p.joinSQL == ""
}

// IsMiddleTableDefinition reports whether the property owns a middle table.
func (p *Prop) IsMiddleTableDefinition() bool {
	return p.middle != nil && p.mappedBy == nil
}

// MappedBy returns the owning property on the target when this property is
// the inverse side of an association.
func (p *Prop) MappedBy() *Prop { return p.mappedBy }

// Opposite returns the property on the other side of the association.
func (p *Prop) Opposite() *Prop { return p.opposite }

// MiddleTable returns the middle table of a many-to-many association from
// the point of view of the property. Inverse properties see it reversed.
func (p *Prop) MiddleTable() *MiddleTable {
	if p.mappedBy != nil {
		if m := p.mappedBy.middle; m != nil {
			return m.Reversed()
		}
		return nil
	}
	return p.middle
}

// IsTargetForeignKeyReal reports whether the column is backed by a real
// foreign key constraint in the database.
func (p *Prop) IsTargetForeignKeyReal() bool {
	return p.IsReference() && p.IsColumnDefinition() && !p.fakeFK && !p.remote
}

// String returns "Type.prop".
func (p *Prop) String() string {
	if p.owner == nil {
		return p.name
	}
	return p.owner.name + "." + p.name
}
