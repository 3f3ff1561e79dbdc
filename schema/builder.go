package schema

import "time"

// PropDescriptor holds the declaration of a property.
type PropDescriptor struct {
	Name           string
	Kind           Kind
	Column         string
	Assoc          Association
	Target         string
	MappedBy       string
	ID             bool
	Nullable       bool
	InputNotNull   bool
	Version        bool
	LogicalDeleted *LogicalDeleted
	logicalDefault bool
	OnDissociate   DissociateAction
	JoinTable      *MiddleTable
	Remote         bool
	JoinSQL        string
	FakeForeignKey bool
}

// PropBuilder declares a property.
type PropBuilder struct {
	desc *PropDescriptor
}

// ID declares the id property.
func ID(name string, kind Kind) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Kind: kind, ID: true}}
}

// Field declares a scalar property.
func Field(name string, kind Kind) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Kind: kind}}
}

// ManyToOne declares a reference stored as a foreign key column.
func ManyToOne(name, target string) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Assoc: AssocManyToOne, Target: target}}
}

// OneToOne declares a one-to-one reference. Without MappedBy it is stored
// as a foreign key column.
func OneToOne(name, target string) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Assoc: AssocOneToOne, Target: target}}
}

// OneToMany declares the inverse side of a many-to-one reference. It must
// be completed with MappedBy.
func OneToMany(name, target string) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Assoc: AssocOneToMany, Target: target}}
}

// ManyToMany declares a many-to-many association. Without MappedBy it owns
// a middle table.
func ManyToMany(name, target string) *PropBuilder {
	return &PropBuilder{desc: &PropDescriptor{Name: name, Assoc: AssocManyToMany, Target: target}}
}

// Column sets the column name.
func (b *PropBuilder) Column(name string) *PropBuilder {
	b.desc.Column = name
	return b
}

// Nullable marks the property as accepting null.
func (b *PropBuilder) Nullable() *PropBuilder {
	b.desc.Nullable = true
	return b
}

// InputNotNull rejects null on save although the column is nullable.
func (b *PropBuilder) InputNotNull() *PropBuilder {
	b.desc.Nullable = true
	b.desc.InputNotNull = true
	return b
}

// Version marks the property as the optimistic lock version.
func (b *PropBuilder) Version() *PropBuilder {
	b.desc.Version = true
	return b
}

// LogicalDeleted marks the property as the logical-deleted flag. Bool
// properties are set to true, int properties to the deletion time in
// milliseconds and time properties to the deletion time.
func (b *PropBuilder) LogicalDeleted() *PropBuilder {
	b.desc.logicalDefault = true
	return b
}

// LogicalDeletedFunc marks the property as the logical-deleted flag with
// explicit values.
func (b *PropBuilder) LogicalDeletedFunc(deleted func() any, initial any) *PropBuilder {
	b.desc.LogicalDeleted = &LogicalDeleted{Deleted: deleted, Initial: initial}
	return b
}

// OnDissociate sets the action applied to the owner of this foreign key
// when its parent drops it.
func (b *PropBuilder) OnDissociate(action DissociateAction) *PropBuilder {
	b.desc.OnDissociate = action
	return b
}

// JoinTable sets the middle table of a many-to-many association.
func (b *PropBuilder) JoinTable(table, sourceColumn, targetColumn string) *PropBuilder {
	m := b.middle()
	m.Table, m.SourceColumn, m.TargetColumn = table, sourceColumn, targetColumn
	return b
}

// ReadonlyJoinTable forbids saving the association.
func (b *PropBuilder) ReadonlyJoinTable() *PropBuilder {
	b.middle().Readonly = true
	return b
}

// DeletedColumn sets the boolean column marking logically removed pairs of
// the middle table.
func (b *PropBuilder) DeletedColumn(column string) *PropBuilder {
	b.middle().DeletedColumn = column
	return b
}

func (b *PropBuilder) middle() *MiddleTable {
	if b.desc.JoinTable == nil {
		b.desc.JoinTable = &MiddleTable{}
	}
	return b.desc.JoinTable
}

// MappedBy makes the property the inverse side of the named property of
// the target.
func (b *PropBuilder) MappedBy(name string) *PropBuilder {
	b.desc.MappedBy = name
	return b
}

// Remote marks the target as living in another data source.
func (b *PropBuilder) Remote() *PropBuilder {
	b.desc.Remote = true
	return b
}

// JoinSQL backs the association by a join template instead of a table.
func (b *PropBuilder) JoinSQL(sql string) *PropBuilder {
	b.desc.JoinSQL = sql
	return b
}

// FakeForeignKey declares that no constraint backs the column.
func (b *PropBuilder) FakeForeignKey() *PropBuilder {
	b.desc.FakeForeignKey = true
	return b
}

// Descriptor implements the Descriptor method.
func (b *PropBuilder) Descriptor() *PropDescriptor {
	return b.desc
}

// defaultLogicalDeleted returns the logical-deleted values of a kind.
func defaultLogicalDeleted(k Kind) *LogicalDeleted {
	switch k {
	case KindBool:
		return &LogicalDeleted{Deleted: func() any { return true }, Initial: false}
	case KindInt:
		return &LogicalDeleted{Deleted: func() any { return time.Now().UnixMilli() }, Initial: int64(0)}
	case KindTime:
		return &LogicalDeleted{Deleted: func() any { return time.Now() }}
	}
	return nil
}

// Mixin contributes properties to the types it is mixed into.
type Mixin interface {
	Props() []*PropBuilder
}

// KeyGroupDescriptor holds the declaration of a key group.
type KeyGroupDescriptor struct {
	Name    string
	Props   []string
	Primary bool
}

// TypeDescriptor holds the declaration of an entity type.
type TypeDescriptor struct {
	Name        string
	Table       string
	Props       []*PropDescriptor
	KeyGroups   []KeyGroupDescriptor
	IDGenerator IDGenerator
}

// TypeBuilder declares an entity type.
type TypeBuilder struct {
	desc *TypeDescriptor
}

// DefaultKeyGroup is the name of the group declared by TypeBuilder.Key.
const DefaultKeyGroup = "default"

// NewType declares an entity type with the given properties.
func NewType(name string, props ...*PropBuilder) *TypeBuilder {
	b := &TypeBuilder{desc: &TypeDescriptor{Name: name}}
	return b.Props(props...)
}

// Props appends properties.
func (b *TypeBuilder) Props(props ...*PropBuilder) *TypeBuilder {
	for _, p := range props {
		b.desc.Props = append(b.desc.Props, p.desc)
	}
	return b
}

// Mixin appends the properties of the mixins.
func (b *TypeBuilder) Mixin(mixins ...Mixin) *TypeBuilder {
	for _, m := range mixins {
		b.Props(m.Props()...)
	}
	return b
}

// Table sets the table name.
func (b *TypeBuilder) Table(name string) *TypeBuilder {
	b.desc.Table = name
	return b
}

// Key declares the default key group.
func (b *TypeBuilder) Key(props ...string) *TypeBuilder {
	return b.KeyGroup(DefaultKeyGroup, props...)
}

// KeyGroup declares a named key group.
func (b *TypeBuilder) KeyGroup(name string, props ...string) *TypeBuilder {
	b.desc.KeyGroups = append(b.desc.KeyGroups, KeyGroupDescriptor{Name: name, Props: props})
	return b
}

// PrimaryKeyGroup declares the key group used to identify rows whose id is
// generated by the database.
func (b *TypeBuilder) PrimaryKeyGroup(name string, props ...string) *TypeBuilder {
	b.desc.KeyGroups = append(b.desc.KeyGroups, KeyGroupDescriptor{Name: name, Props: props, Primary: true})
	return b
}

// IDGenerator sets the id generator.
func (b *TypeBuilder) IDGenerator(g IDGenerator) *TypeBuilder {
	b.desc.IDGenerator = g
	return b
}

// Descriptor implements the Descriptor method.
func (b *TypeBuilder) Descriptor() *TypeDescriptor {
	return b.desc
}
