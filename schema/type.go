package schema

// Type is a resolved entity type. Types are built once by Build and are
// read-only afterwards.
type Type struct {
	name           string
	table          string
	props          []*Prop
	byName         map[string]*Prop
	id             *Prop
	version        *Prop
	logicalDeleted *Prop
	keyGroups      []*KeyGroup
	idGen          IDGenerator
	matcher        *KeyMatcher
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Table returns the table name.
func (t *Type) Table() string { return t.table }

// Props returns the properties in declaration order.
func (t *Type) Props() []*Prop { return t.props }

// Prop returns the named property or nil.
func (t *Type) Prop(name string) *Prop { return t.byName[name] }

// ID returns the id property.
func (t *Type) ID() *Prop { return t.id }

// Version returns the version property or nil.
func (t *Type) Version() *Prop { return t.version }

// LogicalDeletedProp returns the logical-deleted property or nil.
func (t *Type) LogicalDeletedProp() *Prop { return t.logicalDeleted }

// KeyGroups returns the declared key groups.
func (t *Type) KeyGroups() []*KeyGroup { return t.keyGroups }

// KeyMatcher returns the matcher over the declared key groups.
func (t *Type) KeyMatcher() *KeyMatcher { return t.matcher }

// IDGenerator returns the id generator.
func (t *Type) IDGenerator() IDGenerator { return t.idGen }

// ColumnProps returns the column-defined properties in declaration order.
func (t *Type) ColumnProps() []*Prop {
	props := make([]*Prop, 0, len(t.props))
	for _, p := range t.props {
		if p.IsColumnDefinition() {
			props = append(props, p)
		}
	}
	return props
}

func (t *Type) String() string { return t.name }

// KeyGroup is a named set of properties whose values are unique.
type KeyGroup struct {
	name    string
	props   []*Prop
	primary bool
}

// Name returns the group name.
func (g *KeyGroup) Name() string { return g.name }

// Props returns the properties of the group.
func (g *KeyGroup) Props() []*Prop { return g.props }

// Primary reports whether the group is the primary key group.
func (g *KeyGroup) Primary() bool { return g.primary }

// PropNames returns the property names of the group.
func (g *KeyGroup) PropNames() []string {
	names := make([]string, len(g.props))
	for i, p := range g.props {
		names[i] = p.name
	}
	return names
}

// Columns returns the columns of the group.
func (g *KeyGroup) Columns() []string {
	cols := make([]string, len(g.props))
	for i, p := range g.props {
		cols[i] = p.column
	}
	return cols
}

// Registry holds the types built together.
type Registry struct {
	types    []*Type
	byName   map[string]*Type
	warnings []*ValidationError
}

// Type returns the named type or nil.
func (r *Registry) Type(name string) *Type { return r.byName[name] }

// Types returns the types in registration order.
func (r *Registry) Types() []*Type { return r.types }
