// Package fetch loads entity drafts of a requested shape. The save engine
// uses it to investigate failed statements and to re-fetch saved drafts.
package fetch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/persist/schema"
)

// Field is one property of a Fetcher. Child is the shape of the targets of
// an association field.
type Field struct {
	Prop  *schema.Prop
	Child *Fetcher
}

// Fetcher describes the shape of the drafts to load. Fetchers are
// immutable, every method returns a new one.
type Fetcher struct {
	typ    *schema.Type
	fields []Field
}

// New returns a fetcher of t loading the id only.
func New(t *schema.Type) *Fetcher {
	return &Fetcher{typ: t, fields: []Field{{Prop: t.ID()}}}
}

// Type returns the fetched type.
func (f *Fetcher) Type() *schema.Type { return f.typ }

// Fields returns the fields in declaration order.
func (f *Fetcher) Fields() []Field { return f.fields }

// Field returns the named field.
func (f *Fetcher) Field(name string) (Field, bool) {
	for _, fd := range f.fields {
		if fd.Prop.Name() == name {
			return fd, true
		}
	}
	return Field{}, false
}

// IDOnly reports whether the fetcher loads nothing but the id.
func (f *Fetcher) IDOnly() bool {
	return len(f.fields) == 1 && f.fields[0].Prop.IsID()
}

// Add returns a fetcher also loading the named properties. Associations
// are loaded as id-only targets. It panics on unknown properties.
func (f *Fetcher) Add(props ...string) *Fetcher {
	c := f
	for _, name := range props {
		p := f.typ.Prop(name)
		if p == nil {
			panic(fmt.Sprintf("fetch: unknown property %q of %s", name, f.typ.Name()))
		}
		var child *Fetcher
		if p.IsAssociation() {
			child = New(p.Target())
		}
		c = c.with(Field{Prop: p, Child: child})
	}
	return c
}

// AddChild returns a fetcher also loading the targets of an association
// with the shape of child.
func (f *Fetcher) AddChild(prop string, child *Fetcher) *Fetcher {
	p := f.typ.Prop(prop)
	if p == nil || !p.IsAssociation() {
		panic(fmt.Sprintf("fetch: %q of %s is not an association", prop, f.typ.Name()))
	}
	if child.typ != p.Target() {
		panic(fmt.Sprintf("fetch: child fetcher of %q must fetch %s", prop, p.Target().Name()))
	}
	return f.with(Field{Prop: p, Child: child})
}

// AllScalars returns a fetcher also loading every scalar property.
func (f *Fetcher) AllScalars() *Fetcher {
	c := f
	for _, p := range f.typ.Props() {
		if !p.IsAssociation() {
			c = c.with(Field{Prop: p})
		}
	}
	return c
}

// AllColumns returns a fetcher also loading every column-defined property,
// foreign keys included as id-only targets.
func (f *Fetcher) AllColumns() *Fetcher {
	c := f.AllScalars()
	for _, p := range f.typ.Props() {
		if p.IsReference() && p.IsColumnDefinition() {
			if _, ok := c.Field(p.Name()); !ok {
				c = c.with(Field{Prop: p, Child: New(p.Target())})
			}
		}
	}
	return c
}

func (f *Fetcher) with(fd Field) *Fetcher {
	fields := make([]Field, 0, len(f.fields)+1)
	replaced := false
	for _, old := range f.fields {
		if old.Prop == fd.Prop {
			fields = append(fields, fd)
			replaced = true
			continue
		}
		fields = append(fields, old)
	}
	if !replaced {
		fields = append(fields, fd)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Prop.Index() < fields[j].Prop.Index()
	})
	return &Fetcher{typ: f.typ, fields: fields}
}

// columns returns the column-defined fields.
func (f *Fetcher) columns() []*schema.Prop {
	props := make([]*schema.Prop, 0, len(f.fields))
	for _, fd := range f.fields {
		if fd.Prop.IsColumnDefinition() {
			props = append(props, fd.Prop)
		}
	}
	return props
}

// Signature returns a canonical description of the shape, such as
// "id,name,store(id)".
func (f *Fetcher) Signature() string {
	var b strings.Builder
	for i, fd := range f.fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fd.Prop.Name())
		if fd.Child != nil {
			b.WriteByte('(')
			b.WriteString(fd.Child.Signature())
			b.WriteByte(')')
		}
	}
	return b.String()
}

func (f *Fetcher) String() string {
	return f.typ.Name() + "{" + f.Signature() + "}"
}
