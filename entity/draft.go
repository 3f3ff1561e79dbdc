// Package entity implements the partially loaded entity drafts the save
// engine works on.
//
// A Draft knows which properties are loaded. Scalars hold normalized
// values (see schema.Kind), references hold a *Draft or nil and reference
// lists hold a []*Draft.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/schema"
)

// Draft is a mutable, partially loaded snapshot of one entity.
type Draft struct {
	typ    *schema.Type
	values map[string]any
}

// New returns an empty draft of t.
func New(t *schema.Type) *Draft {
	return &Draft{typ: t, values: make(map[string]any)}
}

// IDOnly returns a draft of t with only the id loaded.
func IDOnly(t *schema.Type, id any) *Draft {
	return New(t).Set(t.ID().Name(), id)
}

// Type returns the entity type.
func (d *Draft) Type() *schema.Type { return d.typ }

// IsLoaded reports whether the property is loaded.
func (d *Draft) IsLoaded(prop string) bool {
	_, ok := d.values[prop]
	return ok
}

// Get returns the value of a loaded property.
func (d *Draft) Get(prop string) (any, error) {
	v, ok := d.values[prop]
	if !ok {
		return nil, persist.NewNotLoadedError(d.typ.Name(), prop)
	}
	return v, nil
}

// Value returns the value of the property or nil when it is not loaded.
func (d *Draft) Value(prop string) any {
	return d.values[prop]
}

// Set loads a property and returns the draft. It panics when the property
// does not exist or the value does not fit it. Use SetField to get an
// error instead.
func (d *Draft) Set(prop string, v any) *Draft {
	if err := d.SetField(prop, v); err != nil {
		panic(err)
	}
	return d
}

// SetField loads a property.
func (d *Draft) SetField(prop string, v any) error {
	p := d.typ.Prop(prop)
	if p == nil {
		return fmt.Errorf("entity: unknown property %q of %s", prop, d.typ.Name())
	}
	nv, err := normalize(p, v)
	if err != nil {
		return fmt.Errorf("entity: property %q of %s: %w", prop, d.typ.Name(), err)
	}
	d.values[prop] = nv
	return nil
}

func normalize(p *schema.Prop, v any) (any, error) {
	switch {
	case p.IsReference():
		switch v := v.(type) {
		case nil:
			return nil, nil
		case *Draft:
			if v == nil {
				return nil, nil
			}
			if v.typ != p.Target() {
				return nil, fmt.Errorf("expect %s, got %s", p.Target().Name(), v.typ.Name())
			}
			return v, nil
		}
		return nil, fmt.Errorf("expect *entity.Draft, got %T", v)
	case p.IsReferenceList():
		switch v := v.(type) {
		case nil:
			return []*Draft{}, nil
		case []*Draft:
			for _, e := range v {
				if e == nil || e.typ != p.Target() {
					return nil, fmt.Errorf("expect list of %s", p.Target().Name())
				}
			}
			return v, nil
		}
		return nil, fmt.Errorf("expect []*entity.Draft, got %T", v)
	}
	return p.Kind().Normalize(v)
}

// Unload marks the property as not loaded.
func (d *Draft) Unload(prop string) {
	delete(d.values, prop)
}

// ID returns the id and whether it is loaded.
func (d *Draft) ID() (any, bool) {
	v, ok := d.values[d.typ.ID().Name()]
	return v, ok && v != nil
}

// Ref returns the loaded reference or nil.
func (d *Draft) Ref(prop string) *Draft {
	r, _ := d.values[prop].(*Draft)
	return r
}

// Refs returns the loaded reference list or nil.
func (d *Draft) Refs(prop string) []*Draft {
	r, _ := d.values[prop].([]*Draft)
	return r
}

// LoadedProps returns the names of the loaded properties in declaration
// order.
func (d *Draft) LoadedProps() []string {
	names := make([]string, 0, len(d.values))
	for _, p := range d.typ.Props() {
		if _, ok := d.values[p.Name()]; ok {
			names = append(names, p.Name())
		}
	}
	return names
}

// Clone returns a deep copy of the draft graph. Shared and cyclic
// references are preserved.
func (d *Draft) Clone() *Draft {
	return d.clone(make(map[*Draft]*Draft))
}

func (d *Draft) clone(seen map[*Draft]*Draft) *Draft {
	if d == nil {
		return nil
	}
	if c, ok := seen[d]; ok {
		return c
	}
	c := &Draft{typ: d.typ, values: make(map[string]any, len(d.values))}
	seen[d] = c
	for k, v := range d.values {
		switch v := v.(type) {
		case *Draft:
			c.values[k] = v.clone(seen)
		case []*Draft:
			list := make([]*Draft, len(v))
			for i, e := range v {
				list[i] = e.clone(seen)
			}
			c.values[k] = list
		case []byte:
			c.values[k] = append([]byte(nil), v...)
		default:
			c.values[k] = v
		}
	}
	return c
}

// Map returns the loaded values as a map. References are converted
// recursively. A draft reached again through a cycle contributes its id
// only.
func (d *Draft) Map() map[string]any {
	return d.toMap(make(map[*Draft]bool))
}

func (d *Draft) toMap(visiting map[*Draft]bool) map[string]any {
	if visiting[d] {
		id, _ := d.ID()
		return map[string]any{d.typ.ID().Name(): id}
	}
	visiting[d] = true
	defer delete(visiting, d)
	m := make(map[string]any, len(d.values))
	for k, v := range d.values {
		switch v := v.(type) {
		case *Draft:
			m[k] = v.toMap(visiting)
		case []*Draft:
			list := make([]map[string]any, len(v))
			for i, e := range v {
				list[i] = e.toMap(visiting)
			}
			m[k] = list
		default:
			m[k] = v
		}
	}
	return m
}

// String returns a compact representation such as Book{id: 1, name: "GraphQL"}.
func (d *Draft) String() string {
	var b strings.Builder
	d.write(&b, make(map[*Draft]bool))
	return b.String()
}

func (d *Draft) write(b *strings.Builder, visiting map[*Draft]bool) {
	b.WriteString(d.typ.Name())
	if visiting[d] {
		id, _ := d.ID()
		fmt.Fprintf(b, "{%s: %v}", d.typ.ID().Name(), id)
		return
	}
	visiting[d] = true
	defer delete(visiting, d)
	b.WriteByte('{')
	names := d.LoadedProps()
	sort.SliceStable(names, func(i, j int) bool {
		return d.typ.Prop(names[i]).IsID() && !d.typ.Prop(names[j]).IsID()
	})
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		switch v := d.values[name].(type) {
		case *Draft:
			if v == nil {
				b.WriteString("null")
			} else {
				v.write(b, visiting)
			}
		case []*Draft:
			b.WriteByte('[')
			for j, e := range v {
				if j > 0 {
					b.WriteString(", ")
				}
				e.write(b, visiting)
			}
			b.WriteByte(']')
		case string:
			fmt.Fprintf(b, "%q", v)
		case nil:
			b.WriteString("null")
		default:
			fmt.Fprint(b, v)
		}
	}
	b.WriteByte('}')
}
