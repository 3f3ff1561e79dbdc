package mutation

import (
	"sort"
	"strings"

	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/schema"
)

// Shape is the set of loaded properties of a draft. Drafts of the same
// shape are written by the same statement.
type Shape struct {
	typ   *schema.Type
	props []*schema.Prop
	key   string
}

// ShapeOf returns the shape of d.
func ShapeOf(d *entity.Draft) Shape {
	t := d.Type()
	names := d.LoadedProps()
	props := make([]*schema.Prop, len(names))
	for i, name := range names {
		props[i] = t.Prop(name)
	}
	return newShape(t, props)
}

func newShape(t *schema.Type, props []*schema.Prop) Shape {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name()
	}
	sort.Strings(names)
	return Shape{typ: t, props: props, key: t.Name() + "{" + strings.Join(names, ",") + "}"}
}

// Type returns the entity type.
func (s Shape) Type() *schema.Type { return s.typ }

// Props returns the loaded properties in declaration order.
func (s Shape) Props() []*schema.Prop { return s.props }

// Key returns the canonical form of the shape. Two drafts share a shape
// when their keys are equal.
func (s Shape) Key() string { return s.key }

// String returns the key.
func (s Shape) String() string { return s.key }

// PropNames returns the loaded property names in declaration order.
func (s Shape) PropNames() []string {
	names := make([]string, len(s.props))
	for i, p := range s.props {
		names[i] = p.Name()
	}
	return names
}

// Has reports whether the property is loaded.
func (s Shape) Has(prop string) bool {
	for _, p := range s.props {
		if p.Name() == prop {
			return true
		}
	}
	return false
}

// IDLoaded reports whether the id is loaded.
func (s Shape) IDLoaded() bool {
	return s.Has(s.typ.ID().Name())
}

// ColumnProps returns the loaded column-defined properties, the column
// list of the statements writing the shape.
func (s Shape) ColumnProps() []*schema.Prop {
	props := make([]*schema.Prop, 0, len(s.props))
	for _, p := range s.props {
		if p.IsColumnDefinition() {
			props = append(props, p)
		}
	}
	return props
}

// Self returns the shape restricted to the column-defined properties.
func (s Shape) Self() Shape {
	return newShape(s.typ, s.ColumnProps())
}
