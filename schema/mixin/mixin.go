package mixin

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/persist/schema"
)

// Schema is the default implementation for the schema.Mixin interface.
// It should be embedded in all custom mixin definitions.
//
// Example:
//
//	type Audit struct {
//	    mixin.Schema
//	}
//
//	func (Audit) Props() []*schema.PropBuilder {
//	    return []*schema.PropBuilder{
//	        schema.Field("createdBy", schema.KindString),
//	    }
//	}
type Schema struct{}

// Props returns the properties of the mixin.
// Override this method to add custom properties.
func (Schema) Props() []*schema.PropBuilder { return nil }

// schema mixin must implement `Mixin` interface.
var _ schema.Mixin = (*Schema)(nil)

// =============================================================================
// Built-in Mixins
// =============================================================================

// Version adds the optimistic lock version property.
type Version struct {
	Schema
}

// Props returns the version property.
func (Version) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("version", schema.KindInt).Version(),
	}
}

// SoftDelete adds a boolean logical-deleted flag.
// Dissociated children are flagged instead of deleted when the save runs
// in logical delete mode.
type SoftDelete struct {
	Schema
}

// Props returns the soft delete property.
func (SoftDelete) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("deleted", schema.KindBool).LogicalDeleted(),
	}
}

// SoftDeleteMillis adds a logical-deleted property holding the deletion
// time in milliseconds, 0 for alive rows.
type SoftDeleteMillis struct {
	Schema
}

// Props returns the soft delete property.
func (SoftDeleteMillis) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("deletedMillis", schema.KindInt).LogicalDeleted(),
	}
}

// SoftDeleteTime adds a nullable deletedAt property.
type SoftDeleteTime struct {
	Schema
}

// Props returns the soft delete property.
func (SoftDeleteTime) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("deletedAt", schema.KindTime).Nullable().LogicalDeleted(),
	}
}

// Tenant adds the tenant property read by privacy.TenantRule.
type Tenant struct {
	Schema
}

// Props returns the tenant property.
func (Tenant) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("tenant", schema.KindString),
	}
}

// ColumnPrefix wraps a mixin and prefixes the columns of its properties.
//
// Example:
//
//	schema.NewType("Order", ...).Mixin(mixin.ColumnPrefix(mixin.Version{}, "ORDER_"))
func ColumnPrefix(m schema.Mixin, prefix string) schema.Mixin {
	return columnPrefixer{Mixin: m, prefix: prefix}
}

type columnPrefixer struct {
	schema.Mixin
	prefix string
}

func (c columnPrefixer) Props() []*schema.PropBuilder {
	props := c.Mixin.Props()
	for _, p := range props {
		desc := p.Descriptor()
		if desc.Assoc != schema.AssocNone && desc.MappedBy != "" {
			continue
		}
		column := desc.Column
		if column == "" {
			column = strings.ToUpper(inflect.Underscore(desc.Name))
			if desc.Assoc == schema.AssocManyToOne || desc.Assoc == schema.AssocOneToOne {
				column += "_ID"
			}
		}
		p.Column(c.prefix + column)
	}
	return props
}
