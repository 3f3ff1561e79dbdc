// Package mixin provides reusable property sets for entity types.
//
// # Built-in Mixins
//
//	// Version: optimistic lock version
//	mixin.Version{}
//
//	// SoftDelete: boolean logical-deleted flag
//	mixin.SoftDelete{}
//
//	// SoftDeleteMillis: deletion time in milliseconds, 0 when alive
//	mixin.SoftDeleteMillis{}
//
//	// SoftDeleteTime: nullable deletion time
//	mixin.SoftDeleteTime{}
//
//	// Tenant: tenant column for multi-tenancy
//	mixin.Tenant{}
//
// # Using Mixins
//
//	schema.NewType("BookStore",
//	    schema.ID("id", schema.KindUUID),
//	    schema.Field("name", schema.KindString),
//	).Mixin(mixin.Version{}, mixin.SoftDelete{})
//
// The resulting BookStore type has the properties:
//   - id
//   - name
//   - version (optimistic lock, column VERSION)
//   - deleted (logical-deleted flag, column DELETED)
//
// # Creating Custom Mixins
//
// Custom mixins embed Schema and override Props:
//
//	type Audit struct {
//	    mixin.Schema
//	}
//
//	func (Audit) Props() []*schema.PropBuilder {
//	    return []*schema.PropBuilder{
//	        schema.Field("createdBy", schema.KindString),
//	        schema.Field("updatedBy", schema.KindString).Nullable(),
//	    }
//	}
package mixin
