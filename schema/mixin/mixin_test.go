package mixin_test

import (
	"testing"

	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/mixin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSchemaBaseMixin tests the base Schema mixin.
func TestSchemaBaseMixin(t *testing.T) {
	assert.Nil(t, mixin.Schema{}.Props())
}

// TestMixinImplementsInterface tests that Schema implements schema.Mixin.
func TestMixinImplementsInterface(t *testing.T) {
	var _ schema.Mixin = mixin.Schema{}
	var _ schema.Mixin = &mixin.Schema{}
}

// Audit is a custom mixin for testing.
type Audit struct {
	mixin.Schema
}

func (Audit) Props() []*schema.PropBuilder {
	return []*schema.PropBuilder{
		schema.Field("createdBy", schema.KindString),
		schema.ManyToOne("owner", "User").Nullable(),
	}
}

// TestBuiltinMixins tests the properties contributed by the built-in mixins.
func TestBuiltinMixins(t *testing.T) {
	reg, err := schema.Build(
		schema.NewType("BookStore",
			schema.ID("id", schema.KindInt),
			schema.Field("name", schema.KindString),
		).Mixin(mixin.Version{}, mixin.SoftDelete{}, mixin.Tenant{}),
		schema.NewType("Order", schema.ID("id", schema.KindInt)).Mixin(mixin.SoftDeleteMillis{}),
		schema.NewType("Invoice", schema.ID("id", schema.KindInt)).Mixin(mixin.SoftDeleteTime{}),
	)
	require.NoError(t, err)

	store := reg.Type("BookStore")
	require.NotNil(t, store.Version())
	assert.Equal(t, "VERSION", store.Version().Column())
	require.NotNil(t, store.LogicalDeletedProp())
	assert.Equal(t, "deleted", store.LogicalDeletedProp().Name())
	assert.Equal(t, "TENANT", store.Prop("tenant").Column())

	assert.Equal(t, "DELETED_MILLIS", reg.Type("Order").LogicalDeletedProp().Column())
	assert.True(t, reg.Type("Invoice").LogicalDeletedProp().Nullable())
}

// TestColumnPrefix tests the ColumnPrefix wrapper.
func TestColumnPrefix(t *testing.T) {
	reg, err := schema.Build(
		schema.NewType("User", schema.ID("id", schema.KindInt)),
		schema.NewType("Post", schema.ID("id", schema.KindInt)).Mixin(mixin.ColumnPrefix(Audit{}, "AUDIT_")),
	)
	require.NoError(t, err)
	post := reg.Type("Post")
	assert.Equal(t, "AUDIT_CREATED_BY", post.Prop("createdBy").Column())
	assert.Equal(t, "AUDIT_OWNER_ID", post.Prop("owner").Column())
}
