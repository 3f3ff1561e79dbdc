package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
)

// Viewer is the user on whose behalf drafts are saved.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID is empty outside multi-tenant setups.
	GetTenantID() string
}

type viewerKey struct{}

// WithViewer attaches v to ctx.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// ViewerFromContext returns the viewer attached to ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerKey{}).(Viewer)
	return v
}

// SimpleViewer is a Viewer holding its attributes.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// viewerRule skips when ctx carries no viewer and calls eval otherwise.
func viewerRule(eval func(Viewer, Mutation) error) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		v := ViewerFromContext(ctx)
		if v == nil {
			return Skip
		}
		return eval(v, m)
	})
}

// DenyIfNoViewer denies saves without a viewer in the context.
//
//	privacy.Policies{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() MutationRule {
	return ContextMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) != nil {
			return Skip
		}
		return Denyf("privacy: viewer required")
	})
}

// HasRole allows viewers having role.
func HasRole(role string) MutationRule {
	return HasAnyRole(role)
}

// HasAnyRole allows viewers having one of roles.
func HasAnyRole(roles ...string) MutationRule {
	return viewerRule(func(v Viewer, _ Mutation) error {
		if slices.ContainsFunc(v.GetRoles(), func(r string) bool { return slices.Contains(roles, r) }) {
			return Allow
		}
		return Skip
	})
}

// IsOwner allows the save when prop holds the viewer id. A reference
// property compares the id of the referenced entity.
//
//	privacy.OnTypes(privacy.IsOwner("owner"), "Document")
func IsOwner(prop string) MutationRule {
	return viewerRule(func(v Viewer, m Mutation) error {
		if s, ok := loadedValue(m, prop); ok && s == v.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule allows the save when prop holds the viewer tenant and denies
// it when prop holds another one. Unloaded properties and viewers without
// tenant are skipped.
func TenantRule(prop string) MutationRule {
	return viewerRule(func(v Viewer, m Mutation) error {
		tenant := v.GetTenantID()
		s, ok := loadedValue(m, prop)
		switch {
		case tenant == "" || !ok:
			return Skip
		case s != tenant:
			return Denyf("privacy: tenant mismatch")
		}
		return Allow
	})
}

// AllowMutationOperationRule allows the operations in op.
func AllowMutationOperationRule(op persist.Op) MutationRule {
	return OnMutationOperation(AlwaysAllowRule(), op)
}

// loadedValue formats a loaded property of the draft.
func loadedValue(m Mutation, prop string) (string, bool) {
	d := m.Draft()
	if d == nil || !d.IsLoaded(prop) {
		return "", false
	}
	v := d.Value(prop)
	if ref, ok := v.(*entity.Draft); ok {
		if ref == nil {
			return "", false
		}
		v, _ = ref.ID()
	}
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}
