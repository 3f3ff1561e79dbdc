package schema

import (
	"fmt"
	"sort"
)

// KeyMatcher resolves business-key identity from the key groups of a type.
type KeyMatcher struct {
	groups []*KeyGroup
}

// NewKeyMatcher returns a matcher over the given groups of t, overriding
// the groups declared by the type. Groups are ordered by name. A single
// group is the primary group.
func NewKeyMatcher(t *Type, groups map[string][]string) (*KeyMatcher, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	m := &KeyMatcher{}
	for _, name := range names {
		if len(groups[name]) == 0 {
			return nil, fmt.Errorf("schema: key group %q of %s is empty", name, t.name)
		}
		g := &KeyGroup{name: name, primary: len(names) == 1}
		for _, pn := range groups[name] {
			p := t.Prop(pn)
			if p == nil || !p.IsColumnDefinition() {
				return nil, fmt.Errorf("schema: key group %q of %s references unknown column property %q", name, t.name, pn)
			}
			g.props = append(g.props, p)
		}
		m.groups = append(m.groups, g)
	}
	return m, nil
}

func newKeyMatcher(groups []*KeyGroup) *KeyMatcher {
	return &KeyMatcher{groups: groups}
}

// Groups returns every group.
func (m *KeyMatcher) Groups() []*KeyGroup { return m.groups }

// Group returns the named group or nil.
func (m *KeyMatcher) Group(name string) *KeyGroup {
	for _, g := range m.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Primary returns the primary group or nil.
func (m *KeyMatcher) Primary() *KeyGroup {
	for _, g := range m.groups {
		if g.primary {
			return g
		}
	}
	return nil
}

// Match returns the group whose properties are all loaded. When several
// groups match, the one with the fewest properties wins. Ties keep the
// declaration order.
func (m *KeyMatcher) Match(loaded []string) *KeyGroup {
	set := stringSet(loaded)
	var best *KeyGroup
	for _, g := range m.groups {
		if !g.coveredBy(set) {
			continue
		}
		if best == nil || len(g.props) < len(best.props) {
			best = g
		}
	}
	return best
}

// MissedProps returns the properties of every group that are not loaded,
// in group order and without duplicates.
func (m *KeyMatcher) MissedProps(loaded []string) []*Prop {
	set := stringSet(loaded)
	var missed []*Prop
	seen := make(map[*Prop]bool)
	for _, g := range m.groups {
		for _, p := range g.props {
			if !set[p.name] && !seen[p] {
				seen[p] = true
				missed = append(missed, p)
			}
		}
	}
	return missed
}

func (g *KeyGroup) coveredBy(set map[string]bool) bool {
	for _, p := range g.props {
		if !set[p.name] {
			return false
		}
	}
	return len(g.props) > 0
}

// Overlaps reports whether any property of the group is loaded.
func (g *KeyGroup) Overlaps(loaded []string) bool {
	set := stringSet(loaded)
	for _, p := range g.props {
		if set[p.name] {
			return true
		}
	}
	return false
}

func stringSet(s []string) map[string]bool {
	set := make(map[string]bool, len(s))
	for _, v := range s {
		set[v] = true
	}
	return set
}
