package schema

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// Build resolves the declared types into a Registry. Targets, mapped-by
// properties and default table and column names are resolved first and
// the result is validated. A failing validation is returned as a
// *ValidationResult.
func Build(builders ...*TypeBuilder) (*Registry, error) {
	reg := &Registry{byName: make(map[string]*Type, len(builders))}
	res := &ValidationResult{}
	for _, b := range builders {
		d := b.desc
		if _, ok := reg.byName[d.Name]; ok {
			res.errorf(d.Name, "", "duplicate type")
			continue
		}
		t := newType(d, res)
		reg.types = append(reg.types, t)
		reg.byName[t.name] = t
	}
	for _, t := range reg.types {
		for _, p := range t.props {
			if p.assoc == AssocNone {
				continue
			}
			resolveTarget(reg, p, res)
		}
	}
	for _, t := range reg.types {
		for _, p := range t.props {
			if p.assoc != AssocNone && p.target != nil {
				validateAssociation(p, res)
			}
		}
		validateType(t, res)
	}
	for _, b := range builders {
		if t := reg.byName[b.desc.Name]; t != nil && t.matcher == nil {
			buildKeyGroups(t, b.desc, res)
		}
	}
	if res.HasErrors() {
		return nil, res
	}
	reg.warnings = res.Warnings
	return reg, nil
}

// Warnings returns the warnings reported while building the registry.
func (r *Registry) Warnings() []*ValidationError { return r.warnings }

// MustBuild is like Build but panics on error.
func MustBuild(builders ...*TypeBuilder) *Registry {
	reg, err := Build(builders...)
	if err != nil {
		panic(err)
	}
	return reg
}

func newType(d *TypeDescriptor, res *ValidationResult) *Type {
	t := &Type{
		name:   d.Name,
		table:  d.Table,
		byName: make(map[string]*Prop, len(d.Props)),
		idGen:  d.IDGenerator,
	}
	if t.table == "" {
		t.table = defaultName(d.Name)
	}
	for _, pd := range d.Props {
		if _, ok := t.byName[pd.Name]; ok {
			res.errorf(t.name, pd.Name, "duplicate property")
			continue
		}
		p := &Prop{
			name:         pd.Name,
			kind:         pd.Kind,
			column:       pd.Column,
			owner:        t,
			assoc:        pd.Assoc,
			id:           pd.ID,
			nullable:     pd.Nullable,
			inputNotNull: pd.InputNotNull,
			version:      pd.Version,
			logical:      pd.LogicalDeleted,
			dissociate:   pd.OnDissociate,
			remote:       pd.Remote,
			joinSQL:      pd.JoinSQL,
			fakeFK:       pd.FakeForeignKey,
			targetName:   pd.Target,
			mappedByName: pd.MappedBy,
			index:        len(t.props),
		}
		if pd.JoinTable != nil {
			m := *pd.JoinTable
			p.middle = &m
		}
		if pd.logicalDefault && p.logical == nil {
			if p.logical = defaultLogicalDeleted(p.kind); p.logical == nil {
				res.errorf(t.name, p.name, "logical-deleted property of kind %s needs explicit values", p.kind)
			}
			if p.kind == KindTime && !p.nullable {
				res.errorf(t.name, p.name, "logical-deleted time property must be nullable")
			}
		}
		if p.column == "" && (pd.Assoc == AssocNone || p.IsReference() && pd.MappedBy == "" && pd.JoinSQL == "") {
			p.column = defaultName(p.name)
			if p.IsReference() {
				p.column += "_ID"
			}
		}
		switch {
		case p.id:
			t.id = p
		case p.version:
			t.version = p
		case p.logical != nil:
			t.logicalDeleted = p
		}
		t.props = append(t.props, p)
		t.byName[p.name] = p
	}
	return t
}

func resolveTarget(reg *Registry, p *Prop, res *ValidationResult) {
	t := p.owner
	p.target = reg.byName[p.targetName]
	if p.target == nil {
		res.errorf(t.name, p.name, "unknown target type %q", p.targetName)
		return
	}
	if p.mappedByName != "" {
		mp := p.target.byName[p.mappedByName]
		if mp == nil || mp.assoc == AssocNone {
			res.errorf(t.name, p.name, "mapped-by property %q does not exist on %s", p.mappedByName, p.target.name)
			return
		}
		p.mappedBy = mp
		p.opposite = mp
		mp.opposite = p
		p.column = ""
		return
	}
	if p.assoc == AssocManyToMany && p.joinSQL == "" {
		if p.middle == nil {
			p.middle = &MiddleTable{}
		}
		if p.middle.Table == "" {
			p.middle.Table = t.table + "_" + p.target.table + "_MAPPING"
		}
		if p.middle.SourceColumn == "" {
			p.middle.SourceColumn = defaultName(t.name) + "_ID"
		}
		if p.middle.TargetColumn == "" {
			p.middle.TargetColumn = defaultName(p.target.name) + "_ID"
		}
	}
	if p.assoc == AssocManyToMany || p.joinSQL != "" {
		p.column = ""
	}
}

func buildKeyGroups(t *Type, d *TypeDescriptor, res *ValidationResult) {
	for _, kd := range d.KeyGroups {
		if !validateKeyGroup(t, kd, res) {
			continue
		}
		g := &KeyGroup{name: kd.Name, primary: kd.Primary}
		for _, name := range kd.Props {
			g.props = append(g.props, t.byName[name])
		}
		t.keyGroups = append(t.keyGroups, g)
	}
	if len(t.keyGroups) == 1 {
		t.keyGroups[0].primary = true
	}
	t.matcher = newKeyMatcher(t.keyGroups)
}

// defaultName converts a Go style name to an upper snake case SQL name.
func defaultName(name string) string {
	return strings.ToUpper(inflect.Underscore(name))
}
