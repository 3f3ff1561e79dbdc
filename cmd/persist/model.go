package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/schema/mixin"
)

// Model is the YAML form of a schema registry.
//
//	types:
//	  - name: Department
//	    id: {name: id, kind: int}
//	    generator: identity
//	    key: [name]
//	    props:
//	      - {name: name, kind: string}
//	      - {name: employees, one_to_many: Employee, mapped_by: department}
type Model struct {
	Types []TypeModel `yaml:"types"`
}

// TypeModel describes one entity type.
type TypeModel struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	ID    struct {
		Name   string `yaml:"name"`
		Kind   string `yaml:"kind"`
		Column string `yaml:"column"`
	} `yaml:"id"`
	// Generator is identity, uuid, sequence:NAME or assigned.
	Generator string `yaml:"generator"`
	// Mixins adds built-in property sets: version, soft_delete,
	// soft_delete_millis, soft_delete_time and tenant.
	Mixins    []string            `yaml:"mixins"`
	Key       []string            `yaml:"key"`
	KeyGroups map[string][]string `yaml:"key_groups"`
	Props     []PropModel         `yaml:"props"`
}

// PropModel describes a scalar or association property. Exactly one of
// Kind and the association fields is set.
type PropModel struct {
	Name           string     `yaml:"name"`
	Kind           string     `yaml:"kind"`
	Column         string     `yaml:"column"`
	Nullable       bool       `yaml:"nullable"`
	Version        bool       `yaml:"version"`
	LogicalDeleted bool       `yaml:"logical_deleted"`
	ManyToOne      string     `yaml:"many_to_one"`
	OneToOne       string     `yaml:"one_to_one"`
	OneToMany      string     `yaml:"one_to_many"`
	ManyToMany     string     `yaml:"many_to_many"`
	MappedBy       string     `yaml:"mapped_by"`
	JoinTable      *JoinTable `yaml:"join_table"`
	JoinSQL        string     `yaml:"join_sql"`
	Remote         bool       `yaml:"remote"`
	OnDissociate   string     `yaml:"on_dissociate"`
}

// JoinTable names a middle table and its two foreign key columns.
type JoinTable struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// LoadModel reads a model file and builds its registry.
func LoadModel(path string) (*schema.Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return ParseModel(b)
}

// ParseModel parses a YAML model and builds its registry.
func ParseModel(b []byte) (*schema.Registry, error) {
	var m Model
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(m.Types) == 0 {
		return nil, fmt.Errorf("parse model: no types")
	}
	builders := make([]*schema.TypeBuilder, 0, len(m.Types))
	for _, t := range m.Types {
		b, err := t.builder()
		if err != nil {
			return nil, err
		}
		builders = append(builders, b)
	}
	return schema.Build(builders...)
}

func (t TypeModel) builder() (*schema.TypeBuilder, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("model: type without name")
	}
	idName, idKind := t.ID.Name, t.ID.Kind
	if idName == "" {
		idName = "id"
	}
	if idKind == "" {
		idKind = "int"
	}
	kind, err := schema.ParseKind(idKind)
	if err != nil {
		return nil, fmt.Errorf("model: type %s: %w", t.Name, err)
	}
	id := schema.ID(idName, kind)
	if t.ID.Column != "" {
		id.Column(t.ID.Column)
	}
	b := schema.NewType(t.Name, id)
	for _, pm := range t.Props {
		p, err := pm.builder()
		if err != nil {
			return nil, fmt.Errorf("model: type %s: %w", t.Name, err)
		}
		b.Props(p)
	}
	for _, name := range t.Mixins {
		m, ok := mixins[name]
		if !ok {
			return nil, fmt.Errorf("model: type %s: unknown mixin %q", t.Name, name)
		}
		b.Mixin(m)
	}
	if t.Table != "" {
		b.Table(t.Table)
	}
	if len(t.Key) > 0 {
		b.Key(t.Key...)
	}
	for _, name := range sortedKeys(t.KeyGroups) {
		b.KeyGroup(name, t.KeyGroups[name]...)
	}
	gen, err := parseGenerator(t.Generator)
	if err != nil {
		return nil, fmt.Errorf("model: type %s: %w", t.Name, err)
	}
	return b.IDGenerator(gen), nil
}

var mixins = map[string]schema.Mixin{
	"version":            mixin.Version{},
	"soft_delete":        mixin.SoftDelete{},
	"soft_delete_millis": mixin.SoftDeleteMillis{},
	"soft_delete_time":   mixin.SoftDeleteTime{},
	"tenant":             mixin.Tenant{},
}

func parseGenerator(s string) (schema.IDGenerator, error) {
	switch name, arg, _ := strings.Cut(s, ":"); strings.ToLower(name) {
	case "", "assigned":
		return schema.IDGenerator{}, nil
	case "identity":
		return schema.Identity(), nil
	case "uuid":
		return schema.UUID(), nil
	case "sequence":
		if arg == "" {
			return schema.IDGenerator{}, fmt.Errorf("sequence generator without name")
		}
		return schema.Sequence(arg), nil
	}
	return schema.IDGenerator{}, fmt.Errorf("unknown id generator %q", s)
}

func (p PropModel) builder() (*schema.PropBuilder, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("property without name")
	}
	var b *schema.PropBuilder
	switch {
	case p.ManyToOne != "":
		b = schema.ManyToOne(p.Name, p.ManyToOne)
	case p.OneToOne != "":
		b = schema.OneToOne(p.Name, p.OneToOne)
	case p.OneToMany != "":
		b = schema.OneToMany(p.Name, p.OneToMany)
	case p.ManyToMany != "":
		b = schema.ManyToMany(p.Name, p.ManyToMany)
	default:
		kind, err := schema.ParseKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		b = schema.Field(p.Name, kind)
	}
	if p.Column != "" {
		b.Column(p.Column)
	}
	if p.Nullable {
		b.Nullable()
	}
	if p.Version {
		b.Version()
	}
	if p.LogicalDeleted {
		b.LogicalDeleted()
	}
	if p.MappedBy != "" {
		b.MappedBy(p.MappedBy)
	}
	if j := p.JoinTable; j != nil {
		b.JoinTable(j.Name, j.Source, j.Target)
	}
	if p.JoinSQL != "" {
		b.JoinSQL(p.JoinSQL)
	}
	if p.Remote {
		b.Remote()
	}
	if p.OnDissociate != "" {
		a, err := parseDissociate(p.OnDissociate)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		b.OnDissociate(a)
	}
	return b, nil
}

func parseDissociate(s string) (schema.DissociateAction, error) {
	a := schema.DissociateAction(strings.ReplaceAll(strings.ToUpper(s), "_", " "))
	switch a {
	case schema.DissociateCheck, schema.DissociateSetNull, schema.DissociateDelete, schema.DissociateLax:
		return a, nil
	}
	return "", fmt.Errorf("unknown dissociate action %q", s)
}
