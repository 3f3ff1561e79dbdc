package schema

import (
	"fmt"
	"strings"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Type    string
	Prop    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Prop != "" {
		return fmt.Sprintf("%s.%s: %s", e.Type, e.Prop, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Error implements the error interface so that a failing result can be
// returned by Build.
func (r *ValidationResult) Error() string {
	return "schema: invalid schema\n" + r.String()
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) errorf(typ, prop, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Type: typ, Prop: prop, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) warnf(typ, prop, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Type: typ, Prop: prop, Message: fmt.Sprintf(format, args...)})
}

// validateType checks the rules that only involve one resolved type.
func validateType(t *Type, r *ValidationResult) {
	var ids, versions, logicals int
	for _, p := range t.props {
		switch {
		case p.id:
			ids++
			if p.nullable {
				r.errorf(t.name, p.name, "id cannot be nullable")
			}
		case p.version:
			versions++
			if p.kind != KindInt {
				r.errorf(t.name, p.name, "version must be of kind int, got %s", p.kind)
			}
		case p.logical != nil:
			logicals++
		}
		if p.assoc == AssocNone && p.kind == KindInvalid {
			r.errorf(t.name, p.name, "missing kind")
		}
	}
	switch {
	case ids == 0:
		r.errorf(t.name, "", "missing id property")
	case ids > 1:
		r.errorf(t.name, "", "multiple id properties")
	}
	if versions > 1 {
		r.errorf(t.name, "", "multiple version properties")
	}
	if logicals > 1 {
		r.errorf(t.name, "", "multiple logical-deleted properties")
	}
	if t.id != nil {
		switch t.idGen.strategy {
		case StrategyIdentity, StrategySequence:
			if t.id.kind != KindInt {
				r.errorf(t.name, t.id.name, "%s id generator requires an int id, got %s", t.idGen.strategy, t.id.kind)
			}
		case StrategyUser:
			if t.idGen.fn == nil {
				r.errorf(t.name, t.id.name, "user id generator without function")
			}
		}
	}
	columns := make(map[string]string)
	for _, p := range t.props {
		if !p.IsColumnDefinition() {
			continue
		}
		if other, ok := columns[p.column]; ok {
			r.errorf(t.name, p.name, "column %q is already used by %q", p.column, other)
		}
		columns[p.column] = p.name
	}
}

// validateAssociation checks an association property once targets and
// mapped-by properties are resolved.
func validateAssociation(p *Prop, r *ValidationResult) {
	t := p.owner
	if p.target == nil {
		return
	}
	switch p.assoc {
	case AssocOneToMany:
		if p.mappedBy == nil {
			r.errorf(t.name, p.name, "one-to-many association requires mapped-by")
			return
		}
		if !p.mappedBy.IsReference() || !p.mappedBy.IsColumnDefinition() {
			r.errorf(t.name, p.name, "mapped-by property %q must be a foreign key reference", p.mappedBy.name)
		}
	case AssocManyToMany:
		if p.mappedBy != nil {
			if p.mappedBy.assoc != AssocManyToMany || p.mappedBy.mappedBy != nil {
				r.errorf(t.name, p.name, "mapped-by property %q must own a many-to-many association", p.mappedBy.name)
			}
			break
		}
		if m := p.middle; m != nil && p.joinSQL == "" && m.SourceColumn == m.TargetColumn {
			r.errorf(t.name, p.name, "middle table %q uses the same column %q for both sides", m.Table, m.SourceColumn)
		}
	case AssocManyToOne:
		if p.mappedBy != nil {
			r.errorf(t.name, p.name, "many-to-one association cannot be mapped by another property")
		}
	}
	if p.middle != nil && p.assoc != AssocManyToMany {
		r.errorf(t.name, p.name, "only many-to-many associations can use a middle table")
	}
	if p.mappedBy != nil && p.mappedBy.target != t {
		r.errorf(t.name, p.name, "mapped-by property %q targets %s, not %s", p.mappedBy.name, p.mappedBy.target, t.name)
	}
	if p.dissociate != DissociateDefault && !p.IsColumnDefinition() {
		r.warnf(t.name, p.name, "dissociate action is ignored on a property without foreign key")
	}
	if p.dissociate == DissociateSetNull && !p.nullable {
		r.errorf(t.name, p.name, "dissociate action SET NULL requires a nullable reference")
	}
}

// validateKeyGroup checks a declared key group.
func validateKeyGroup(t *Type, d KeyGroupDescriptor, r *ValidationResult) bool {
	if len(d.Props) == 0 {
		r.errorf(t.name, "", "key group %q is empty", d.Name)
		return false
	}
	ok := true
	for _, name := range d.Props {
		p := t.byName[name]
		switch {
		case p == nil:
			r.errorf(t.name, "", "key group %q references unknown property %q", d.Name, name)
			ok = false
		case !p.IsColumnDefinition():
			r.errorf(t.name, name, "key group %q can only contain column properties", d.Name)
			ok = false
		case p.nullable:
			r.warnf(t.name, name, "key group %q contains a nullable property", d.Name)
		}
	}
	return ok
}
