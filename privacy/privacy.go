package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/schema"
)

// Decisions returned by rules. Rules may wrap them with Allowf, Denyf and
// Skipf; callers test them with errors.Is.
var (
	// Allow ends the evaluation of Policies and lets the draft be written.
	Allow = errors.New("persist/privacy: allow rule")
	// Deny ends the evaluation and fails the save.
	Deny = errors.New("persist/privacy: deny rule")
	// Skip passes the decision to the next rule.
	Skip = errors.New("persist/privacy: skip rule")
)

func wrapDecision(decision error, format string, a []any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, a...), decision)
}

// Allowf returns Allow with a formatted reason.
func Allowf(format string, a ...any) error { return wrapDecision(Allow, format, a) }

// Denyf returns Deny with a formatted reason.
func Denyf(format string, a ...any) error { return wrapDecision(Deny, format, a) }

// Skipf returns Skip with a formatted reason.
func Skipf(format string, a ...any) error { return wrapDecision(Skip, format, a) }

// Mutation is the write of one draft by the save engine.
type Mutation interface {
	// Op is the statement applied to the row.
	Op() persist.Op
	// Type is the entity type of the row.
	Type() *schema.Type
	// Path locates the draft in the saved graph, such as "<root>.books".
	Path() string
	// Draft is the written draft. Rules may modify it before it is written.
	Draft() *entity.Draft
}

// MutationRule decides on a Mutation by returning one of the decisions.
// A nil error counts as Skip.
type MutationRule interface {
	EvalMutation(context.Context, Mutation) error
}

// MutationRuleFunc turns a function into a MutationRule.
type MutationRuleFunc func(context.Context, Mutation) error

// EvalMutation calls f.
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

type constRule struct{ decision error }

func (r constRule) EvalMutation(context.Context, Mutation) error { return r.decision }

// AlwaysAllowRule returns a rule deciding Allow.
func AlwaysAllowRule() MutationRule { return constRule{Allow} }

// AlwaysDenyRule returns a rule deciding Deny. It usually closes a policy
// to deny what no earlier rule allowed.
func AlwaysDenyRule() MutationRule { return constRule{Deny} }

// ContextMutationRule returns a rule deciding from the context alone.
func ContextMutationRule(eval func(context.Context) error) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, _ Mutation) error {
		return eval(ctx)
	})
}

// when runs rule for mutations matching cond and skips the others.
func when(rule MutationRule, cond func(Mutation) bool) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if !cond(m) {
			return Skip
		}
		return rule.EvalMutation(ctx, m)
	})
}

// OnMutationOperation runs rule only for the operations in op, which may
// combine several with |.
func OnMutationOperation(rule MutationRule, op persist.Op) MutationRule {
	return when(rule, func(m Mutation) bool { return m.Op().Is(op) })
}

// OnTypes runs rule only for drafts of the named entity types.
func OnTypes(rule MutationRule, types ...string) MutationRule {
	names := make(map[string]struct{}, len(types))
	for _, t := range types {
		names[t] = struct{}{}
	}
	return when(rule, func(m Mutation) bool {
		_, ok := names[m.Type().Name()]
		return ok
	})
}

// DenyMutationOperationRule denies the operations in op.
func DenyMutationOperationRule(op persist.Op) MutationRule {
	return OnMutationOperation(MutationRuleFunc(func(_ context.Context, m Mutation) error {
		return Denyf("persist/privacy: %s of %s is not allowed", m.Op(), m.Type().Name())
	}), op)
}

// MutationPolicy runs its rules in order and returns the first decision
// other than Skip, Allow included. Use it to group rules inside Policies.
type MutationPolicy []MutationRule

// EvalMutation implements MutationRule.
func (p MutationPolicy) EvalMutation(ctx context.Context, m Mutation) error {
	for _, rule := range p {
		if d := rule.EvalMutation(ctx, m); !skipped(d) {
			return d
		}
	}
	return nil
}

// Policies is the top level policy of a saver. An Allow decision ends
// the evaluation with nil. A decision attached to the context with
// DecisionContext takes precedence over the rules.
type Policies []MutationRule

// EvalMutation implements MutationRule.
func (p Policies) EvalMutation(ctx context.Context, m Mutation) error {
	if d, ok := DecisionFromContext(ctx); ok {
		return d
	}
	d := MutationPolicy(p).EvalMutation(ctx, m)
	if errors.Is(d, Allow) {
		return nil
	}
	return d
}

func skipped(decision error) bool {
	return decision == nil || errors.Is(decision, Skip)
}

type decisionKey struct{}

// DecisionContext attaches decision to ctx. Nil and Skip leave ctx as is.
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
func DecisionContext(ctx context.Context, decision error) context.Context {
	if skipped(decision) {
		return ctx
	}
	return context.WithValue(ctx, decisionKey{}, decision)
}

// DecisionFromContext returns the decision attached to ctx. An attached
// Allow is reported as a nil decision.
func DecisionFromContext(ctx context.Context) (error, bool) {
	d, ok := ctx.Value(decisionKey{}).(error)
	if !ok {
		return nil, false
	}
	if errors.Is(d, Allow) {
		return nil, true
	}
	return d, true
}
