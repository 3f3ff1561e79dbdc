// Package privacy provides the rules evaluated by the save engine before
// it writes a draft.
//
// # Core Concepts
//
//   - Mutation: the write of one draft, with its operation, type and path
//   - Rule: a function that returns Allow, Deny, or Skip decisions
//   - Viewer: an interface representing the current user
//
// # Defining Policies
//
// A policy is an ordered list of rules passed to the saver:
//
//	saver, err := mutation.NewSaver(drv, reg, mutation.WithPolicy(privacy.Policies{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.OnTypes(privacy.IsOwner("owner"), "Document"),
//	    privacy.DenyMutationOperationRule(persist.OpUpsert),
//	}))
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: grants access and stops evaluation
//   - Deny: denies access and stops evaluation
//   - Skip: continues to the next rule
//
// If all rules return Skip, the save is allowed. End the policy with
// AlwaysDenyRule to deny by default.
//
// # Context Integration
//
// The viewer is stored in context and retrieved during policy evaluation:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID: "user-123",
//	    Roles:  []string{"user"},
//	})
//	res, err := saver.Save(ctx, draft)
//
// A decision attached with DecisionContext overrides every policy, which
// is how system tasks bypass the rules:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
//
// # Error Handling
//
// A denied draft fails the save with a *persist.PrivacyError naming the
// entity type, the operation and the decision.
package privacy
