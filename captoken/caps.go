package captoken

import (
	"context"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

func scopeOf(res Resource) scope.Scope {
	return scope.Scope{Root: res.Root, MaxDepth: res.MaxDepth, Exclude: res.Exclude}
}

// CapsAllowsDocWide reports whether any cap in caps grants every action in
// required over the whole document: scope.Scope.IsDocWide (rooted at the
// document root, no max_depth, no exclusions). Unlike CapsAllowsNodeAccess
// against the root node, this does not trivially pass a cap that is merely
// rooted at the document root but depth- or exclude-bounded (spec.md §4.5).
func CapsAllowsDocWide(caps []Cap, required []opmodel.Action) bool {
	for _, cap := range caps {
		if !opmodel.HasAllActions(cap.Actions, required) {
			continue
		}
		if scopeOf(cap.Res).IsDocWide() {
			return true
		}
	}
	return false
}

// CapsAllowsNodeAccess decides whether any of caps grants every action in
// required over node, using tc to walk ancestry. It is an OR across caps:
// allow short-circuits, unknown beats deny (spec.md §4.3).
func CapsAllowsNodeAccess(ctx context.Context, tc scope.TreeContext, caps []Cap, node opmodel.NodeId, required []opmodel.Action) (scope.Decision, error) {
	sawUnknown := false
	for _, cap := range caps {
		if !opmodel.HasAllActions(cap.Actions, required) {
			continue
		}
		decision, err := scope.Evaluate(ctx, tc, node, scopeOf(cap.Res))
		if err != nil {
			return scope.Unknown, err
		}
		switch decision {
		case scope.Allow:
			return scope.Allow, nil
		case scope.Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return scope.Unknown, nil
	}
	return scope.Deny, nil
}

// nodeCheck is one of the one-or-two node/action checks an op requires.
type nodeCheck struct {
	node     opmodel.NodeId
	required []opmodel.Action
}

func checksForOp(op *opmodel.Operation) []nodeCheck {
	required := op.RequiredActions()
	checks := []nodeCheck{{node: op.Node, required: required}}
	if op.Kind == opmodel.KindMove {
		// A move must be authorized at both its source node and its
		// destination parent (spec.md §4.3).
		checks = append(checks, nodeCheck{node: op.NewParent, required: required})
	}
	return checks
}

// CapsAllowsOp decides whether caps authorize op: an AND across the op's
// required node/action checks (move needs both source and destination
// parent), each itself an OR across caps (spec.md §4.3).
func CapsAllowsOp(ctx context.Context, tc scope.TreeContext, caps []Cap, op *opmodel.Operation) (scope.Decision, error) {
	sawUnknown := false
	for _, check := range checksForOp(op) {
		decision, err := CapsAllowsNodeAccess(ctx, tc, caps, check.node, check.required)
		if err != nil {
			return scope.Unknown, err
		}
		switch decision {
		case scope.Deny:
			return scope.Deny, nil
		case scope.Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return scope.Unknown, nil
	}
	return scope.Allow, nil
}
