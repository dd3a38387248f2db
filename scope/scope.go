// Package scope implements the tri-state (allow/deny/unknown) evaluator
// that decides whether a capability's {root, max_depth, exclude} scope
// covers a given tree node, per spec.md §4.3.
package scope

import (
	"context"
	"errors"

	"github.com/treecrdt/authsync/opmodel"
)

// Decision is the outcome of evaluating a node against a Scope.
type Decision int

const (
	// Deny means the scope explicitly excludes the node.
	Deny Decision = iota
	// Allow means the scope covers the node.
	Allow
	// Unknown means the tree context cannot yet prove or disprove
	// coverage (e.g. an ancestor has not been observed locally).
	Unknown
)

func (d Decision) String() string {
	switch d {
	case Deny:
		return "deny"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Scope bounds the subtree a capability covers.
type Scope struct {
	Root     opmodel.NodeId
	MaxDepth *uint32
	Exclude  []opmodel.NodeId
}

// Contains reports whether node is listed in the scope's exclude set.
func (s Scope) excludes(node opmodel.NodeId) bool {
	for _, ex := range s.Exclude {
		if ex == node {
			return true
		}
	}
	return false
}

// IsDocWide reports whether this scope is the unrestricted, whole-document
// scope: rooted at the document root with no depth bound and no
// exclusions.
func (s Scope) IsDocWide() bool {
	return s.Root == (opmodel.NodeId{}) && s.MaxDepth == nil && len(s.Exclude) == 0
}

// ErrAncestryUnavailable is returned by a TreeContext when it cannot
// determine a node's parent (the node is unknown, detached, or not yet
// replicated locally).
var ErrAncestryUnavailable = errors.New("scope: ancestor context unavailable")

// TreeContext resolves parent links in the shared tree so the evaluator can
// walk from a node up toward a scope's root. It is backed by the Backend in
// a full deployment; this package only consumes it.
type TreeContext interface {
	// Parent returns the parent of node. ok is false, with a nil error,
	// when node is the document root (no parent). err wraps
	// ErrAncestryUnavailable when the ancestor chain cannot currently be
	// resolved (e.g. not yet synced).
	Parent(ctx context.Context, node opmodel.NodeId) (parent opmodel.NodeId, ok bool, err error)
}

// MaxWalkDepth bounds the ancestor walk even when a scope specifies no
// max_depth, guarding against a corrupt or cyclic tree context.
const MaxWalkDepth = 1 << 16

// Evaluate classifies node under sc using tc to resolve ancestry.
func Evaluate(ctx context.Context, tc TreeContext, node opmodel.NodeId, sc Scope) (Decision, error) {
	if sc.excludes(node) {
		return Deny, nil
	}
	if node == sc.Root {
		return Allow, nil
	}
	if sc.IsDocWide() {
		// Unbounded, exclusion-free scope rooted at the document root
		// covers every node in the document.
		return Allow, nil
	}

	limit := MaxWalkDepth
	if sc.MaxDepth != nil {
		limit = int(*sc.MaxDepth)
	}

	cur := node
	for hops := 0; hops < limit; hops++ {
		parent, ok, err := tc.Parent(ctx, cur)
		if err != nil {
			if errors.Is(err, ErrAncestryUnavailable) {
				return Unknown, nil
			}
			return Unknown, err
		}
		if !ok {
			// cur is the document root and we never hit sc.Root.
			return Unknown, nil
		}
		if sc.excludes(parent) {
			return Deny, nil
		}
		if parent == sc.Root {
			return Allow, nil
		}
		cur = parent
	}
	return Unknown, nil
}
