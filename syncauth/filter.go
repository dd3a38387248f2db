package syncauth

import (
	"context"

	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
	"github.com/treecrdt/authsync/syncmsg"
)

// AuthorizeFilter decides whether the peer (via its currently-recorded
// advertised capabilities) may open a reconciliation session over filter
// (spec.md §4.5). scope.Unknown means the scope cannot yet be resolved;
// callers surface this as ErrMissingSubtreeContext rather than a hard
// rejection, since the right response is to let the caller decide whether
// to retry once more context has synced.
func (a *SyncAuth) AuthorizeFilter(ctx context.Context, filter syncmsg.Filter) error {
	a.mu.Lock()
	caps := a.allPeerCaps()
	tc := a.opts.treeCtx
	a.mu.Unlock()

	switch filter.Kind {
	case syncmsg.FilterAll:
		// A FilterAll request needs an actually doc-wide grant, not merely
		// one rooted at the document root: a root-rooted cap with a
		// restrictive max_depth or an exclude list is not doc-wide, and
		// scope.Evaluate's node==sc.Root short-circuit would wrongly pass
		// it if queried against the root node itself (spec.md §4.5).
		if !captoken.CapsAllowsDocWide(caps, []opmodel.Action{opmodel.ActionReadStructure}) {
			return ErrUnauthorized
		}
		return nil

	case syncmsg.FilterChildren:
		decision, err := captoken.CapsAllowsNodeAccess(ctx, tc, caps, filter.Parent, []opmodel.Action{opmodel.ActionReadStructure})
		if err != nil {
			return err
		}
		switch decision {
		case scope.Allow:
			return nil
		case scope.Unknown:
			return ErrMissingSubtreeContext
		default:
			return ErrUnauthorized
		}

	default:
		return syncmsg.ErrUnspecifiedFilter
	}
}

// FilterOutgoingOps returns, in order, whether each op in ops may be sent
// to the peer: if the peer holds any doc-wide read_structure grant every
// op passes; otherwise each op's target node must individually fall
// within some peer grant carrying read_structure. An unresolved scope
// fails closed (spec.md §4.5).
func (a *SyncAuth) FilterOutgoingOps(ctx context.Context, ops []opmodel.Operation) ([]bool, error) {
	a.mu.Lock()
	caps := a.allPeerCaps()
	tc := a.opts.treeCtx
	a.mu.Unlock()

	mask := make([]bool, len(ops))
	if captoken.CapsAllowsDocWide(caps, []opmodel.Action{opmodel.ActionReadStructure}) {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}

	for i, op := range ops {
		decision, err := captoken.CapsAllowsNodeAccess(ctx, tc, caps, op.Node, []opmodel.Action{opmodel.ActionReadStructure})
		if err != nil {
			return nil, err
		}
		mask[i] = decision == scope.Allow
	}
	return mask, nil
}
