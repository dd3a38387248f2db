package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/opmodel"
)

// mapTreeContext is a fixed parent-link table for tests.
type mapTreeContext map[opmodel.NodeId]opmodel.NodeId

func (m mapTreeContext) Parent(_ context.Context, node opmodel.NodeId) (opmodel.NodeId, bool, error) {
	if node == (opmodel.NodeId{}) {
		return opmodel.NodeId{}, false, nil
	}
	parent, ok := m[node]
	if !ok {
		return opmodel.NodeId{}, false, ErrAncestryUnavailable
	}
	return parent, true, nil
}

func node(b byte) opmodel.NodeId {
	var n opmodel.NodeId
	n[0] = b
	return n
}

func u32(v uint32) *uint32 { return &v }

func TestEvaluateDocWideAllowsEverything(t *testing.T) {
	tc := mapTreeContext{}
	sc := Scope{Root: opmodel.NodeId{}}
	d, err := Evaluate(context.Background(), tc, node(1), sc)
	require.NoError(t, err)
	require.Equal(t, Allow, d)
}

func TestEvaluateNodeIsRoot(t *testing.T) {
	tc := mapTreeContext{}
	sc := Scope{Root: node(5)}
	d, err := Evaluate(context.Background(), tc, node(5), sc)
	require.NoError(t, err)
	require.Equal(t, Allow, d)
}

func TestEvaluateExcludedWins(t *testing.T) {
	tc := mapTreeContext{}
	sc := Scope{Root: opmodel.NodeId{}, Exclude: []opmodel.NodeId{node(9)}}
	d, err := Evaluate(context.Background(), tc, node(9), sc)
	require.NoError(t, err)
	require.Equal(t, Deny, d)
}

func TestEvaluateWalksToRootWithinDepth(t *testing.T) {
	// 3 -> 2 -> 1 (root of scope)
	tc := mapTreeContext{
		node(3): node(2),
		node(2): node(1),
	}
	sc := Scope{Root: node(1), MaxDepth: u32(2)}
	d, err := Evaluate(context.Background(), tc, node(3), sc)
	require.NoError(t, err)
	require.Equal(t, Allow, d)
}

func TestEvaluateExceedsMaxDepthIsUnknown(t *testing.T) {
	tc := mapTreeContext{
		node(3): node(2),
		node(2): node(1),
	}
	sc := Scope{Root: node(1), MaxDepth: u32(1)}
	d, err := Evaluate(context.Background(), tc, node(3), sc)
	require.NoError(t, err)
	require.Equal(t, Unknown, d)
}

func TestEvaluateMissingAncestryIsUnknown(t *testing.T) {
	tc := mapTreeContext{} // node(3)'s parent is not known
	sc := Scope{Root: node(1), MaxDepth: u32(5)}
	d, err := Evaluate(context.Background(), tc, node(3), sc)
	require.NoError(t, err)
	require.Equal(t, Unknown, d)
}

func TestEvaluateExcludedAncestorDenies(t *testing.T) {
	tc := mapTreeContext{
		node(3): node(2),
		node(2): node(1),
	}
	sc := Scope{Root: node(1), MaxDepth: u32(5), Exclude: []opmodel.NodeId{node(2)}}
	d, err := Evaluate(context.Background(), tc, node(3), sc)
	require.NoError(t, err)
	require.Equal(t, Deny, d)
}

func TestEvaluateDetachedSubtreeIsUnknown(t *testing.T) {
	// node(3)'s chain reaches the document root without ever hitting sc.Root.
	tc := mapTreeContext{
		node(3): node(2),
	}
	sc := Scope{Root: node(99), MaxDepth: u32(10)}
	d, err := Evaluate(context.Background(), tc, node(3), sc)
	require.NoError(t, err)
	require.Equal(t, Unknown, d)
}
