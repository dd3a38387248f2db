package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

func insertOp(docId string, replica opmodel.ReplicaId, counter uint64, lamport uint64, parent, node opmodel.NodeId) opmodel.Operation {
	var op opmodel.Operation
	op.Meta.Id = opmodel.OpId{Replica: replica, Counter: counter}
	op.Meta.Lamport = lamport
	op.Kind = opmodel.KindInsert
	op.Parent = parent
	op.Node = node
	op.OrderKey = []byte("a")
	return op
}

func TestMemoryApplyOpsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	replica := opmodel.ReplicaId{1}
	op := insertOp("doc-1", replica, 1, 10, opmodel.NodeId{}, opmodel.NodeId{9})

	require.NoError(t, m.ApplyOps(ctx, "doc-1", []opmodel.Operation{op, op}))

	refs, err := m.ListOpRefs(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	maxLamport, err := m.MaxLamport(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, uint64(10), maxLamport)
}

func TestMemoryTreeContextTracksParentLinks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	replica := opmodel.ReplicaId{1}
	child := opmodel.NodeId{9}

	require.NoError(t, m.ApplyOps(ctx, "doc-1", []opmodel.Operation{
		insertOp("doc-1", replica, 1, 1, opmodel.NodeId{}, child),
	}))

	tc := m.TreeContextFor("doc-1")
	parent, ok, err := tc.Parent(ctx, child)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, opmodel.NodeId{}, parent)

	// The document root itself has no parent.
	_, ok, err = tc.Parent(ctx, opmodel.NodeId{})
	require.NoError(t, err)
	require.False(t, ok)

	// An unknown node's ancestry is unavailable, not simply absent.
	_, _, err = tc.Parent(ctx, opmodel.NodeId{42})
	require.ErrorIs(t, err, scope.ErrAncestryUnavailable)
}

func TestMemoryTreeContextFollowsMoves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	replica := opmodel.ReplicaId{1}
	node := opmodel.NodeId{9}
	newParent := opmodel.NodeId{5}

	require.NoError(t, m.ApplyOps(ctx, "doc-1", []opmodel.Operation{
		insertOp("doc-1", replica, 1, 1, opmodel.NodeId{}, node),
		insertOp("doc-1", replica, 2, 2, opmodel.NodeId{}, newParent),
	}))
	moveOp := opmodel.Operation{Kind: opmodel.KindMove, Node: node, NewParent: newParent, OrderKey: []byte("b")}
	moveOp.Meta.Id = opmodel.OpId{Replica: replica, Counter: 3}
	moveOp.Meta.Lamport = 3
	require.NoError(t, m.ApplyOps(ctx, "doc-1", []opmodel.Operation{moveOp}))

	tc := m.TreeContextFor("doc-1")
	parent, ok, err := tc.Parent(ctx, node)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newParent, parent)
}

func TestMemoryPendingOpsUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ref := opmodel.OpRef{1, 2, 3}

	require.NoError(t, m.StorePendingOps(ctx, "doc-1", []PendingOp{{OpRef: ref, Reason: "missing_context"}}))
	require.NoError(t, m.StorePendingOps(ctx, "doc-1", []PendingOp{{OpRef: ref, Reason: "missing_context", Message: "updated"}}))

	rows, err := m.ListPendingOps(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "updated", rows[0].Message)

	require.NoError(t, m.DeletePendingOps(ctx, "doc-1", []opmodel.OpRef{ref}))
	rows, err = m.ListPendingOps(ctx, "doc-1")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMemoryOpAuthRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ref := opmodel.OpRef{7}
	auth := OpAuth{Sig: [64]byte{1}, CreatedAtMs: 123}

	require.NoError(t, m.PutOpAuth(ctx, "doc-1", ref, auth))
	got, ok, err := m.GetOpAuth(ctx, "doc-1", ref)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, auth, got)

	_, ok, err = m.GetOpAuth(ctx, "doc-1", opmodel.OpRef{8})
	require.NoError(t, err)
	require.False(t, ok)
}
