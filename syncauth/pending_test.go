package syncauth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
	"github.com/treecrdt/authsync/syncmsg"
)

func genKeyPending(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, sk
}

func insertOp(replica opmodel.ReplicaId, counter uint64) *opmodel.Operation {
	op := &opmodel.Operation{Kind: opmodel.KindInsert}
	op.Meta.Id.Replica = replica
	op.Meta.Id.Counter = counter
	op.Meta.Lamport = counter
	op.Node = opmodel.NodeId{byte(counter)}
	op.Parent = opmodel.NodeId{}
	op.OrderKey = []byte{byte(counter)}
	return op
}

// toggleTreeContext resolves a single node's parent only once armed,
// standing in for ancestry that has not synced locally yet (spec.md §4.7:
// a row parked on "pending_context" must later resolve once more context
// arrives).
type toggleTreeContext struct {
	node     opmodel.NodeId
	parent   opmodel.NodeId
	resolved bool
}

func (tc *toggleTreeContext) Parent(_ context.Context, node opmodel.NodeId) (opmodel.NodeId, bool, error) {
	if node == (opmodel.NodeId{}) {
		return opmodel.NodeId{}, false, nil
	}
	if node == tc.node && tc.resolved {
		return tc.parent, true, nil
	}
	return opmodel.NodeId{}, false, scope.ErrAncestryUnavailable
}

func encodeCapValue(token []byte) string {
	return base64.RawURLEncoding.EncodeToString(token)
}

func TestReprocessPendingOpsAppliesOnceScopeResolves(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyPending(t)
	authorPub, authorSk := genKeyPending(t)

	docId := "doc-1"
	mem := backend.NewMemory()
	tc := &toggleTreeContext{node: opmodel.NodeId{0x42}, parent: opmodel.NodeId{0x41}}

	a := New(docId, []ed25519.PublicKey{issuerPub}, authorSk, nil, WithTreeContext(tc))

	var replica opmodel.ReplicaId
	copy(replica[:], authorPub)
	op := insertOp(replica, 1)
	op.Node = opmodel.NodeId{0x42}
	opBytes, err := opmodel.EncodeOp(op)
	require.NoError(t, err)
	sig, err := opmodel.Sign(docId, op, authorSk)
	require.NoError(t, err)
	var sigArr [64]byte
	copy(sigArr[:], sig)

	// A grant bounded two hops below {0x41} is known up front; only the
	// op's ancestry is not yet resolvable.
	token, err := captoken.IssueCapabilityToken(issuerSk, authorPub, docId,
		[]opmodel.Action{opmodel.ActionWriteStructure}, captoken.WithRoot(opmodel.NodeId{0x41}), captoken.WithMaxDepth(2))
	require.NoError(t, err)
	require.NoError(t, a.OnHello(ctx, syncmsg.Hello{
		Capabilities: []syncmsg.Capability{{Name: syncmsg.CapabilityToken, Value: encodeCapValue(token)}},
	}))

	ref := op.Ref(docId)
	require.NoError(t, mem.StorePendingOps(ctx, docId, []backend.PendingOp{{
		OpRef:   ref,
		OpBytes: opBytes,
		Sig:     sigArr,
	}}))

	stats, err := a.ReprocessPendingOps(ctx, mem)
	require.NoError(t, err)
	require.Equal(t, 0, stats.AppliedCount)
	require.Equal(t, 0, stats.DeletedInvalidCount)
	require.Equal(t, 1, stats.StillPendingCount)

	rows, err := mem.ListPendingOps(ctx, docId)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	tc.resolved = true

	stats, err = a.ReprocessPendingOps(ctx, mem)
	require.NoError(t, err)
	require.Equal(t, 1, stats.AppliedCount)
	require.Equal(t, 0, stats.DeletedInvalidCount)

	rows, err = mem.ListPendingOps(ctx, docId)
	require.NoError(t, err)
	require.Empty(t, rows)

	storedOp, found, err := mem.GetOp(ctx, docId, ref)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, op.Node, storedOp.Node)
}

func TestReprocessPendingOpsDeletesUndecodableRows(t *testing.T) {
	ctx := context.Background()
	issuerPub, _ := genKeyPending(t)
	_, authorSk := genKeyPending(t)
	docId := "doc-1"
	mem := backend.NewMemory()

	a := New(docId, []ed25519.PublicKey{issuerPub}, authorSk, nil, WithTreeContext(mem.TreeContextFor(docId)))

	require.NoError(t, mem.StorePendingOps(ctx, docId, []backend.PendingOp{{
		OpRef:   opmodel.OpRef{0xFF},
		OpBytes: []byte("not a valid cbor operation"),
	}}))

	stats, err := a.ReprocessPendingOps(ctx, mem)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeletedInvalidCount)
	require.Equal(t, 0, stats.AppliedCount)

	rows, err := mem.ListPendingOps(ctx, docId)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReprocessPendingOpsDeletesOutrightDeniedRows(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyPending(t)
	authorPub, authorSk := genKeyPending(t)
	docId := "doc-1"
	mem := backend.NewMemory()

	a := New(docId, []ed25519.PublicKey{issuerPub}, authorSk, nil, WithTreeContext(mem.TreeContextFor(docId)))

	var replica opmodel.ReplicaId
	copy(replica[:], authorPub)
	op := insertOp(replica, 1)
	opBytes, err := opmodel.EncodeOp(op)
	require.NoError(t, err)
	sig, err := opmodel.Sign(docId, op, authorSk)
	require.NoError(t, err)
	var sigArr [64]byte
	copy(sigArr[:], sig)

	require.NoError(t, mem.StorePendingOps(ctx, docId, []backend.PendingOp{{
		OpRef:   op.Ref(docId),
		OpBytes: opBytes,
		Sig:     sigArr,
	}}))

	// The only candidate grant explicitly excludes the op's node, so it
	// denies outright regardless of ancestry.
	token, err := captoken.IssueCapabilityToken(issuerSk, authorPub, docId,
		[]opmodel.Action{opmodel.ActionWriteStructure}, captoken.WithExclude(op.Node))
	require.NoError(t, err)
	require.NoError(t, a.OnHello(ctx, syncmsg.Hello{
		Capabilities: []syncmsg.Capability{{Name: syncmsg.CapabilityToken, Value: encodeCapValue(token)}},
	}))

	stats, err := a.ReprocessPendingOps(ctx, mem)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeletedInvalidCount)
	require.Equal(t, 0, stats.AppliedCount)

	rows, err := mem.ListPendingOps(ctx, docId)
	require.NoError(t, err)
	require.Empty(t, rows)
}
