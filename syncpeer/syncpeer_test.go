package syncpeer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/syncmsg"
	"github.com/treecrdt/authsync/transport"
)

const testDocId = "doc-1"

func insertOp(replica opmodel.ReplicaId, counter uint64, node opmodel.NodeId) opmodel.Operation {
	var op opmodel.Operation
	op.Meta.Id = opmodel.OpId{Replica: replica, Counter: counter}
	op.Meta.Lamport = counter
	op.Kind = opmodel.KindInsert
	op.Parent = opmodel.NodeId{}
	op.Node = node
	op.OrderKey = []byte{byte(counter)}
	return op
}

func newPeerPair(t *testing.T) (a, b *Session, stop func()) {
	t.Helper()
	ba := backend.NewMemory()
	bb := backend.NewMemory()

	tpA, tpB := transport.NewPipe(16)

	peerA := NewPeer(testDocId, ba, nil)
	peerB := NewPeer(testDocId, bb, nil)

	sessA := NewSession(peerA, tpA)
	sessB := NewSession(peerB, tpB)

	ctx, cancel := context.WithCancel(context.Background())
	goErrA := make(chan error, 1)
	goErrB := make(chan error, 1)
	go func() { goErrA <- sessA.Run(ctx) }()
	go func() { goErrB <- sessB.Run(ctx) }()

	return sessA, sessB, func() {
		cancel()
		_ = tpA.Close()
		_ = tpB.Close()
	}
}

func TestSyncOnceReconcilesDisjointOpSets(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessA, sessB, stop := newPeerPair(t)
	defer stop()

	replicaA := opmodel.ReplicaId{0xAA}
	replicaB := opmodel.ReplicaId{0xBB}

	opA1 := insertOp(replicaA, 1, opmodel.NodeId{0x01})
	opA2 := insertOp(replicaA, 2, opmodel.NodeId{0x02})
	opB1 := insertOp(replicaB, 1, opmodel.NodeId{0x03})

	require.NoError(t, sessA.peer.Backend.ApplyOps(ctx, testDocId, []opmodel.Operation{opA1, opA2}))
	require.NoError(t, sessB.peer.Backend.ApplyOps(ctx, testDocId, []opmodel.Operation{opB1}))

	require.NoError(t, sessA.SyncOnce(ctx, syncmsg.AllFilter()))

	refsA, err := sessA.peer.Backend.ListOpRefs(ctx, testDocId)
	require.NoError(t, err)
	refsB, err := sessB.peer.Backend.ListOpRefs(ctx, testDocId)
	require.NoError(t, err)

	require.Len(t, refsA, 3)
	require.Len(t, refsB, 3)
}

func TestSyncOnceNoOpWhenAlreadyConverged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessA, sessB, stop := newPeerPair(t)
	defer stop()

	replicaA := opmodel.ReplicaId{0xCC}
	op := insertOp(replicaA, 1, opmodel.NodeId{0x10})
	require.NoError(t, sessA.peer.Backend.ApplyOps(ctx, testDocId, []opmodel.Operation{op}))
	require.NoError(t, sessB.peer.Backend.ApplyOps(ctx, testDocId, []opmodel.Operation{op}))

	require.NoError(t, sessA.SyncOnce(ctx, syncmsg.AllFilter()))

	refsA, err := sessA.peer.Backend.ListOpRefs(ctx, testDocId)
	require.NoError(t, err)
	require.Len(t, refsA, 1)
}

func TestSubscribePushesNewOpsToSubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessA, sessB, stop := newPeerPair(t)
	defer stop()

	unsub, err := sessA.Subscribe(ctx, nil, 0)
	require.NoError(t, err)
	defer unsub()

	replicaB := opmodel.ReplicaId{0xDD}
	op := insertOp(replicaB, 1, opmodel.NodeId{0x20})
	require.NoError(t, sessB.peer.Backend.ApplyOps(ctx, testDocId, []opmodel.Operation{op}))
	require.NoError(t, sessB.NotifyLocalUpdate(ctx))

	require.Eventually(t, func() bool {
		refs, err := sessA.peer.Backend.ListOpRefs(ctx, testDocId)
		return err == nil && len(refs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHelloRejectsFiltersBeyondMaxHelloFilters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ba := backend.NewMemory()
	tpA, tpB := transport.NewPipe(16)
	defer tpA.Close()
	defer tpB.Close()

	peerA := NewPeer(testDocId, ba, nil, WithMaxHelloFilters(1))
	sessA := NewSession(peerA, tpA)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go sessA.Run(runCtx)

	hello := syncmsg.Hello{Filters: []syncmsg.NamedFilter{
		{Id: "f1", Filter: syncmsg.AllFilter()},
		{Id: "f2", Filter: syncmsg.AllFilter()},
	}}
	require.NoError(t, tpB.Send(ctx, syncmsg.NewHello(testDocId, hello)))

	env, err := tpB.Recv(ctx)
	require.NoError(t, err)
	ack, err := env.AsHelloAck()
	require.NoError(t, err)
	require.Empty(t, ack.AcceptedFilters)
	require.Len(t, ack.RejectedFilters, 2)
	for _, rf := range ack.RejectedFilters {
		require.Equal(t, "TOO_MANY_FILTERS", rf.Reason)
	}
}
