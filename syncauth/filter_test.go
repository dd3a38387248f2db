package syncauth

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/syncmsg"
)

func genKeyFilter(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, sk
}

func opAt(parent, node opmodel.NodeId) opmodel.Operation {
	return opmodel.Operation{Kind: opmodel.KindInsert, Parent: parent, Node: node, OrderKey: []byte("a")}
}

// recordPeerToken issues a single-cap token from issuerSk, scoped per opts,
// and records it on a as an advertised peer capability, the way a real
// session's Hello handling would.
func recordPeerToken(t *testing.T, ctx context.Context, a *SyncAuth, issuerSk ed25519.PrivateKey, subjectPub ed25519.PublicKey, docId string, actions []opmodel.Action, opts ...captoken.IssueOption) {
	t.Helper()
	token, err := captoken.IssueCapabilityToken(issuerSk, subjectPub, docId, actions, opts...)
	require.NoError(t, err)
	require.NoError(t, a.OnHello(ctx, syncmsg.Hello{
		Capabilities: []syncmsg.Capability{{Name: syncmsg.CapabilityToken, Value: encodeCapValue(token)}},
	}))
}

func TestAuthorizeFilterAllRequiresGenuinelyDocWideGrant(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil)

	// Rooted at the document root but depth-bounded: this is NOT doc-wide,
	// even though scope.Evaluate would short-circuit Allow if queried
	// against the root node itself.
	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure},
		captoken.WithRoot(opmodel.NodeId{}), captoken.WithMaxDepth(1))

	err := a.AuthorizeFilter(ctx, syncmsg.AllFilter())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizeFilterAllAllowsGenuinelyDocWideGrant(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil)

	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure})

	require.NoError(t, a.AuthorizeFilter(ctx, syncmsg.AllFilter()))
}

func TestAuthorizeFilterChildrenUsesNodeScopedGrant(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"
	parent := opmodel.NodeId{0x7}

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil)
	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure},
		captoken.WithRoot(parent), captoken.WithMaxDepth(1))

	require.NoError(t, a.AuthorizeFilter(ctx, syncmsg.ChildrenFilter(parent)))

	// A node with no recorded ancestry at all is Unknown, not Denied: the
	// caller is expected to retry once more tree context has synced.
	other := opmodel.NodeId{0x9}
	err := a.AuthorizeFilter(ctx, syncmsg.ChildrenFilter(other))
	require.ErrorIs(t, err, ErrMissingSubtreeContext)
}

func TestAuthorizeFilterChildrenDeniesExcludedParent(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"
	parent := opmodel.NodeId{0x7}

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil)
	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure},
		captoken.WithExclude(parent))

	err := a.AuthorizeFilter(ctx, syncmsg.ChildrenFilter(parent))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestFilterOutgoingOpsBlanketPassesEveryOpWhenGrantIsDocWide(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil)
	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure})

	ops := []opmodel.Operation{
		opAt(opmodel.NodeId{}, opmodel.NodeId{0x1}),
		opAt(opmodel.NodeId{}, opmodel.NodeId{0xAB}),
	}
	mask, err := a.FilterOutgoingOps(ctx, ops)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, mask)
}

func TestFilterOutgoingOpsDeniesNodesOutsideADepthBoundedGrant(t *testing.T) {
	ctx := context.Background()
	issuerPub, issuerSk := genKeyFilter(t)
	subjectPub, subjectSk := genKeyFilter(t)
	docId := "doc-1"
	parent := opmodel.NodeId{0x7}
	child := opmodel.NodeId{0x8}
	unrelated := opmodel.NodeId{0x9}

	mem := backend.NewMemory()
	require.NoError(t, mem.ApplyOps(ctx, docId, []opmodel.Operation{
		opAt(opmodel.NodeId{}, parent),
		opAt(parent, child),
		opAt(opmodel.NodeId{}, unrelated),
	}))

	a := New(docId, []ed25519.PublicKey{issuerPub}, subjectSk, nil, WithTreeContext(mem.TreeContextFor(docId)))
	// Root-rooted at parent, depth 1: covers parent and child but not
	// unrelated, which hangs directly off the document root instead.
	recordPeerToken(t, ctx, a, issuerSk, subjectPub, docId,
		[]opmodel.Action{opmodel.ActionReadStructure},
		captoken.WithRoot(parent), captoken.WithMaxDepth(1))

	mask, err := a.FilterOutgoingOps(ctx, []opmodel.Operation{opAt(opmodel.NodeId{}, parent), opAt(parent, child), opAt(opmodel.NodeId{}, unrelated)})
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, false}, mask)
}
