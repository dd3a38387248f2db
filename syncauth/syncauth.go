// Package syncauth implements the stateful, per-document authorization
// layer a sync session consults on every hop: recording peer-advertised
// capabilities, deciding whether a filter or an outgoing op is in scope,
// and signing or verifying the ops that cross the wire (spec.md §4.5).
package syncauth

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

func defaultClock() uint64 { return uint64(time.Now().Unix()) }

// recordedGrant is one peer-advertised capability token, kept both by its
// own id and indexed by the key id of the subject it is bound to so
// VerifyOps can find every candidate grant for an op's claimed author in
// one lookup.
type recordedGrant struct {
	grant    captoken.CapabilityGrant
	envelope []byte
}

// SyncAuth holds one document's authorization state: the issuer keys that
// root trust, this replica's own identity and tokens, every capability the
// peer has advertised over the current session, and the in-memory op-auth
// cache spec.md §4.7 describes. A single SyncAuth is owned by one
// document's sync session; concurrent hook calls are serialized by an
// internal mutex rather than requiring callers to coordinate (spec.md §4.5:
// "state mutations must be safe under concurrency").
type SyncAuth struct {
	mu sync.Mutex

	docId      string
	issuers    []ed25519.PublicKey
	replicaSk  ed25519.PrivateKey
	replicaPub ed25519.PublicKey

	localTokens [][]byte

	// grantsByKeyId and grantsByTokenId both index the same peer-advertised
	// grants; the first for VerifyOps' "candidates for this op's author"
	// lookup, the second for proof_ref-exact lookups.
	grantsByKeyId   map[[16]byte][]recordedGrant
	grantsByTokenId map[[16]byte]recordedGrant

	opAuthCache map[opmodel.OpRef]backend.OpAuth

	opts options

	// reprocessMu serializes ReprocessPendingOps: a caller that arrives
	// while another reprocess run is in flight waits for it rather than
	// running a second pass concurrently (spec.md §4.7).
	reprocessMu sync.Mutex
}

// New builds a SyncAuth for docId, trusting issuers, and signing locally
// authored ops with replicaSk. localTokens are this replica's own
// capability envelopes, advertised in HelloCapabilities and consulted by
// SignOps.
func New(docId string, issuers []ed25519.PublicKey, replicaSk ed25519.PrivateKey, localTokens [][]byte, opts ...Option) *SyncAuth {
	o := applyOptions(opts)
	if o.treeCtx == nil {
		// Without a backend-provided tree context, this replica can still
		// resolve the document root itself; any other node's ancestry is
		// unresolvable rather than a crash.
		o.treeCtx = rootOnlyTreeContext{}
	}
	return &SyncAuth{
		docId:           docId,
		issuers:         issuers,
		replicaSk:       replicaSk,
		replicaPub:      replicaSk.Public().(ed25519.PublicKey),
		localTokens:     localTokens,
		grantsByKeyId:   make(map[[16]byte][]recordedGrant),
		grantsByTokenId: make(map[[16]byte]recordedGrant),
		opAuthCache:     make(map[opmodel.OpRef]backend.OpAuth),
		opts:            o,
	}
}

// rootOnlyTreeContext is the fallback scope.TreeContext used when no
// backend-provided one is supplied: it can answer for the document root
// (no parent, per the TreeContext contract) but reports every other
// node's ancestry as unavailable rather than guessing.
type rootOnlyTreeContext struct{}

func (rootOnlyTreeContext) Parent(_ context.Context, node opmodel.NodeId) (opmodel.NodeId, bool, error) {
	if node == (opmodel.NodeId{}) {
		return opmodel.NodeId{}, false, nil
	}
	return opmodel.NodeId{}, false, scope.ErrAncestryUnavailable
}

// allPeerCaps flattens every currently-recorded peer grant's caps, for the
// doc-wide checks AuthorizeFilter and FilterOutgoingOps run. Callers must
// hold a.mu.
func (a *SyncAuth) allPeerCaps() []captoken.Cap {
	var caps []captoken.Cap
	for _, g := range a.grantsByTokenId {
		caps = append(caps, g.grant.Claims.Caps...)
	}
	return caps
}
