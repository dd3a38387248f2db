// Package syncpeer runs the sync session protocol (spec.md §4.6) over a
// transport.Transport: reconciling operation sets with RIBLT, exchanging
// signed op batches, and serving push subscriptions, all gated by a
// syncauth.SyncAuth. A Peer is constructed once per document; a Session
// binds it to one Transport connection and owns that connection's
// in-flight filter and subscription state.
package syncpeer

import (
	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/syncauth"
)

// Peer is one document's sync endpoint: the backend it reconciles
// against, the authorization layer gating every hop, and the session
// protocol's tunable limits.
type Peer struct {
	DocId   string
	Backend backend.Backend
	Auth    *syncauth.SyncAuth

	opts options
}

// NewPeer builds a Peer for docId, backed by b and gated by auth.
func NewPeer(docId string, b backend.Backend, auth *syncauth.SyncAuth, opts ...Option) *Peer {
	return &Peer{
		DocId:   docId,
		Backend: b,
		Auth:    auth,
		opts:    applyOptions(opts),
	}
}
