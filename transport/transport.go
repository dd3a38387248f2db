// Package transport defines the duplex message transport a sync session
// runs against (spec.md §4.6) and ships one in-process reference
// implementation for tests and same-process peers. The interface is
// grounded on the pack's own networking abstraction
// (luxfi-consensus/transport.Transport: NodeID/Connect/Send/Broadcast/
// Start/Stop), narrowed here to the single duplex typed-message channel a
// sync session actually needs — one Transport instance is always scoped to
// exactly one peer connection, so there is no Connect/Broadcast/peer-id
// routing surface to carry over.
package transport

import (
	"context"
	"errors"

	"github.com/treecrdt/authsync/syncmsg"
)

// ErrClosed is returned by Send or Recv once the transport has been
// closed, including when the remote side closes first.
var ErrClosed = errors.New("transport: closed")

// Transport is a single duplex connection to one peer, carrying
// syncmsg.Envelope values. A SyncPeer session runs its initiator and
// responder logic concurrently over the same Transport.
type Transport interface {
	// Send delivers env to the peer. It may block until the peer (or an
	// internal buffer) accepts it; ctx cancellation aborts the send.
	Send(ctx context.Context, env syncmsg.Envelope) error

	// Recv blocks until the next inbound Envelope arrives, ctx is
	// canceled, or the transport closes.
	Recv(ctx context.Context) (syncmsg.Envelope, error)

	// Close releases the transport. Recv on either end unblocks with
	// ErrClosed; Send returns ErrClosed.
	Close() error
}
