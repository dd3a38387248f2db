package syncauth

import "errors"

var (
	// ErrUnauthorized is returned by OnHello/OnHelloAck when an advertised
	// capability token is revoked, and by AuthorizeFilter when the peer
	// holds no qualifying grant at all (spec.md §4.5).
	ErrUnauthorized = errors.New("syncauth: unauthorized")

	// ErrMissingSubtreeContext is AuthorizeFilter's answer when a
	// children(parent) filter's scope cannot yet be resolved: the caller
	// must decide whether to retry later.
	ErrMissingSubtreeContext = errors.New("syncauth: missing subtree context")

	// ErrUnknownProofRef is returned by VerifyOps when RequireProofRef is
	// set and an op's proof_ref does not match any recorded grant.
	ErrUnknownProofRef = errors.New("syncauth: proof_ref does not match a known token")

	// ErrCannotForwardUnsigned is returned by SignOps when asked to
	// forward an op this replica did not author and has no recorded or
	// persisted auth for.
	ErrCannotForwardUnsigned = errors.New("syncauth: cannot forward unsigned op")

	// ErrNoAuthorizingToken is returned by SignOps when none of the local
	// replica's tokens authorize an op it authored.
	ErrNoAuthorizingToken = errors.New("syncauth: no local token authorizes this operation")

	// ErrReplicaKeyMismatch is returned by VerifyOps when the grant's
	// confirmed public key does not match the op's claimed author.
	ErrReplicaKeyMismatch = errors.New("syncauth: grant public key does not match op replica")

	// ErrOpDenied is returned by VerifyOps when every candidate grant
	// denies the op.
	ErrOpDenied = errors.New("syncauth: operation denied by scope")

	// ErrReprocessNotConverging is returned by ReprocessPendingOps when the
	// pending set still has rows making progress at round 100: something is
	// cycling rather than draining (spec.md §4.7).
	ErrReprocessNotConverging = errors.New("syncauth: pending-ops reprocess did not converge")
)
