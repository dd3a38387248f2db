// Package backend defines the storage contract authsync consumes but does
// not implement the real semantics of: the CRDT's own op log and tree
// index, the pending-ops sidecar, and the op-auth sidecar (spec.md §1,
// §4.7). It also ships an in-memory reference implementation so the rest
// of the module can be exercised without a real document store.
package backend

import (
	"context"
	"errors"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

// ErrOpNotFound is returned when a requested op is not present in a
// Backend's log.
var ErrOpNotFound = errors.New("backend: operation not found")

// PendingOp is one row of the pending-ops sidecar: an op that could not yet
// be authorized, kept around so it can be retried once more context
// arrives (spec.md §4.7).
type PendingOp struct {
	OpRef       opmodel.OpRef
	OpBytes     []byte
	Sig         [64]byte
	ProofRef    *[16]byte
	Reason      string
	Message     string
	CreatedAtMs int64
}

// OpAuth is one row of the op-auth sidecar: the signature and proof
// reference authsync persists once an op has been signed or verified, so
// it can later be re-forwarded without re-deriving its authorization
// (spec.md §4.7).
type OpAuth struct {
	Sig         [64]byte
	ProofRef    *[16]byte
	CreatedAtMs int64
}

// Backend is the external storage contract spec.md §1 places out of
// scope: it is implemented by the embedding application (typically atop
// the same store that holds the CRDT's own tree index), and consumed here
// only through this interface.
type Backend interface {
	// ListOpRefs returns every OpRef currently known for docId.
	ListOpRefs(ctx context.Context, docId string) ([]opmodel.OpRef, error)
	// GetOp returns the operation identified by ref, if known.
	GetOp(ctx context.Context, docId string, ref opmodel.OpRef) (opmodel.Operation, bool, error)
	// ApplyOps durably applies ops to docId's tree. Already-applied ops
	// (by OpRef) are idempotently ignored.
	ApplyOps(ctx context.Context, docId string, ops []opmodel.Operation) error
	// MaxLamport returns the highest Lamport timestamp applied to docId,
	// or 0 if the document has no ops yet.
	MaxLamport(ctx context.Context, docId string) (uint64, error)

	// ListPendingOps returns pending rows for docId in insertion order.
	ListPendingOps(ctx context.Context, docId string) ([]PendingOp, error)
	// ListPendingOpRefs returns only the OpRefs of docId's pending rows.
	ListPendingOpRefs(ctx context.Context, docId string) ([]opmodel.OpRef, error)
	// StorePendingOps idempotently upserts rows (OR REPLACE by OpRef).
	StorePendingOps(ctx context.Context, docId string, rows []PendingOp) error
	// DeletePendingOps removes rows by OpRef; missing refs are ignored.
	DeletePendingOps(ctx context.Context, docId string, refs []opmodel.OpRef) error

	// GetOpAuth looks up the persisted auth sidecar row for (docId, ref).
	GetOpAuth(ctx context.Context, docId string, ref opmodel.OpRef) (OpAuth, bool, error)
	// PutOpAuth persists auth for (docId, ref). Entries are write-once in
	// practice (spec.md §3); callers overwrite only to correct a bug.
	PutOpAuth(ctx context.Context, docId string, ref opmodel.OpRef, auth OpAuth) error

	// TreeContextFor returns the scope.TreeContext that walks docId's
	// applied-op parent links, for use by the scope evaluator.
	TreeContextFor(docId string) scope.TreeContext
}
