package syncauth

import (
	"context"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/opmodel"
)

const maxReprocessRounds = 100

// ReprocessStats summarizes one ReprocessPendingOps run.
type ReprocessStats struct {
	AppliedCount      int
	DeletedInvalidCount int
	StillPendingCount int
	Rounds            int
}

// ReprocessPendingOps retries every pending row for docId against the
// current capability/revocation state, applying what now verifies,
// discarding what decodes to garbage or is now outright denied, and
// leaving anything still pending_context for a later round (spec.md
// §4.7). A caller that arrives while another run is already in flight for
// this SyncAuth waits for it rather than running a second pass
// concurrently; both calls then return the same (merged) outcome of a
// single underlying run.
func (a *SyncAuth) ReprocessPendingOps(ctx context.Context, b backend.Backend) (ReprocessStats, error) {
	a.reprocessMu.Lock()
	defer a.reprocessMu.Unlock()

	var stats ReprocessStats
	for round := 0; ; round++ {
		if round >= maxReprocessRounds {
			return stats, ErrReprocessNotConverging
		}
		stats.Rounds = round + 1

		rows, err := b.ListPendingOps(ctx, a.docId)
		if err != nil {
			return stats, err
		}
		if len(rows) == 0 {
			stats.StillPendingCount = 0
			return stats, nil
		}

		progressed := false
		stillPending := 0
		for _, row := range rows {
			op, err := opmodel.DecodeOp(row.OpBytes)
			if err != nil {
				// Garbage that can never decode cleanly is not
				// retriable; drop it rather than spin on it forever.
				if derr := b.DeletePendingOps(ctx, a.docId, []opmodel.OpRef{row.OpRef}); derr != nil {
					return stats, derr
				}
				stats.DeletedInvalidCount++
				progressed = true
				continue
			}

			// op_ref must be derived from the decoded op, never trusted
			// from the stored row, so a row whose OpRef was tampered
			// with or mismatched on the way in cannot poison what we
			// delete or apply (spec.md §4.7).
			ref := op.Ref(a.docId)

			auth := backend.OpAuth{Sig: row.Sig, ProofRef: row.ProofRef}
			dispositions, verr := a.VerifyOps(ctx, []opmodel.Operation{op}, []backend.OpAuth{auth})
			if verr != nil || dispositions[0] != nil && dispositions[0].Status == DispositionDenied {
				if derr := b.DeletePendingOps(ctx, a.docId, []opmodel.OpRef{ref}); derr != nil {
					return stats, derr
				}
				stats.DeletedInvalidCount++
				progressed = true
				continue
			}
			if dispositions[0] != nil {
				stillPending++
				continue
			}

			if err := b.ApplyOps(ctx, a.docId, []opmodel.Operation{op}); err != nil {
				return stats, err
			}
			if err := b.DeletePendingOps(ctx, a.docId, []opmodel.OpRef{ref}); err != nil {
				return stats, err
			}
			stats.AppliedCount++
			progressed = true
		}

		stats.StillPendingCount = stillPending
		if !progressed {
			return stats, nil
		}
	}
}
