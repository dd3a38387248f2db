package syncpeer

import (
	"context"
	"strings"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/syncauth"
	"github.com/treecrdt/authsync/syncmsg"
)

// sendOpsForRefs fetches, signs and streams the ops named by refs as one
// or more OpsBatch messages for filterId, chunked to MaxOpsPerBatch with
// the last chunk marked done=true. An empty refs still sends one empty,
// done batch (spec.md §4.6).
func (s *Session) sendOpsForRefs(ctx context.Context, filterId string, refs [][16]byte) error {
	opRefs := refsFromWire(refs)
	ops := make([]opmodel.Operation, 0, len(opRefs))
	for _, ref := range opRefs {
		op, ok, err := s.peer.Backend.GetOp(ctx, s.peer.DocId, ref)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ops = append(ops, op)
	}

	chunkSize := s.peer.opts.maxOpsPerBatch
	if chunkSize <= 0 {
		chunkSize = len(ops)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	if len(ops) == 0 {
		return s.tp.Send(ctx, syncmsg.NewOpsBatch(s.peer.DocId, syncmsg.OpsBatch{FilterId: filterId, Done: true}))
	}

	for start := 0; start < len(ops); start += chunkSize {
		end := start + chunkSize
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[start:end]

		var auths []backend.OpAuth
		if s.peer.Auth != nil {
			a, err := s.peer.Auth.SignOps(ctx, chunk)
			if err != nil {
				return err
			}
			auths = a
		}

		encoded := make([][]byte, len(chunk))
		for i, op := range chunk {
			b, err := opmodel.EncodeOp(&op)
			if err != nil {
				return err
			}
			encoded[i] = b
		}

		var wireAuth []syncmsg.OpAuth
		if auths != nil {
			wireAuth = make([]syncmsg.OpAuth, len(auths))
			for i, a := range auths {
				wireAuth[i] = syncmsg.OpAuth{Sig: a.Sig, ProofRef: a.ProofRef}
			}
		}

		batch := syncmsg.OpsBatch{
			FilterId: filterId,
			Ops:      encoded,
			Auth:     wireAuth,
			Done:     end == len(ops),
		}
		if err := s.tp.Send(ctx, syncmsg.NewOpsBatch(s.peer.DocId, batch)); err != nil {
			return err
		}
	}
	return nil
}

// handleOpsBatch is spec.md §4.6's generic inbound OpsBatch handling: it
// runs regardless of which role (initiator or responder) this session
// played in the filter's reconciliation. Allowed ops are applied; ops the
// scope evaluator cannot yet resolve are parked in the pending sidecar;
// denied ops are dropped and reported back as a batch-level UNAUTHORIZED
// Error (spec.md §7). If the batch is addressed to a live initiator
// session, it is also forwarded there so SyncOnce can observe completion.
func (s *Session) handleOpsBatch(ctx context.Context, batch syncmsg.OpsBatch) error {
	ops := make([]opmodel.Operation, len(batch.Ops))
	for i, raw := range batch.Ops {
		op, err := opmodel.DecodeOp(raw)
		if err != nil {
			return err
		}
		ops[i] = op
	}

	auths := make([]backend.OpAuth, len(ops))
	for i := range auths {
		if i < len(batch.Auth) {
			auths[i] = backend.OpAuth{Sig: batch.Auth[i].Sig, ProofRef: batch.Auth[i].ProofRef}
		}
	}

	var applied []opmodel.Operation
	var pending []backend.PendingOp
	var denied []string

	if s.peer.Auth != nil && len(ops) > 0 {
		dispositions, err := s.peer.Auth.VerifyOps(ctx, ops, auths)
		if err != nil {
			return err
		}
		for i, disp := range dispositions {
			if disp == nil {
				applied = append(applied, ops[i])
				continue
			}
			switch disp.Status {
			case syncauth.DispositionPendingContext:
				pending = append(pending, backend.PendingOp{
					OpRef:    ops[i].Ref(s.peer.DocId),
					OpBytes:  batch.Ops[i],
					Sig:      auths[i].Sig,
					ProofRef: auths[i].ProofRef,
					Reason:   disp.Status,
					Message:  disp.Message,
				})
			case syncauth.DispositionDenied:
				denied = append(denied, disp.Message)
			}
		}
	} else {
		applied = ops
	}

	if len(denied) > 0 {
		if err := s.tp.Send(ctx, syncmsg.NewError(s.peer.DocId, syncmsg.Error{
			Code:     syncmsg.ErrorCodeUnauthorized,
			Message:  strings.Join(denied, "; "),
			FilterId: batch.FilterId,
		})); err != nil {
			return err
		}
	}

	if len(applied) > 0 {
		if err := s.peer.Backend.ApplyOps(ctx, s.peer.DocId, applied); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		if err := s.peer.Backend.StorePendingOps(ctx, s.peer.DocId, pending); err != nil {
			return err
		}
	}
	if (len(applied) > 0 || len(pending) > 0) && s.peer.Auth != nil {
		if _, err := s.peer.Auth.ReprocessPendingOps(ctx, s.peer.Backend); err != nil {
			return err
		}
	}

	s.mu.Lock()
	sess, ok := s.initSess[batch.FilterId]
	s.mu.Unlock()
	if ok {
		select {
		case sess.opsBatchCh <- batch:
		default:
		}
	}
	return nil
}
