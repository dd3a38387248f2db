package syncauth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/keyid"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/revocation"
	"github.com/treecrdt/authsync/scope"
)

// Disposition is VerifyOps' per-op verdict when it cannot be cleanly
// resolved to an outright allow: "pending_context" means the scope
// evaluator returned Unknown and the op should be parked in the pending
// sidecar rather than applied or rejected; "denied" means every candidate
// grant rejected it outright, or no candidate exists at all (spec.md
// §4.5, §4.7).
type Disposition struct {
	Status  string
	Message string
}

const (
	DispositionPendingContext = "pending_context"
	DispositionDenied         = "denied"
)

func (a *SyncAuth) verifyOpts() []captoken.VerifyOption {
	var opts []captoken.VerifyOption
	if a.opts.revocationTable != nil {
		opts = append(opts, captoken.WithRevocationChecker(a.opts.revocationTable))
	}
	opts = append(opts, captoken.WithScopeTreeContext(a.opts.treeCtx))
	return opts
}

// SignOps returns, in order, the OpAuth for each op: freshly Ed25519-signed
// (against the best-fit local token) for ops this replica authored, or
// forwarded from the in-memory cache / persisted sidecar for ops authored
// by another replica (spec.md §4.5).
func (a *SyncAuth) SignOps(ctx context.Context, ops []opmodel.Operation) ([]backend.OpAuth, error) {
	a.mu.Lock()
	tc := a.opts.treeCtx
	localTokens := append([][]byte(nil), a.localTokens...)
	issuers := a.issuers
	docId := a.docId
	now := a.opts.now()
	replicaPub := a.replicaPub
	replicaSk := a.replicaSk
	opAuthStore := a.opts.opAuthStore
	verifyOpts := a.verifyOpts()
	a.mu.Unlock()

	var localGrants []captoken.CapabilityGrant
	for _, tok := range localTokens {
		g, err := captoken.ParseAndVerify(ctx, tok, issuers, docId, now, verifyOpts...)
		if err != nil {
			continue
		}
		localGrants = append(localGrants, g)
	}

	out := make([]backend.OpAuth, len(ops))
	for i := range ops {
		op := ops[i]
		ref := op.Ref(docId)

		if opmodel.ReplicaId(replicaPub) == op.Meta.Id.Replica {
			tokenId, err := bestFitToken(ctx, tc, localGrants, &op)
			if err != nil {
				return nil, err
			}
			sig, err := opmodel.Sign(docId, &op, replicaSk)
			if err != nil {
				return nil, err
			}
			var sigArr [64]byte
			copy(sigArr[:], sig)
			proofRef := tokenId
			auth := backend.OpAuth{Sig: sigArr, ProofRef: &proofRef, CreatedAtMs: time.Now().UnixMilli()}

			a.mu.Lock()
			a.opAuthCache[ref] = auth
			a.mu.Unlock()
			if opAuthStore != nil {
				if err := opAuthStore.PutOpAuth(ctx, docId, ref, auth); err != nil {
					return nil, err
				}
			}
			out[i] = auth
			continue
		}

		a.mu.Lock()
		cached, ok := a.opAuthCache[ref]
		a.mu.Unlock()
		if ok {
			out[i] = cached
			continue
		}
		if opAuthStore != nil {
			stored, found, err := opAuthStore.GetOpAuth(ctx, docId, ref)
			if err != nil {
				return nil, err
			}
			if found {
				a.mu.Lock()
				a.opAuthCache[ref] = stored
				a.mu.Unlock()
				out[i] = stored
				continue
			}
		}
		return nil, ErrCannotForwardUnsigned
	}
	return out, nil
}

// bestFitToken picks, among grants, the one that best authorizes op:
// an outright Allow wins immediately; absent that, the first grant
// returning Unknown is used (the op is still signed, so the receiver can
// decide once it has more context); absent both, every grant denies or
// none exist, and signing fails outright.
func bestFitToken(ctx context.Context, tc scope.TreeContext, grants []captoken.CapabilityGrant, op *opmodel.Operation) ([16]byte, error) {
	var fallback *[16]byte
	for _, g := range grants {
		decision, err := captoken.CapsAllowsOp(ctx, tc, g.Claims.Caps, op)
		if err != nil {
			return [16]byte{}, err
		}
		switch decision {
		case scope.Allow:
			return g.TokenId, nil
		case scope.Unknown:
			if fallback == nil {
				id := g.TokenId
				fallback = &id
			}
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return [16]byte{}, ErrNoAuthorizingToken
}

// VerifyOps checks each op against its matching auth and returns, for
// every op in order, either a nil entry (allowed outright and persisted)
// or a Disposition explaining why it was not (spec.md §4.5). The returned
// slice always has the same length as ops; a non-nil function error means
// the call itself was malformed (e.g. mismatched slice lengths), not that
// any particular op failed.
func (a *SyncAuth) VerifyOps(ctx context.Context, ops []opmodel.Operation, auths []backend.OpAuth) ([]*Disposition, error) {
	if len(ops) != len(auths) {
		return nil, fmt.Errorf("syncauth: %d ops but %d auth entries", len(ops), len(auths))
	}

	a.mu.Lock()
	tc := a.opts.treeCtx
	requireProofRef := a.opts.requireProofRef
	allowUnsigned := a.opts.allowUnsigned
	revTable := a.opts.revocationTable
	opAuthStore := a.opts.opAuthStore
	docId := a.docId
	now := a.opts.now()
	a.mu.Unlock()

	out := make([]*Disposition, len(ops))
	for i := range ops {
		op := ops[i]
		auth := auths[i]
		ref := op.Ref(docId)

		candidates, err := a.lookupCandidates(op.Meta.Id.Replica, auth.ProofRef, requireProofRef)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			if allowUnsigned && isZeroSig(auth.Sig) {
				out[i] = &Disposition{Status: DispositionPendingContext, Message: "no candidate grant for replica yet"}
				continue
			}
			out[i] = &Disposition{Status: DispositionDenied, Message: ErrOpDenied.Error()}
			continue
		}

		disp, selected, err := verifyAgainstCandidates(ctx, tc, revTable, docId, now, &op, auth, candidates)
		if err != nil {
			return nil, err
		}
		if disp != nil {
			out[i] = disp
			continue
		}

		persisted := backend.OpAuth{Sig: auth.Sig, ProofRef: &selected, CreatedAtMs: time.Now().UnixMilli()}
		a.mu.Lock()
		a.opAuthCache[ref] = persisted
		a.mu.Unlock()
		if opAuthStore != nil {
			if err := opAuthStore.PutOpAuth(ctx, docId, ref, persisted); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (a *SyncAuth) lookupCandidates(replica opmodel.ReplicaId, proofRef *[16]byte, requireProofRef bool) ([]captoken.CapabilityGrant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if requireProofRef {
		if proofRef == nil {
			return nil, ErrUnknownProofRef
		}
		rg, ok := a.grantsByTokenId[*proofRef]
		if !ok {
			return nil, ErrUnknownProofRef
		}
		return []captoken.CapabilityGrant{rg.grant}, nil
	}

	kid := keyid.KeyId(replica[:])
	list := a.grantsByKeyId[kid]
	out := make([]captoken.CapabilityGrant, len(list))
	for i, rg := range list {
		out[i] = rg.grant
	}
	return out, nil
}

// verifyAgainstCandidates iterates candidates (preferred first) and
// selects the first live, validity-windowed, correctly-bound grant that
// permits op. A candidate going Unknown short-circuits to a
// "pending_context" Disposition immediately; an exhausted candidate list
// (every candidate denied, expired, revoked, or mis-bound) yields a
// "denied" Disposition (spec.md §4.5: "deny fails the op").
func verifyAgainstCandidates(ctx context.Context, tc scope.TreeContext, revTable *revocation.Table, docId string, now uint64, op *opmodel.Operation, auth backend.OpAuth, candidates []captoken.CapabilityGrant) (*Disposition, [16]byte, error) {
	for _, grant := range candidates {
		if revTable != nil && revTable.IsRevoked(grant.TokenId, revocation.StageRuntime, &revocation.OpContext{
			Replica: op.Meta.Id.Replica,
			Counter: op.Meta.Id.Counter,
		}) {
			continue
		}
		if grant.Claims.Exp != nil && now >= *grant.Claims.Exp {
			continue
		}
		if grant.Claims.Nbf != nil && now < *grant.Claims.Nbf {
			continue
		}
		if opmodel.ReplicaId(grant.Claims.Cnf.Pub) != op.Meta.Id.Replica {
			continue
		}

		decision, err := captoken.CapsAllowsOp(ctx, tc, grant.Claims.Caps, op)
		if err != nil {
			return nil, [16]byte{}, err
		}
		switch decision {
		case scope.Allow:
			if err := opmodel.Verify(docId, op, ed25519.PublicKey(grant.Claims.Cnf.Pub[:]), auth.Sig[:]); err != nil {
				continue
			}
			return nil, grant.TokenId, nil
		case scope.Unknown:
			return &Disposition{Status: DispositionPendingContext, Message: "scope cannot yet be resolved"}, grant.TokenId, nil
		}
	}
	return &Disposition{Status: DispositionDenied, Message: ErrOpDenied.Error()}, [16]byte{}, nil
}

func isZeroSig(sig [64]byte) bool {
	for _, b := range sig {
		if b != 0 {
			return false
		}
	}
	return true
}
