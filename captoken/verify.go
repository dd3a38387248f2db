package captoken

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/treecrdt/authsync/cose"
	"github.com/treecrdt/authsync/keyid"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/revocation"
	"github.com/treecrdt/authsync/scope"
)

// MaxChainDepth bounds how many delegation hops ParseAndVerify will follow
// before giving up (spec.md §4.2 step 1).
const MaxChainDepth = 8

// CapabilityGrant is the result of successfully parsing and verifying a
// capability token: its derived id, its raw envelope (needed by callers
// that re-advertise or tie-break on it), and its decoded claims.
type CapabilityGrant struct {
	TokenId  [16]byte
	Envelope []byte
	Claims   Claims
}

// RevocationChecker is the subset of *revocation.Table that ParseAndVerify
// needs. Satisfied directly by *revocation.Table.
type RevocationChecker interface {
	IsRevoked(tokenId [16]byte, stage revocation.Stage, op *revocation.OpContext) bool
}

// VerifyOption configures ParseAndVerify.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	revocation RevocationChecker
	treeCtx    scope.TreeContext
}

// WithRevocationChecker supplies the revocation table ParseAndVerify
// queries at stage="parse" for every token id in the chain.
func WithRevocationChecker(r RevocationChecker) VerifyOption {
	return func(o *verifyOptions) { o.revocation = r }
}

// WithScopeTreeContext supplies the tree context used to decide whether a
// delegated cap's root lies inside its proof cap's root when the two roots
// are not identical.
func WithScopeTreeContext(tc scope.TreeContext) VerifyOption {
	return func(o *verifyOptions) { o.treeCtx = tc }
}

func applyVerifyOptions(opts []VerifyOption) verifyOptions {
	var o verifyOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}

// ParseAndVerify decodes tokenBytes, verifies it against issuers (directly,
// or by recursing through its delegation chain), and checks audience,
// validity window, and revocation. It implements spec.md §4.2 steps 1-5.
func ParseAndVerify(ctx context.Context, tokenBytes []byte, issuers []ed25519.PublicKey, docId string, now uint64, opts ...VerifyOption) (CapabilityGrant, error) {
	o := applyVerifyOptions(opts)
	return parseAndVerify(ctx, tokenBytes, issuers, docId, now, o, map[[16]byte]bool{}, 0)
}

func parseAndVerify(ctx context.Context, tokenBytes []byte, issuers []ed25519.PublicKey, docId string, now uint64, o verifyOptions, seen map[[16]byte]bool, depth int) (CapabilityGrant, error) {
	if depth >= MaxChainDepth {
		return CapabilityGrant{}, ErrChainTooDeep
	}

	tokenId := keyid.TokenId(tokenBytes)
	if seen[tokenId] {
		return CapabilityGrant{}, ErrChainCycle
	}
	seen[tokenId] = true

	if o.revocation != nil && o.revocation.IsRevoked(tokenId, revocation.StageParse, nil) {
		return CapabilityGrant{}, ErrRevoked
	}

	msg, err := cose.Parse(tokenBytes)
	if err != nil {
		return CapabilityGrant{}, fmt.Errorf("captoken: decoding envelope: %w", err)
	}

	for _, pub := range issuers {
		if verifyErr := msg.Verify(pub); verifyErr == nil {
			claims, decodeErr := decodeAndCheckClaims(msg, docId, now)
			if decodeErr != nil {
				return CapabilityGrant{}, decodeErr
			}
			return CapabilityGrant{TokenId: tokenId, Envelope: tokenBytes, Claims: claims}, nil
		}
	}

	proofBytes, hasProof, proofErr := msg.DelegationProof()
	if proofErr != nil {
		return CapabilityGrant{}, fmt.Errorf("captoken: %w", proofErr)
	}
	if !hasProof {
		return CapabilityGrant{}, ErrUnknownIssuer
	}

	proofGrant, err := parseAndVerify(ctx, proofBytes, issuers, docId, now, o, seen, depth+1)
	if err != nil {
		return CapabilityGrant{}, err
	}

	if err := msg.Verify(proofGrant.Claims.Cnf.Pub[:]); err != nil {
		return CapabilityGrant{}, fmt.Errorf("%w: delegated token is not signed by its proof's subject key", ErrUnknownIssuer)
	}

	claims, err := decodeAndCheckClaims(msg, docId, now)
	if err != nil {
		return CapabilityGrant{}, err
	}

	for _, cap := range claims.Caps {
		if err := capCoveredByProof(ctx, o.treeCtx, cap, proofGrant.Claims, claims); err != nil {
			return CapabilityGrant{}, err
		}
	}

	return CapabilityGrant{TokenId: tokenId, Envelope: tokenBytes, Claims: claims}, nil
}

func decodeAndCheckClaims(msg *cose.Message, docId string, now uint64) (Claims, error) {
	var claims Claims
	if err := cose.UnmarshalClaims(msg.Payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("captoken: decoding claims: %w", err)
	}
	if claims.Aud != docId {
		return Claims{}, ErrAudienceMismatch
	}
	if len(claims.Caps) == 0 {
		return Claims{}, ErrEmptyCaps
	}
	for _, cap := range claims.Caps {
		if cap.Res.DocId != docId {
			return Claims{}, ErrAudienceMismatch
		}
		if len(cap.Actions) == 0 {
			return Claims{}, ErrEmptyActions
		}
	}
	if claims.Exp != nil && now >= *claims.Exp {
		return Claims{}, ErrExpired
	}
	if claims.Nbf != nil && now < *claims.Nbf {
		return Claims{}, ErrNotYetValid
	}
	if keyid.KeyId(claims.Cnf.Pub[:]) != claims.Cnf.Kid {
		return Claims{}, ErrKidMismatch
	}
	return claims, nil
}

// capCoveredByProof checks that cap (one of the delegated token's caps) is
// authorized by some cap of proofClaims, and that the delegated token's own
// validity window is no wider than proofClaims' (spec.md §4.2 step 5).
func capCoveredByProof(ctx context.Context, tc scope.TreeContext, cap Cap, proofClaims, delegatedClaims Claims) error {
	if !windowWithin(delegatedClaims.Exp, proofClaims.Exp, false) {
		return fmt.Errorf("%w: exp wider than proof", ErrDelegationExceedsProof)
	}
	if !windowWithin(delegatedClaims.Nbf, proofClaims.Nbf, true) {
		return fmt.Errorf("%w: nbf wider than proof", ErrDelegationExceedsProof)
	}

	var lastErr error = ErrDelegationExceedsProof
	for _, proofCap := range proofClaims.Caps {
		if err := capCoveredBySingle(ctx, tc, cap, proofCap); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// windowWithin reports whether candidate is no wider than bound. For exp
// (higherIsNarrower=false) candidate must be <= bound when bound is set.
// For nbf (higherIsNarrower=true) candidate must be >= bound when bound is
// set. A nil bound imposes no constraint; a nil candidate against a
// non-nil bound is a violation (missing bound where the proof has one).
func windowWithin(candidate, bound *uint64, laterIsNarrower bool) bool {
	if bound == nil {
		return true
	}
	if candidate == nil {
		return false
	}
	if laterIsNarrower {
		return *candidate >= *bound
	}
	return *candidate <= *bound
}

func capCoveredBySingle(ctx context.Context, tc scope.TreeContext, cap, proofCap Cap) error {
	if cap.Res.DocId != proofCap.Res.DocId {
		return ErrDelegationExceedsProof
	}

	required := append(opmodel.ExpandActions(cap.Actions), opmodel.ActionGrant)
	if !opmodel.HasAllActions(proofCap.Actions, required) {
		return fmt.Errorf("%w: proof lacks grant or a delegated action", ErrDelegationExceedsProof)
	}

	if err := scopeWithinProof(ctx, tc, cap.Res, proofCap.Res); err != nil {
		return err
	}
	return nil
}

func scopeWithinProof(ctx context.Context, tc scope.TreeContext, res, proofRes Resource) error {
	if res.Root != proofRes.Root {
		if tc == nil {
			return fmt.Errorf("%w: scope root differs from proof and no tree context was supplied", ErrDelegationExceedsProof)
		}
		proofScope := scope.Scope{Root: proofRes.Root, MaxDepth: proofRes.MaxDepth, Exclude: proofRes.Exclude}
		decision, err := scope.Evaluate(ctx, tc, res.Root, proofScope)
		if err != nil {
			return fmt.Errorf("captoken: evaluating delegation scope: %w", err)
		}
		if decision != scope.Allow {
			return fmt.Errorf("%w: scope root is not within proof scope", ErrDelegationExceedsProof)
		}
	}

	if proofRes.MaxDepth != nil {
		if res.MaxDepth == nil || *res.MaxDepth > *proofRes.MaxDepth {
			return fmt.Errorf("%w: max_depth exceeds proof", ErrDelegationExceedsProof)
		}
	}

	for _, ex := range proofRes.Exclude {
		if !containsNode(res.Exclude, ex) {
			return fmt.Errorf("%w: delegated scope does not preserve proof exclusion", ErrDelegationExceedsProof)
		}
	}
	return nil
}

func containsNode(list []opmodel.NodeId, n opmodel.NodeId) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}
