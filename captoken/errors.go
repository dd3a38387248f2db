package captoken

import "errors"

var (
	// ErrEmptyActions is returned when a requested cap has no actions.
	ErrEmptyActions = errors.New("captoken: a capability must grant at least one action")
	// ErrEmptyCaps is returned when a token's claim set has no caps.
	ErrEmptyCaps = errors.New("captoken: capability token must grant at least one cap")
	// ErrKidMismatch is returned when cnf.kid does not match key_id(cnf.pub).
	ErrKidMismatch = errors.New("captoken: cnf.kid does not match the derived key id of cnf.pub")
	// ErrAudienceMismatch is returned when aud (or a cap's doc_id) does not
	// match the document being verified against.
	ErrAudienceMismatch = errors.New("captoken: audience does not match document")
	// ErrExpired is returned when now is at or after exp.
	ErrExpired = errors.New("captoken: token has expired")
	// ErrNotYetValid is returned when now is before nbf.
	ErrNotYetValid = errors.New("captoken: token is not yet valid")
	// ErrRevoked is returned when the token id is revoked.
	ErrRevoked = errors.New("captoken: capability token revoked")
	// ErrUnknownIssuer is returned when no issuer key verifies the
	// envelope and it carries no delegation proof.
	ErrUnknownIssuer = errors.New("captoken: no issuer key verifies this token")
	// ErrChainCycle is returned when a delegation chain revisits a token id.
	ErrChainCycle = errors.New("captoken: delegation chain contains a cycle")
	// ErrChainTooDeep is returned when a delegation chain exceeds the
	// maximum depth.
	ErrChainTooDeep = errors.New("captoken: delegation chain exceeds maximum depth")
	// ErrMissingProof is returned when an unverifiable token carries no
	// (or more than one) delegation proof.
	ErrMissingProof = errors.New("captoken: delegated token must carry exactly one delegation proof")
	// ErrProofMissingGrant is returned when a delegation proof lacks the
	// grant action.
	ErrProofMissingGrant = errors.New("captoken: delegation proof must hold the grant action")
	// ErrDelegationExceedsProof is returned when a delegated cap asks for
	// more than its proof covers, in actions, scope, or time.
	ErrDelegationExceedsProof = errors.New("captoken: delegated capability exceeds its proof")
	// ErrMalformedResource is returned when a resource's node ids are the
	// wrong size or a cap's doc_id disagrees with the token's audience.
	ErrMalformedResource = errors.New("captoken: malformed resource scope")
	// ErrNoCaps is returned by describe when the verified grant has no caps.
	ErrNoCaps = errors.New("captoken: token grants no capabilities")
)
