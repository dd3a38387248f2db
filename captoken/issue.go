package captoken

import (
	"crypto/ed25519"
	"fmt"

	"github.com/treecrdt/authsync/cose"
	"github.com/treecrdt/authsync/keyid"
	"github.com/treecrdt/authsync/opmodel"
)

// IssueOption configures an issued capability token's resource scope and
// validity window.
type IssueOption func(*issueOptions)

type issueOptions struct {
	root     opmodel.NodeId
	maxDepth *uint32
	exclude  []opmodel.NodeId
	exp      *uint64
	nbf      *uint64
}

// WithRoot scopes the issued cap to root instead of the document root.
func WithRoot(root opmodel.NodeId) IssueOption {
	return func(o *issueOptions) { o.root = root }
}

// WithMaxDepth bounds the scope to at most depth hops from root.
func WithMaxDepth(depth uint32) IssueOption {
	return func(o *issueOptions) { o.maxDepth = &depth }
}

// WithExclude carves nodeIds out of the scope.
func WithExclude(nodeIds ...opmodel.NodeId) IssueOption {
	return func(o *issueOptions) { o.exclude = append(o.exclude, nodeIds...) }
}

// WithExpiry sets the exp claim (unix seconds).
func WithExpiry(unixSec uint64) IssueOption {
	return func(o *issueOptions) { o.exp = &unixSec }
}

// WithNotBefore sets the nbf claim (unix seconds).
func WithNotBefore(unixSec uint64) IssueOption {
	return func(o *issueOptions) { o.nbf = &unixSec }
}

func applyIssueOptions(opts []IssueOption) issueOptions {
	o := issueOptions{root: RootNodeId}
	for _, f := range opts {
		f(&o)
	}
	return o
}

// IssueCapabilityToken signs a new, non-delegated capability token binding
// subjectPk to actions over docId (scoped per opts), under issuerSk
// (spec.md §4.2).
func IssueCapabilityToken(issuerSk ed25519.PrivateKey, subjectPk ed25519.PublicKey, docId string, actions []opmodel.Action, opts ...IssueOption) ([]byte, error) {
	if len(actions) == 0 {
		return nil, ErrEmptyActions
	}
	o := applyIssueOptions(opts)

	claims := Claims{
		Aud: docId,
		Cnf: cnfFor(subjectPk),
		Caps: []Cap{{
			Res: Resource{
				DocId:    docId,
				Root:     o.root,
				MaxDepth: o.maxDepth,
				Exclude:  o.exclude,
			},
			Actions: actions,
		}},
		Exp: o.exp,
		Nbf: o.nbf,
	}

	payload, err := cose.MarshalClaims(claims)
	if err != nil {
		return nil, fmt.Errorf("captoken: marshaling claims: %w", err)
	}
	envelope, err := cose.Sign(payload, issuerSk, nil)
	if err != nil {
		return nil, fmt.Errorf("captoken: signing: %w", err)
	}
	return envelope, nil
}

// IssueDelegatedCapabilityToken signs a new capability token whose
// authority derives from proofToken rather than from delegatorSk being a
// recognized issuer: proofToken is embedded in the envelope's unprotected
// header so a verifier without delegatorSk's key can still recurse to an
// issuer it does recognize (spec.md §4.2 step 4).
func IssueDelegatedCapabilityToken(delegatorSk ed25519.PrivateKey, proofToken []byte, subjectPk ed25519.PublicKey, docId string, actions []opmodel.Action, opts ...IssueOption) ([]byte, error) {
	if len(actions) == 0 {
		return nil, ErrEmptyActions
	}
	o := applyIssueOptions(opts)

	claims := Claims{
		Aud: docId,
		Cnf: cnfFor(subjectPk),
		Caps: []Cap{{
			Res: Resource{
				DocId:    docId,
				Root:     o.root,
				MaxDepth: o.maxDepth,
				Exclude:  o.exclude,
			},
			Actions: actions,
		}},
		Exp: o.exp,
		Nbf: o.nbf,
	}

	payload, err := cose.MarshalClaims(claims)
	if err != nil {
		return nil, fmt.Errorf("captoken: marshaling claims: %w", err)
	}
	envelope, err := cose.Sign(payload, delegatorSk, proofToken)
	if err != nil {
		return nil, fmt.Errorf("captoken: signing delegated token: %w", err)
	}
	return envelope, nil
}

func cnfFor(pub ed25519.PublicKey) Cnf {
	var c Cnf
	copy(c.Pub[:], pub)
	c.Kid = keyid.KeyId(pub)
	return c
}
