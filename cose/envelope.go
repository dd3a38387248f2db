// Package cose wraps github.com/veraison/go-cose with the one profile
// authsync needs: COSE_Sign1 over Ed25519 (COSE algorithm EdDSA, registered
// value -8), with a single private-use unprotected header slot carrying a
// delegation proof envelope. It mirrors the ergonomics of the teacher's
// massifs/cose package (a thin struct embedding *cose.Sign1Message) without
// carrying over its CWT/receipts-specific header helpers, which belong to a
// different domain.
package cose

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/treecrdt/authsync/cborcodec"
	gocose "github.com/veraison/go-cose"
)

// DelegationProofLabel is the unprotected-header key under which a
// delegated capability token carries the COSE_Sign1 envelope of the proof
// it was delegated from (spec.md §4).
const DelegationProofLabel = "treecrdt.delegation_proof_v1"

// ErrNoDelegationProof is returned when a delegated token's unprotected
// header lacks the delegation proof entry.
var ErrNoDelegationProof = errors.New("cose: missing delegation proof in unprotected header")

// ErrMalformedDelegationProof is returned when the delegation proof header
// entry is present but not a bstr or single-element bstr array.
var ErrMalformedDelegationProof = errors.New("cose: delegation proof header entry must be a bstr or one-element bstr array")

// Message is a COSE_Sign1 envelope restricted to the EdDSA profile.
type Message struct {
	*gocose.Sign1Message
}

// Sign builds and signs a new COSE_Sign1 message over payload with sk. If
// delegationProof is non-nil, it is embedded as a one-element bstr array in
// the unprotected header under DelegationProofLabel (spec.md §4.4: "a
// single-element bstr array in the unprotected header").
func Sign(payload []byte, sk ed25519.PrivateKey, delegationProof []byte) ([]byte, error) {
	signer, err := gocose.NewSigner(gocose.AlgorithmEdDSA, sk)
	if err != nil {
		return nil, fmt.Errorf("cose: building signer: %w", err)
	}

	unprotected := gocose.UnprotectedHeader{}
	if delegationProof != nil {
		unprotected[DelegationProofLabel] = [][]byte{delegationProof}
	}

	msg := gocose.Sign1Message{
		Headers: gocose.Headers{
			Protected: gocose.ProtectedHeader{
				gocose.HeaderLabelAlgorithm: gocose.AlgorithmEdDSA,
			},
			Unprotected: unprotected,
		},
		Payload: payload,
	}

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("cose: signing: %w", err)
	}

	data, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("cose: marshaling: %w", err)
	}
	return data, nil
}

// Parse decodes a COSE_Sign1 envelope without verifying it.
func Parse(data []byte) (*Message, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("cose: decoding envelope: %w", err)
	}
	return &Message{Sign1Message: &msg}, nil
}

// Verify checks the envelope's signature under pub.
func (m *Message) Verify(pub ed25519.PublicKey) error {
	verifier, err := gocose.NewVerifier(gocose.AlgorithmEdDSA, pub)
	if err != nil {
		return fmt.Errorf("cose: building verifier: %w", err)
	}
	if err := m.Sign1Message.Verify(nil, verifier); err != nil {
		return fmt.Errorf("cose: verification failed: %w", err)
	}
	return nil
}

// DelegationProof extracts the single delegation proof envelope from the
// unprotected header, if present.
func (m *Message) DelegationProof() ([]byte, bool, error) {
	raw, ok := m.Headers.Unprotected[DelegationProofLabel]
	if !ok {
		return nil, false, nil
	}
	switch v := raw.(type) {
	case []byte:
		return v, true, nil
	case [][]byte:
		if len(v) != 1 {
			return nil, false, ErrMalformedDelegationProof
		}
		return v[0], true, nil
	case []any:
		if len(v) != 1 {
			return nil, false, ErrMalformedDelegationProof
		}
		b, ok := v[0].([]byte)
		if !ok {
			return nil, false, ErrMalformedDelegationProof
		}
		return b, true, nil
	default:
		return nil, false, ErrMalformedDelegationProof
	}
}

// MarshalClaims encodes claims with the shared deterministic codec, for use
// as a COSE_Sign1 payload.
func MarshalClaims(claims any) ([]byte, error) {
	return cborcodec.Default.Marshal(claims)
}

// UnmarshalClaims decodes a COSE_Sign1 payload into claims.
func UnmarshalClaims(data []byte, claims any) error {
	return cborcodec.Default.Unmarshal(data, claims)
}
