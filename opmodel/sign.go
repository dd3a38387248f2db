package opmodel

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// SigSize is the width, in bytes, of an Ed25519 signature over an op's
// canonical signing input.
const SigSize = ed25519.SignatureSize

// ErrInvalidSignature is returned when an op signature fails verification.
var ErrInvalidSignature = errors.New("opmodel: invalid operation signature")

// Sign computes the Ed25519 signature over op's canonical op-sig-v1
// signing input. sk must be the private key of op.Meta.Id.Replica, though
// this function does not itself enforce that binding — callers that accept
// ops from other replicas must verify the signer's public key matches
// op.Meta.Id.Replica separately (spec.md §4.5 verify_ops).
func Sign(docId string, op *Operation, sk ed25519.PrivateKey) ([]byte, error) {
	input, err := SigningInput(docId, op)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(sk, input), nil
}

// Verify checks sig against op's canonical signing input under pub.
func Verify(docId string, op *Operation, pub ed25519.PublicKey, sig []byte) error {
	input, err := SigningInput(docId, op)
	if err != nil {
		return err
	}
	if len(sig) != SigSize {
		return fmt.Errorf("%w: bad signature length %d", ErrInvalidSignature, len(sig))
	}
	if !ed25519.Verify(pub, input, sig) {
		return ErrInvalidSignature
	}
	return nil
}
