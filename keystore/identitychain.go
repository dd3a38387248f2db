package keystore

import (
	"crypto/ed25519"
	"fmt"

	"github.com/treecrdt/authsync/cose"
	"github.com/treecrdt/authsync/keyid"
)

// identityChainClaims is the COSE_Sign1 payload shared by a device
// certificate and a replica certificate: it echoes the capability token's
// own cnf{pub,kid} confirmation-method shape so a verifier that already
// knows how to read a Cnf can read a certificate the same way.
type identityChainClaims struct {
	Cnf identityCnf `cbor:"8,keyasint"`
}

type identityCnf struct {
	Pub [32]byte `cbor:"pub"`
	Kid [16]byte `cbor:"kid"`
}

func cnfFor(pub ed25519.PublicKey) identityCnf {
	var c identityCnf
	copy(c.Pub[:], pub)
	c.Kid = keyid.KeyId(pub)
	return c
}

// IssueIdentityChain signs a two-level identity -> device -> replica
// certificate chain (spec.md §4.8): identitySk signs a device certificate
// binding devicePub, and deviceSk signs a replica certificate binding
// replicaPub. Either link can be verified independently by checking its
// cnf.pub against the signer's counterpart public key, without needing the
// whole chain at once.
func IssueIdentityChain(identitySk ed25519.PrivateKey, devicePub ed25519.PublicKey, deviceSk ed25519.PrivateKey, replicaPub ed25519.PublicKey) (IdentityChain, error) {
	devicePayload, err := cose.MarshalClaims(identityChainClaims{Cnf: cnfFor(devicePub)})
	if err != nil {
		return IdentityChain{}, fmt.Errorf("keystore: marshaling device cert claims: %w", err)
	}
	deviceCert, err := cose.Sign(devicePayload, identitySk, nil)
	if err != nil {
		return IdentityChain{}, fmt.Errorf("keystore: signing device cert: %w", err)
	}

	replicaPayload, err := cose.MarshalClaims(identityChainClaims{Cnf: cnfFor(replicaPub)})
	if err != nil {
		return IdentityChain{}, fmt.Errorf("keystore: marshaling replica cert claims: %w", err)
	}
	replicaCert, err := cose.Sign(replicaPayload, deviceSk, nil)
	if err != nil {
		return IdentityChain{}, fmt.Errorf("keystore: signing replica cert: %w", err)
	}

	identityPub, ok := identitySk.Public().(ed25519.PublicKey)
	if !ok {
		return IdentityChain{}, fmt.Errorf("keystore: identity key is not Ed25519")
	}

	return IdentityChain{
		IdentityPub: identityPub,
		DeviceCert:  deviceCert,
		ReplicaCert: replicaCert,
	}, nil
}

// VerifyIdentityChain checks that chain's device certificate is signed by
// chain.IdentityPub and binds devicePub, and that the replica certificate is
// signed by devicePub and binds replicaPub.
func VerifyIdentityChain(chain IdentityChain, devicePub, replicaPub ed25519.PublicKey) error {
	deviceMsg, err := cose.Parse(chain.DeviceCert)
	if err != nil {
		return fmt.Errorf("keystore: parsing device cert: %w", err)
	}
	if err := deviceMsg.Verify(chain.IdentityPub); err != nil {
		return fmt.Errorf("keystore: verifying device cert: %w", err)
	}
	var deviceClaims identityChainClaims
	if err := cose.UnmarshalClaims(deviceMsg.Payload, &deviceClaims); err != nil {
		return fmt.Errorf("keystore: decoding device cert claims: %w", err)
	}
	if deviceClaims.Cnf != cnfFor(devicePub) {
		return ErrIdentityChainMismatch
	}

	replicaMsg, err := cose.Parse(chain.ReplicaCert)
	if err != nil {
		return fmt.Errorf("keystore: parsing replica cert: %w", err)
	}
	if err := replicaMsg.Verify(devicePub); err != nil {
		return fmt.Errorf("keystore: verifying replica cert: %w", err)
	}
	var replicaClaims identityChainClaims
	if err := cose.UnmarshalClaims(replicaMsg.Payload, &replicaClaims); err != nil {
		return fmt.Errorf("keystore: decoding replica cert claims: %w", err)
	}
	if replicaClaims.Cnf != cnfFor(replicaPub) {
		return ErrIdentityChainMismatch
	}
	return nil
}
