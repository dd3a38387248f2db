package keystore

import "crypto/ed25519"

const (
	kindIssuerKey      = "issuer-key-v1"
	kindReplicaIdentity = "replica-identity-v1"
	kindPayloadKey     = "payload-key-v1"
	kindIdentityChain  = "identity-chain-v1"
)

// issuerKeyBlob is the payload sealed under the issuer-key-v1 purpose.
type issuerKeyBlob struct {
	IssuerSk ed25519.PrivateKey `cbor:"issuer_sk"`
}

// PutIssuerSk seals docId's issuer signing key.
func (s *Store) PutIssuerSk(docId string, issuerSk ed25519.PrivateKey) error {
	return s.putSealed(docId, kindIssuerKey, "", kindIssuerKey, issuerKeyBlob{IssuerSk: issuerSk})
}

// GetIssuerSk loads docId's issuer signing key.
func (s *Store) GetIssuerSk(docId string) (ed25519.PrivateKey, error) {
	var blob issuerKeyBlob
	if err := s.getSealed(docId, kindIssuerKey, "", kindIssuerKey, &blob); err != nil {
		return nil, err
	}
	return blob.IssuerSk, nil
}

// ReplicaIdentity is the per-(doc, replica label) local secret bundle: the
// replica's own signing key and the capability tokens it has accumulated.
type ReplicaIdentity struct {
	ReplicaSk   ed25519.PrivateKey `cbor:"replica_sk"`
	LocalTokens [][]byte           `cbor:"local_tokens"`
}

// PutReplicaIdentity seals identity under (docId, replicaLabel).
func (s *Store) PutReplicaIdentity(docId, replicaLabel string, identity ReplicaIdentity) error {
	return s.putSealed(docId, kindReplicaIdentity, replicaLabel, kindReplicaIdentity, identity)
}

// GetReplicaIdentity loads the identity sealed under (docId, replicaLabel).
func (s *Store) GetReplicaIdentity(docId, replicaLabel string) (ReplicaIdentity, error) {
	var identity ReplicaIdentity
	if err := s.getSealed(docId, kindReplicaIdentity, replicaLabel, kindReplicaIdentity, &identity); err != nil {
		return ReplicaIdentity{}, err
	}
	return identity, nil
}

type payloadKeyBlob struct {
	Key [32]byte `cbor:"key"`
}

// PutPayloadKey seals docId's payload encryption key.
func (s *Store) PutPayloadKey(docId string, key [32]byte) error {
	return s.putSealed(docId, kindPayloadKey, "", kindPayloadKey, payloadKeyBlob{Key: key})
}

// GetPayloadKey loads docId's payload encryption key.
func (s *Store) GetPayloadKey(docId string) ([32]byte, error) {
	var blob payloadKeyBlob
	if err := s.getSealed(docId, kindPayloadKey, "", kindPayloadKey, &blob); err != nil {
		return [32]byte{}, err
	}
	return blob.Key, nil
}

// IdentityChain lets a replica prove its key is authorized by an
// identity -> device -> replica chain of short COSE certificates
// (spec.md §4.8).
type IdentityChain struct {
	IdentityPub  ed25519.PublicKey `cbor:"identity_pub"`
	DeviceCert   []byte            `cbor:"device_cert"`
	ReplicaCert  []byte            `cbor:"replica_cert"`
}

// PutIdentityChain seals the identity chain for (docId, replicaLabel).
func (s *Store) PutIdentityChain(docId, replicaLabel string, chain IdentityChain) error {
	return s.putSealed(docId, kindIdentityChain, replicaLabel, kindIdentityChain, chain)
}

// GetIdentityChain loads the identity chain sealed for (docId, replicaLabel).
func (s *Store) GetIdentityChain(docId, replicaLabel string) (IdentityChain, error) {
	var chain IdentityChain
	if err := s.getSealed(docId, kindIdentityChain, replicaLabel, kindIdentityChain, &chain); err != nil {
		return IdentityChain{}, err
	}
	return chain, nil
}
