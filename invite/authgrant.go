package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const authGrantType = "auth_grant_v1"

// AuthGrant is the in-band broadcast a peer posts once it has issued or
// forwarded a capability token for another replica (spec.md §6): unlike
// Payload, it carries no private key material, since the recipient is
// assumed to already hold its own identity and is only being told which
// token now authorizes it.
type AuthGrant struct {
	T                    string   `json:"t"`
	DocId                string   `json:"doc_id"`
	ToReplicaPkHex       string   `json:"to_replica_pk_hex"`
	IssuerPkB64          string   `json:"issuer_pk_b64"`
	TokenB64             string   `json:"token_b64"`
	SupersedesTokenIdsHex []string `json:"supersedes_token_ids_hex,omitempty"`
	PayloadKeyB64        string   `json:"payload_key_b64,omitempty"`
	FromPeerId           string   `json:"from_peer_id"`
	Ts                   int64    `json:"ts"`
}

// NewAuthGrant builds an AuthGrant announcing token for toReplicaPk.
// supersedesTokenIds names token ids (keyid.TokenId output) this grant
// revokes-by-replacement, if any; ts is the caller's current unix-seconds
// clock reading (stamped by the caller, not this package, so it is
// reproducible in tests).
func NewAuthGrant(docId string, toReplicaPk ed25519.PublicKey, issuerPk ed25519.PublicKey, token []byte, supersedesTokenIds [][16]byte, payloadKey *[32]byte, fromPeerId string, ts int64) AuthGrant {
	g := AuthGrant{
		T:              authGrantType,
		DocId:          docId,
		ToReplicaPkHex: hex.EncodeToString(toReplicaPk),
		IssuerPkB64:    base64.StdEncoding.EncodeToString(issuerPk),
		TokenB64:       base64.StdEncoding.EncodeToString(token),
		FromPeerId:     fromPeerId,
		Ts:             ts,
	}
	for _, id := range supersedesTokenIds {
		g.SupersedesTokenIdsHex = append(g.SupersedesTokenIdsHex, hex.EncodeToString(id[:]))
	}
	if payloadKey != nil {
		g.PayloadKeyB64 = base64.StdEncoding.EncodeToString(payloadKey[:])
	}
	return g
}

// EncodeAuthGrant renders g as JSON bytes for transport as an in-band
// broadcast message.
func EncodeAuthGrant(g AuthGrant) ([]byte, error) {
	return json.Marshal(g)
}

// DecodeAuthGrant parses bytes produced by EncodeAuthGrant.
func DecodeAuthGrant(b []byte) (AuthGrant, error) {
	var g AuthGrant
	if err := json.Unmarshal(b, &g); err != nil {
		return AuthGrant{}, fmt.Errorf("invite: unmarshaling auth grant: %w", err)
	}
	if g.T != authGrantType {
		return AuthGrant{}, fmt.Errorf("%w: %q", ErrWrongType, g.T)
	}
	return g, nil
}

// ToReplicaPublicKey decodes g's to_replica_pk_hex field.
func (g AuthGrant) ToReplicaPublicKey() (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(g.ToReplicaPkHex)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding to_replica_pk_hex: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

// IssuerPublicKey decodes g's issuer_pk_b64 field.
func (g AuthGrant) IssuerPublicKey() (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(g.IssuerPkB64)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding issuer_pk_b64: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

// Token decodes g's token_b64 field into the raw COSE_Sign1 envelope.
func (g AuthGrant) Token() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(g.TokenB64)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding token_b64: %w", err)
	}
	return b, nil
}

// SupersedesTokenIds decodes g's supersedes_token_ids_hex field.
func (g AuthGrant) SupersedesTokenIds() ([][16]byte, error) {
	out := make([][16]byte, len(g.SupersedesTokenIdsHex))
	for i, h := range g.SupersedesTokenIdsHex {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invite: decoding supersedes_token_ids_hex[%d]: %w", i, err)
		}
		if len(b) != 16 {
			return nil, fmt.Errorf("invite: supersedes_token_ids_hex[%d] is %d bytes, want 16", i, len(b))
		}
		copy(out[i][:], b)
	}
	return out, nil
}

// PayloadKey decodes g's payload_key_b64 field, if present.
func (g AuthGrant) PayloadKey() (key [32]byte, ok bool, err error) {
	if g.PayloadKeyB64 == "" {
		return [32]byte{}, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(g.PayloadKeyB64)
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("invite: decoding payload_key_b64: %w", err)
	}
	if len(b) != 32 {
		return [32]byte{}, false, fmt.Errorf("invite: payload_key_b64 is %d bytes, want 32", len(b))
	}
	copy(key[:], b)
	return key, true, nil
}
