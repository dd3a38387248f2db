// Package invite implements the two out-of-band/in-band ways a capability
// reaches a new replica (spec.md §6): a self-contained invite payload
// carried in a URL fragment or clipboard text, and an in-band auth-grant
// broadcast a peer posts once it has issued or forwarded a token for
// another replica. Unlike the capability tokens themselves (COSE_Sign1
// over CBOR), these are JSON: they are meant to be pasted into a browser
// address bar or relayed through arbitrary signaling channels that may not
// preserve binary framing.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only invite payload version this package emits or
// accepts.
const Version = 1

// ErrUnsupportedVersion is returned by ParsePayload when the decoded
// payload's V field is not Version.
var ErrUnsupportedVersion = errors.New("invite: unsupported payload version")

// ErrWrongType is returned by ParsePayload/ParseAuthGrant when the decoded
// JSON carries a `t` discriminant this function does not handle.
var ErrWrongType = errors.New("invite: wrong message type")

const payloadType = "invite"

// Payload is the out-of-band invite (spec.md §6): everything a brand-new
// replica needs to start syncing a document without ever talking to the
// issuer directly. SubjectSk is the private half of the keypair the token
// was issued to — the invite hands over both the capability and the
// identity it names, so the recipient can sign ops immediately.
type Payload struct {
	V            int    `json:"v"`
	T            string `json:"t"`
	DocId        string `json:"doc_id"`
	IssuerPkB64  string `json:"issuer_pk_b64"`
	SubjectSkB64 string `json:"subject_sk_b64"`
	TokenB64     string `json:"token_b64"`
	PayloadKeyB64 string `json:"payload_key_b64,omitempty"`
}

// New builds an invite Payload for docId, binding subjectSk's public key
// as the token's subject. token is the COSE_Sign1 envelope produced by
// captoken.IssueCapabilityToken (or a delegated variant); payloadKey, if
// non-nil, is the document's symmetric payload-encryption key (spec.md
// §4.8) so the new replica can decrypt existing payloads without a
// separate out-of-band step.
func New(docId string, issuerPk ed25519.PublicKey, subjectSk ed25519.PrivateKey, token []byte, payloadKey *[32]byte) Payload {
	p := Payload{
		V:            Version,
		T:            payloadType,
		DocId:        docId,
		IssuerPkB64:  base64.StdEncoding.EncodeToString(issuerPk),
		SubjectSkB64: base64.StdEncoding.EncodeToString(subjectSk),
		TokenB64:     base64.StdEncoding.EncodeToString(token),
	}
	if payloadKey != nil {
		p.PayloadKeyB64 = base64.StdEncoding.EncodeToString(payloadKey[:])
	}
	return p
}

// Encode renders p as a base64url string suitable for a `#invite=<b64>` URL
// fragment or clipboard text.
func Encode(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("invite: marshaling payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses a string produced by Encode.
func Decode(s string) (Payload, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("invite: decoding base64url: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("invite: unmarshaling payload: %w", err)
	}
	if p.V != Version {
		return Payload{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.V)
	}
	if p.T != payloadType {
		return Payload{}, fmt.Errorf("%w: %q", ErrWrongType, p.T)
	}
	return p, nil
}

// IssuerPublicKey decodes p's issuer_pk_b64 field.
func (p Payload) IssuerPublicKey() (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(p.IssuerPkB64)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding issuer_pk_b64: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

// SubjectPrivateKey decodes p's subject_sk_b64 field.
func (p Payload) SubjectPrivateKey() (ed25519.PrivateKey, error) {
	b, err := base64.StdEncoding.DecodeString(p.SubjectSkB64)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding subject_sk_b64: %w", err)
	}
	return ed25519.PrivateKey(b), nil
}

// Token decodes p's token_b64 field into the raw COSE_Sign1 envelope.
func (p Payload) Token() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(p.TokenB64)
	if err != nil {
		return nil, fmt.Errorf("invite: decoding token_b64: %w", err)
	}
	return b, nil
}

// PayloadKey decodes p's payload_key_b64 field, if present.
func (p Payload) PayloadKey() (key [32]byte, ok bool, err error) {
	if p.PayloadKeyB64 == "" {
		return [32]byte{}, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(p.PayloadKeyB64)
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("invite: decoding payload_key_b64: %w", err)
	}
	if len(b) != 32 {
		return [32]byte{}, false, fmt.Errorf("invite: payload_key_b64 is %d bytes, want 32", len(b))
	}
	copy(key[:], b)
	return key, true, nil
}
