// Package revocation implements signed capability-token revocation records
// and the deterministic table peers use to accumulate and resolve them
// (spec.md §4.4).
package revocation

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/treecrdt/authsync/cose"
	"github.com/treecrdt/authsync/opmodel"
)

// Mode selects how a revocation record cuts off ops signed under a token.
type Mode string

const (
	// ModeHard revokes every op ever signed under the token.
	ModeHard Mode = "hard"
	// ModeWriteCutover revokes ops at or beyond a (replica, counter)
	// threshold, leaving earlier ops valid.
	ModeWriteCutover Mode = "write_cutover"
)

const recordType = "treecrdt/revocation/v1"

// Record is the CBOR claim set a revocation COSE_Sign1 envelope carries.
// Field names are the literal map keys; spec.md §3 requires unknown keys
// to be rejected, so decoding goes through decodeStrict rather than a bare
// cbor.Unmarshal.
type Record struct {
	V                    uint8             `cbor:"v"`
	T                    string            `cbor:"t"`
	DocId                string            `cbor:"doc_id"`
	TokenId              [16]byte          `cbor:"token_id"`
	Mode                 Mode              `cbor:"mode"`
	RevSeq               uint32            `cbor:"rev_seq"`
	Iat                  *uint64           `cbor:"iat,omitempty"`
	EffectiveFromCounter *uint64           `cbor:"effective_from_counter,omitempty"`
	EffectiveFromReplica *opmodel.ReplicaId `cbor:"effective_from_replica,omitempty"`
}

var allowedKeys = map[string]bool{
	"v": true, "t": true, "doc_id": true, "token_id": true, "mode": true,
	"rev_seq": true, "iat": true, "effective_from_counter": true,
	"effective_from_replica": true,
}

var (
	// ErrUnknownKey is returned when a revocation record's CBOR map
	// contains a key this version does not recognize — notably
	// "effective_from_lamport", which spec.md §9 flags as experimental
	// and explicitly out of scope for the strict parser.
	ErrUnknownKey = errors.New("revocation: unknown claim key")
	// ErrBadType is returned when the record's "t" field is not the
	// expected revocation record type string.
	ErrBadType = errors.New("revocation: unexpected record type")
	// ErrBadVersion is returned when "v" is not 1.
	ErrBadVersion = errors.New("revocation: unsupported record version")
	// ErrMissingCutover is returned when mode=write_cutover lacks
	// effective_from_counter, or effective_from_replica is set without it.
	ErrMissingCutover = errors.New("revocation: write_cutover requires effective_from_counter")
	// ErrBadMode is returned for an unrecognized mode value.
	ErrBadMode = errors.New("revocation: unrecognized mode")
	// ErrUnverified is returned when no issuer key verifies the envelope.
	ErrUnverified = errors.New("revocation: no issuer key verifies this record")
)

func validate(r *Record) error {
	if r.V != 1 {
		return fmt.Errorf("%w: %d", ErrBadVersion, r.V)
	}
	if r.T != recordType {
		return fmt.Errorf("%w: %q", ErrBadType, r.T)
	}
	switch r.Mode {
	case ModeHard:
	case ModeWriteCutover:
		if r.EffectiveFromCounter == nil {
			return ErrMissingCutover
		}
	default:
		return fmt.Errorf("%w: %q", ErrBadMode, r.Mode)
	}
	return nil
}

// Issue signs a new revocation record with issuerSk.
func Issue(issuerSk ed25519.PrivateKey, docId string, tokenId [16]byte, mode Mode, revSeq uint32, opts ...Option) ([]byte, error) {
	o := applyOptions(opts)
	r := Record{
		V:                    1,
		T:                    recordType,
		DocId:                docId,
		TokenId:              tokenId,
		Mode:                 mode,
		RevSeq:               revSeq,
		Iat:                  o.iat,
		EffectiveFromCounter: o.effectiveFromCounter,
		EffectiveFromReplica: o.effectiveFromReplica,
	}
	if err := validate(&r); err != nil {
		return nil, err
	}
	payload, err := cose.MarshalClaims(r)
	if err != nil {
		return nil, fmt.Errorf("revocation: marshaling claims: %w", err)
	}
	return cose.Sign(payload, issuerSk, nil)
}

// Option configures an issued revocation record.
type Option func(*options)

type options struct {
	iat                  *uint64
	effectiveFromCounter *uint64
	effectiveFromReplica *opmodel.ReplicaId
}

func applyOptions(opts []Option) options {
	var o options
	for _, f := range opts {
		f(&o)
	}
	return o
}

// WithIssuedAt sets the iat claim.
func WithIssuedAt(sec uint64) Option { return func(o *options) { o.iat = &sec } }

// WithEffectiveFromCounter sets the write_cutover counter threshold.
func WithEffectiveFromCounter(counter uint64) Option {
	return func(o *options) { o.effectiveFromCounter = &counter }
}

// WithEffectiveFromReplica narrows a write_cutover to a single replica.
func WithEffectiveFromReplica(replica opmodel.ReplicaId) Option {
	return func(o *options) { o.effectiveFromReplica = &replica }
}

// Parse decodes and verifies a revocation envelope against issuers,
// rejecting unknown claim keys and structurally invalid records. It
// returns the record and the raw envelope bytes (needed for tie-break
// comparisons and for TokenId-of-the-*capability*-token, which the caller
// supplies separately — TokenId here is the capability token being
// revoked, not this record's own id).
func Parse(envelope []byte, issuers []ed25519.PublicKey) (Record, error) {
	msg, err := cose.Parse(envelope)
	if err != nil {
		return Record{}, err
	}

	var raw map[string]cbor.RawMessage
	if err := cose.UnmarshalClaims(msg.Payload, &raw); err != nil {
		return Record{}, fmt.Errorf("revocation: decoding claims: %w", err)
	}
	for k := range raw {
		if !allowedKeys[k] {
			return Record{}, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
	}

	var r Record
	if err := cose.UnmarshalClaims(msg.Payload, &r); err != nil {
		return Record{}, fmt.Errorf("revocation: decoding record: %w", err)
	}
	if err := validate(&r); err != nil {
		return Record{}, err
	}

	verified := false
	for _, pub := range issuers {
		if err := msg.Verify(pub); err == nil {
			verified = true
			break
		}
	}
	if !verified {
		return Record{}, ErrUnverified
	}
	return r, nil
}
