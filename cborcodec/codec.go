// Package cborcodec provides the deterministic (RFC 8949 CDE) CBOR encode
// and decode options shared by every on-disk and on-wire structure in
// authsync: capability tokens, revocation records, operations and sync
// messages all marshal through the same codec so that two peers which agree
// on bytes also agree on meaning.
package cborcodec

import "github.com/fxamacker/cbor/v2"

// EncOptions are the deterministic encoding options used throughout
// authsync. Canonical, shortest-form, sorted-map-keys encoding is required
// so that signatures computed over CBOR bytes are reproducible across
// peers and across Go/non-Go implementations.
var EncOptions = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	NaNConvert:  cbor.NaNConvertNone,
	InfConvert:  cbor.InfConvertNone,
	IndefLength: cbor.IndefLengthForbidden,
	BigIntConvert: cbor.BigIntConvertNone,
}

// DecOptions are the matching decode options: duplicate map keys are
// rejected, indefinite-length items are rejected, and integers are decoded
// without silently losing sign information.
var DecOptions = cbor.DecOptions{
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	IndefLength: cbor.IndefLengthForbidden,
	IntDec:      cbor.IntDecConvertNone,
	TagsMd:      cbor.TagsForbidden,
}

// Codec bundles a matched deterministic encode/decode mode pair.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// New builds a Codec from EncOptions/DecOptions. It is cheap enough to call
// per-component rather than sharing a package-level singleton, matching the
// teacher's NewCBORCodec constructor shape.
func New() (Codec, error) {
	enc, err := EncOptions.EncMode()
	if err != nil {
		return Codec{}, err
	}
	dec, err := DecOptions.DecMode()
	if err != nil {
		return Codec{}, err
	}
	return Codec{enc: enc, dec: dec}, nil
}

// Marshal encodes v using the deterministic encoding options.
func (c Codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal decodes data into v using the strict decode options.
func (c Codec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

// Default is a package-level ready-to-use Codec; constructing it can only
// fail if the option sets above are self-inconsistent, which is a
// programming error, so we panic at init like the teacher's package-level
// option vars do.
var Default = mustNew()

func mustNew() Codec {
	c, err := New()
	if err != nil {
		panic("cborcodec: invalid deterministic option set: " + err.Error())
	}
	return c
}
