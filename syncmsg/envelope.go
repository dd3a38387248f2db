package syncmsg

import (
	"errors"
	"fmt"

	"github.com/treecrdt/authsync/cborcodec"
)

// PayloadKind selects which field of an Envelope is populated.
type PayloadKind uint8

const (
	PayloadUnspecified PayloadKind = iota
	PayloadHello
	PayloadHelloAck
	PayloadRibltCodewords
	PayloadRibltStatus
	PayloadOpsBatch
	PayloadSubscribe
	PayloadSubscribeAck
	PayloadUnsubscribe
	PayloadError
)

// Version is the only SyncMessage envelope version this package emits or
// accepts.
const Version uint8 = 0

// ErrUnsupportedVersion is returned when decoding an envelope whose V
// field is not Version.
var ErrUnsupportedVersion = fmt.Errorf("syncmsg: unsupported envelope version")

// ErrPayloadKindMismatch is returned by the typed accessors (Hello(),
// OpsBatch(), ...) when called against an envelope carrying a different
// payload kind.
var ErrPayloadKindMismatch = errors.New("syncmsg: payload kind mismatch")

// Envelope is the `{v, doc_id, payload: oneof(...)}` framing every message
// in the sync session protocol travels in (spec.md §4.6, §6). Exactly one
// of the payload fields is populated, selected by Kind; a message with a
// DocId that does not match the session's document is dropped by the
// caller before an Envelope is even constructed.
type Envelope struct {
	V     uint8       `cbor:"v"`
	DocId string      `cbor:"doc_id"`
	Kind  PayloadKind `cbor:"kind"`

	Hello          *Hello          `cbor:"hello,omitempty"`
	HelloAck       *HelloAck       `cbor:"hello_ack,omitempty"`
	RibltCodewords *RibltCodewords `cbor:"riblt_codewords,omitempty"`
	RibltStatus    *RibltStatus    `cbor:"riblt_status,omitempty"`
	OpsBatch       *OpsBatch       `cbor:"ops_batch,omitempty"`
	Subscribe      *Subscribe      `cbor:"subscribe,omitempty"`
	SubscribeAck   *SubscribeAck   `cbor:"subscribe_ack,omitempty"`
	Unsubscribe    *Unsubscribe    `cbor:"unsubscribe,omitempty"`
	Error          *Error          `cbor:"error,omitempty"`
}

func NewHello(docId string, m Hello) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadHello, Hello: &m}
}

func NewHelloAck(docId string, m HelloAck) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadHelloAck, HelloAck: &m}
}

func NewRibltCodewords(docId string, m RibltCodewords) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadRibltCodewords, RibltCodewords: &m}
}

func NewRibltStatus(docId string, m RibltStatus) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadRibltStatus, RibltStatus: &m}
}

func NewOpsBatch(docId string, m OpsBatch) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadOpsBatch, OpsBatch: &m}
}

func NewSubscribe(docId string, m Subscribe) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadSubscribe, Subscribe: &m}
}

func NewSubscribeAck(docId string, m SubscribeAck) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadSubscribeAck, SubscribeAck: &m}
}

func NewUnsubscribe(docId string, m Unsubscribe) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadUnsubscribe, Unsubscribe: &m}
}

func NewError(docId string, m Error) Envelope {
	return Envelope{V: Version, DocId: docId, Kind: PayloadError, Error: &m}
}

// Encode renders the envelope as deterministic CBOR bytes.
func Encode(e Envelope) ([]byte, error) {
	return cborcodec.Default.Marshal(e)
}

// Decode parses bytes produced by Encode, rejecting any envelope version
// this package does not speak.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := cborcodec.Default.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.V != Version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.V)
	}
	return e, nil
}

// AsHello returns the envelope's Hello payload, or ErrPayloadKindMismatch
// if Kind is not PayloadHello.
func (e Envelope) AsHello() (Hello, error) {
	if e.Kind != PayloadHello || e.Hello == nil {
		return Hello{}, ErrPayloadKindMismatch
	}
	return *e.Hello, nil
}

// AsHelloAck returns the envelope's HelloAck payload.
func (e Envelope) AsHelloAck() (HelloAck, error) {
	if e.Kind != PayloadHelloAck || e.HelloAck == nil {
		return HelloAck{}, ErrPayloadKindMismatch
	}
	return *e.HelloAck, nil
}

// AsRibltCodewords returns the envelope's RibltCodewords payload.
func (e Envelope) AsRibltCodewords() (RibltCodewords, error) {
	if e.Kind != PayloadRibltCodewords || e.RibltCodewords == nil {
		return RibltCodewords{}, ErrPayloadKindMismatch
	}
	return *e.RibltCodewords, nil
}

// AsRibltStatus returns the envelope's RibltStatus payload.
func (e Envelope) AsRibltStatus() (RibltStatus, error) {
	if e.Kind != PayloadRibltStatus || e.RibltStatus == nil {
		return RibltStatus{}, ErrPayloadKindMismatch
	}
	return *e.RibltStatus, nil
}

// AsOpsBatch returns the envelope's OpsBatch payload.
func (e Envelope) AsOpsBatch() (OpsBatch, error) {
	if e.Kind != PayloadOpsBatch || e.OpsBatch == nil {
		return OpsBatch{}, ErrPayloadKindMismatch
	}
	return *e.OpsBatch, nil
}

// AsSubscribe returns the envelope's Subscribe payload.
func (e Envelope) AsSubscribe() (Subscribe, error) {
	if e.Kind != PayloadSubscribe || e.Subscribe == nil {
		return Subscribe{}, ErrPayloadKindMismatch
	}
	return *e.Subscribe, nil
}

// AsSubscribeAck returns the envelope's SubscribeAck payload.
func (e Envelope) AsSubscribeAck() (SubscribeAck, error) {
	if e.Kind != PayloadSubscribeAck || e.SubscribeAck == nil {
		return SubscribeAck{}, ErrPayloadKindMismatch
	}
	return *e.SubscribeAck, nil
}

// AsUnsubscribe returns the envelope's Unsubscribe payload.
func (e Envelope) AsUnsubscribe() (Unsubscribe, error) {
	if e.Kind != PayloadUnsubscribe || e.Unsubscribe == nil {
		return Unsubscribe{}, ErrPayloadKindMismatch
	}
	return *e.Unsubscribe, nil
}

// AsError returns the envelope's Error payload.
func (e Envelope) AsError() (Error, error) {
	if e.Kind != PayloadError || e.Error == nil {
		return Error{}, ErrPayloadKindMismatch
	}
	return *e.Error, nil
}
