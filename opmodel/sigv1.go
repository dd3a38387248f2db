package opmodel

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when encoding a signing input for a Kind this
// package does not recognize.
var ErrUnknownKind = errors.New("opmodel: unknown operation kind")

const (
	sigDomain     = "treecrdt/op-sig/v1"
	sigVersionTag = 0x00
)

// SigningInput builds the canonical, length-prefixed byte string that is
// the only input ever fed to Ed25519 for an operation's signature
// (spec.md §4.1). It is stable across peers: two peers holding the same
// Operation for the same doc_id always compute identical bytes.
func SigningInput(docId string, op *Operation) ([]byte, error) {
	var buf []byte
	buf = append(buf, []byte(sigDomain)...)
	buf = append(buf, sigVersionTag)
	buf = append(buf, beU32(uint32(len(docId)))...)
	buf = append(buf, []byte(docId)...)
	buf = append(buf, beU32(32)...)
	buf = append(buf, op.Meta.Id.Replica[:]...)
	buf = append(buf, beU64(op.Meta.Id.Counter)...)
	buf = append(buf, beU64(op.Meta.Lamport)...)
	buf = append(buf, byte(op.Kind))

	fields, err := kindFields(op)
	if err != nil {
		return nil, err
	}
	buf = append(buf, fields...)
	return buf, nil
}

func kindFields(op *Operation) ([]byte, error) {
	switch op.Kind {
	case KindInsert:
		var buf []byte
		buf = append(buf, op.Parent[:]...)
		buf = append(buf, op.Node[:]...)
		buf = append(buf, beU32(uint32(len(op.OrderKey)))...)
		buf = append(buf, op.OrderKey...)
		buf = append(buf, encodeOptionalPayload(op)...)
		return buf, nil
	case KindMove:
		var buf []byte
		buf = append(buf, op.Node[:]...)
		buf = append(buf, op.NewParent[:]...)
		buf = append(buf, beU32(uint32(len(op.OrderKey)))...)
		buf = append(buf, op.OrderKey...)
		return buf, nil
	case KindDelete, KindTombstone:
		return append([]byte{}, op.Node[:]...), nil
	case KindPayload:
		var buf []byte
		buf = append(buf, op.Node[:]...)
		buf = append(buf, encodeOptionalPayload(op)...)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, op.Kind)
	}
}

func encodeOptionalPayload(op *Operation) []byte {
	if !op.HasPayload {
		return []byte{0}
	}
	buf := []byte{1}
	buf = append(buf, beU32(uint32(len(op.Payload)))...)
	buf = append(buf, op.Payload...)
	return buf
}
